package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"structurecraft.ai/internal/config"
	"structurecraft.ai/internal/reply"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	URL         string
	APIKey      string
	Model       string
	Temperature float64

	http   *http.Client
	logger *zap.Logger
}

func NewOpenAI(cfg config.LLM, logger *zap.Logger) *OpenAI {
	return &OpenAI{
		URL:         cfg.APIURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		http:        &http.Client{Timeout: cfg.Timeout()},
		logger:      logger.Named("openai"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (Reply, error) {
	body, err := json.Marshal(chatRequest{
		Model: o.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		Temperature:    o.Temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return Reply{}, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.URL, bytes.NewReader(body))
	if err != nil {
		return Reply{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(o.APIKey); key != "" {
		hreq.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := o.http.Do(hreq)
	if err != nil {
		return Reply{}, fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Reply{}, fmt.Errorf("llm response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		o.logger.Error("llm failed", zap.Int("status", resp.StatusCode), zap.String("body", reply.Truncate(string(raw), 0)))
		return Reply{}, fmt.Errorf("llm status %d: %s", resp.StatusCode, reply.Truncate(strings.TrimSpace(string(raw)), 300))
	}
	o.logger.Debug("llm raw response", zap.String("body", reply.Truncate(string(raw), 0)))

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return Reply{}, fmt.Errorf("llm response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return Reply{}, ErrNoContent
	}
	msg := cr.Choices[0].Message
	if msg == nil || msg.Content == nil {
		return Reply{}, fmt.Errorf("%w: missing message.content", ErrNoContent)
	}
	model := cr.Model
	if model == "" {
		model = o.Model
	}
	return Reply{Content: *msg.Content, Model: model, Provider: "openai"}, nil
}
