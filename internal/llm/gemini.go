package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"structurecraft.ai/internal/config"
	"structurecraft.ai/internal/reply"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini uses the Gemini API with a JSON response MIME type.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
	timeout     time.Duration
	logger      *zap.Logger
}

// NewGemini builds a client. An empty api key falls back to GEMINI_API_KEY
// or GOOGLE_API_KEY inside genai.
func NewGemini(ctx context.Context, cfg config.LLM, logger *zap.Logger) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	// An api_url pointing elsewhere than the OpenAI default acts as base URL override.
	if u := strings.TrimSpace(cfg.APIURL); u != "" && u != config.DefaultAPIURL {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: u}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" || model == config.DefaultModel {
		model = defaultGeminiModel
	}
	return &Gemini{
		client:      client,
		model:       model,
		temperature: float32(cfg.Temperature),
		timeout:     cfg.Timeout(),
		logger:      logger.Named("gemini"),
	}, nil
}

func (g *Gemini) Generate(ctx context.Context, req Request) (Reply, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	gc := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(g.temperature),
		ResponseMIMEType: "application/json",
	}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}, gc)
	if err != nil {
		return Reply{}, fmt.Errorf("llm request: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrNoContent
	}
	g.logger.Debug("llm raw response", zap.String("body", reply.Truncate(text, 0)))
	return Reply{Content: text, Model: g.model, Provider: "gemini"}, nil
}
