// Package llm sends a system prompt and a user request to a chat model and
// returns the raw assistant message.
package llm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"structurecraft.ai/internal/config"
)

// ErrNoContent means the provider answered without a usable message.
var ErrNoContent = errors.New("llm returned no content")

type Request struct {
	System string
	Prompt string
}

type Reply struct {
	Content  string
	Model    string
	Provider string
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Reply, error)
}

// New picks a provider by cfg.Provider: openai (default), gemini or static.
func New(cfg config.LLM, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(cfg, logger), nil
	case "gemini":
		return NewGemini(context.Background(), cfg, logger)
	case "static":
		return Static{Content: `{"palette":{},"structure":[]}`}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// Static answers every request with Content.
type Static struct {
	Content string
	Model   string
}

func (s Static) Generate(ctx context.Context, _ Request) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	if s.Content == "" {
		return Reply{}, ErrNoContent
	}
	return Reply{Content: s.Content, Model: s.Model, Provider: "static"}, nil
}
