package pipeline

import (
	"errors"
	"strings"

	"structurecraft.ai/internal/build"
	"structurecraft.ai/internal/protocol"
	"structurecraft.ai/internal/reply"
	"structurecraft.ai/internal/script"
	"structurecraft.ai/internal/scriptstore"
)

// FailureMessage renders err as the single line shown to a user:
// "build failed: <reason>: <snippet>". The snippet is the offending document
// when there is one, else the underlying error, bounded to 800 characters.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	detail := reply.Truncate(err.Error(), reply.DefaultSnippetLimit)
	var de *script.DocumentError
	if errors.As(err, &de) && strings.TrimSpace(de.Snippet) != "" {
		detail = de.Snippet // already bounded
	}
	return "build failed: " + Reason(err) + ": " + strings.Join(strings.Fields(detail), " ")
}

// Reason names the failure class of err.
func Reason(err error) string {
	switch {
	case errors.Is(err, script.ErrMalformedDocument):
		return "malformed document"
	case errors.Is(err, script.ErrSchemaMismatch):
		return "schema mismatch"
	case errors.Is(err, build.ErrEmptyScript):
		return "empty script"
	case errors.Is(err, ErrTooLarge):
		return "script too large"
	case errors.Is(err, ErrLLM):
		return "llm request failed"
	case errors.Is(err, scriptstore.ErrNotFound):
		return "script not found"
	case errors.Is(err, ErrNoSource), errors.Is(err, scriptstore.ErrInvalidName):
		return "bad request"
	default:
		return "internal error"
	}
}

// Code maps err onto a protocol error code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, script.ErrMalformedDocument):
		return protocol.ErrMalformedDocument
	case errors.Is(err, script.ErrSchemaMismatch):
		return protocol.ErrSchemaMismatch
	case errors.Is(err, build.ErrEmptyScript):
		return protocol.ErrEmptyScript
	case errors.Is(err, ErrTooLarge):
		return protocol.ErrTooLarge
	case errors.Is(err, ErrLLM):
		return protocol.ErrLLM
	case errors.Is(err, scriptstore.ErrNotFound):
		return protocol.ErrNotFound
	case errors.Is(err, ErrNoSource), errors.Is(err, scriptstore.ErrInvalidName):
		return protocol.ErrBadRequest
	default:
		return protocol.ErrInternal
	}
}
