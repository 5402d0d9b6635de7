// Package scriptstore persists parsed scripts by name.
package scriptstore

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"structurecraft.ai/internal/script"
)

var (
	ErrNotFound    = errors.New("script not found")
	ErrInvalidName = errors.New("invalid script name")
)

// Store is the boundary between the interpreter and script persistence.
// Only parsed scripts cross it.
type Store interface {
	// Save stores s under name, or under a generated name when name is
	// empty, and returns the name actually used.
	Save(ctx context.Context, name string, s *script.Script, meta Meta) (string, error)
	Load(ctx context.Context, name string) (*script.Script, error)
	// List returns up to limit entries, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Info, error)
	Delete(ctx context.Context, name string) (bool, error)
}

// Meta travels with a saved script.
type Meta struct {
	Prompt  string `json:"prompt,omitempty"`
	Model   string `json:"model,omitempty"`
	Preset  string `json:"preset,omitempty"`
	Message string `json:"assistantMessage,omitempty"`
}

type Info struct {
	Name        string `json:"name"`
	TimestampMs int64  `json:"timestamp"`
	Prompt      string `json:"prompt"`
}

func (i Info) Time() time.Time { return time.UnixMilli(i.TimestampMs) }

const (
	maxNameLen  = 64
	maxTailLen  = 20
	defaultName = "script"
)

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// SanitizeName maps name onto [a-zA-Z0-9_-]{1,64}.
func SanitizeName(name string) string {
	cleaned := unsafeChars.ReplaceAllString(name, "_")
	if len(cleaned) > maxNameLen {
		cleaned = cleaned[:maxNameLen]
	}
	if strings.TrimSpace(cleaned) == "" {
		return defaultName
	}
	return cleaned
}

// GenerateName builds yyyyMMdd_HHmmss_<prompt tail> in now's location.
func GenerateName(prompt string, now time.Time) string {
	tail := []rune(spaceRuns.ReplaceAllString(prompt, "_"))
	if len(tail) > maxTailLen {
		tail = tail[:maxTailLen]
	}
	return SanitizeName(now.Format("20060102_150405") + "_" + string(tail))
}

// ValidName reports whether name is already in sanitized form.
func ValidName(name string) bool {
	return name != "" && SanitizeName(name) == name
}

// CollisionName is the name Save falls back to when name is taken at now.
func CollisionName(name string, now time.Time) string {
	return name + "_" + strconv.FormatInt(now.UnixMilli(), 10)
}
