package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"P2S_API_URL", "P2S_API_KEY", "P2S_MODEL", "P2S_TIMEOUT_SECONDS", "P2S_PROMPT", "P2S_PROVIDER", "P2S_STORAGE"} {
		t.Setenv(k, "")
	}
}

func TestLoad_MissingFileWritesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "conf", "p2s.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIURL, cfg.LLM.APIURL)
	assert.Equal(t, DefaultModel, cfg.LLM.Model)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout())
	assert.Equal(t, []string{"default", "cozy_cabin", "modern_villa"}, cfg.PromptNames())
	assert.Equal(t, DefaultPromptName, cfg.ActivePrompt)

	_, err = os.Stat(path)
	require.NoError(t, err, "defaults should be written")

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Prompts, again.Prompts)
	assert.Equal(t, cfg.LLM, again.LLM)
}

func TestLoad_PromptListsAndFallbacks(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "p2s.yaml")
	doc := `
llm:
  model: local-model
  timeout_seconds: -4
prompts:
  tower:
    - "Build tall."
    - "Use stone."
  hut: "Build small."
active_prompt: missing
storage:
  backend: sqlite
  dir: /var/p2s
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "local-model", cfg.LLM.Model)
	assert.Equal(t, DefaultAPIURL, cfg.LLM.APIURL)
	assert.Equal(t, DefaultTimeout, cfg.LLM.TimeoutSeconds)
	assert.Equal(t, Prompt("Build tall.\nUse stone."), cfg.Prompts["tower"])
	assert.Equal(t, []string{"default", "hut", "tower"}, cfg.PromptNames())
	assert.Equal(t, DefaultPromptName, cfg.ActivePrompt)
	assert.Equal(t, DefaultSystemPrompt, cfg.SystemPrompt())
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, filepath.Join("/var/p2s", "index", "p2s.sqlite"), cfg.Storage.IndexPath())
	assert.Equal(t, filepath.Join("/var/p2s", "scripts"), cfg.Storage.ScriptsDir())
}

func TestLoad_InvalidFileReturnsDefaultsAndError(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "p2s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [unclosed"), 0o644))

	cfg, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "p2s.yaml")
	assert.Equal(t, DefaultModel, cfg.LLM.Model)
	assert.Len(t, cfg.Prompts, 3)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("values", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("P2S_API_URL", " http://llm:9000/v1/chat/completions ")
		t.Setenv("P2S_API_KEY", "sk-test")
		t.Setenv("P2S_MODEL", "m2")
		t.Setenv("P2S_TIMEOUT_SECONDS", "45")
		t.Setenv("P2S_PROVIDER", "Gemini")
		t.Setenv("P2S_STORAGE", "sqlite")
		t.Setenv("P2S_PROMPT", "modern_villa")

		cfg := Defaults()
		cfg.finish()
		assert.Equal(t, "http://llm:9000/v1/chat/completions", cfg.LLM.APIURL)
		assert.Equal(t, "sk-test", cfg.LLM.APIKey)
		assert.Equal(t, "m2", cfg.LLM.Model)
		assert.Equal(t, 45, cfg.LLM.TimeoutSeconds)
		assert.Equal(t, "gemini", cfg.LLM.Provider)
		assert.Equal(t, "sqlite", cfg.Storage.Backend)
		assert.Equal(t, "modern_villa", cfg.ActivePrompt)
	})

	t.Run("bad timeout and unknown prompt ignored", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("P2S_TIMEOUT_SECONDS", "soon")
		t.Setenv("P2S_PROMPT", "nope")

		cfg := Defaults()
		cfg.finish()
		assert.Equal(t, DefaultTimeout, cfg.LLM.TimeoutSeconds)
		assert.Equal(t, DefaultPromptName, cfg.ActivePrompt)
	})
}

func TestSetActivePrompt_RewritesOnlyThatKey(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "p2s.yaml")
	doc := "# local settings\nllm:\n  model: keep-me\nprompts:\n  default: hi\n  hut: small\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	_, err = cfg.SetActivePrompt("castle", true)
	require.ErrorIs(t, err, ErrUnknownPrompt)

	next, err := cfg.SetActivePrompt("hut", true)
	require.NoError(t, err)
	assert.Equal(t, "hut", next.ActivePrompt)
	assert.Equal(t, "small", next.SystemPrompt())
	assert.Equal(t, DefaultPromptName, cfg.ActivePrompt, "receiver must not change")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, "# local settings")
	assert.Contains(t, text, "active_prompt: hut")
	assert.NotContains(t, text, "api_url")

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hut", reloaded.ActivePrompt)
	assert.Equal(t, "keep-me", reloaded.LLM.Model)
}

func TestSource(t *testing.T) {
	clearEnv(t)
	cfg := Defaults()
	cfg.Path = "p2s.yaml"
	src := cfg.Source()
	assert.True(t, strings.HasPrefix(src, "config=/"))
	assert.Contains(t, src, "env(url/key/model)=false")
	assert.Contains(t, src, "activePrompt=default")
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "p2s.yaml")
	_, err := Load(path)
	require.NoError(t, err)

	got := make(chan Config, 4)
	w, err := NewWatcher(path, func(c Config) { got <- c }, zap.NewNop())
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	require.NoError(t, os.WriteFile(path, []byte("llm:\n  model: hot-model\n"), 0o644))

	select {
	case c := <-got:
		assert.Equal(t, "hot-model", c.LLM.Model)
		assert.Len(t, c.Prompts, 3)
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload observed")
	}
}

func TestWatcher_BadFileKeepsPrevious(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "p2s.yaml")
	_, err := Load(path)
	require.NoError(t, err)

	got := make(chan Config, 4)
	w, err := NewWatcher(path, func(c Config) { got <- c }, zap.NewNop())
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte("llm: [broken"), 0o644))
	select {
	case c := <-got:
		t.Fatalf("unexpected reload: %+v", c.LLM)
	case <-time.After(200 * time.Millisecond):
	}
	cancel()
	require.NoError(t, <-done)
}
