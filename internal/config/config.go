// Package config loads p2s.yaml, applies P2S_* environment overrides and
// hands out immutable Config values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath        = "p2s.yaml"
	DefaultAPIURL      = "http://localhost:8000/v1/chat/completions"
	DefaultModel       = "gpt-4o-mini"
	DefaultTimeout     = 30
	DefaultPromptName  = "default"
	DefaultTemperature = 0.4
	DefaultMaxVolume   = 262144
	placeholderAPIKey  = "replace-with-api-key"
)

var ErrUnknownPrompt = errors.New("unknown prompt")

type Config struct {
	LLM          LLM               `yaml:"llm"`
	Prompts      map[string]Prompt `yaml:"prompts"`
	ActivePrompt string            `yaml:"active_prompt"`
	Storage      Storage           `yaml:"storage"`
	Resolver     Resolver          `yaml:"resolver"`
	Limits       Limits            `yaml:"limits"`
	Catalog      Catalog           `yaml:"catalog"`
	Log          Log               `yaml:"log"`
	Mirror       Mirror            `yaml:"mirror"`

	// Path is the file the value was loaded from.
	Path string `yaml:"-"`
}

type LLM struct {
	Provider       string  `yaml:"provider"`
	APIURL         string  `yaml:"api_url"`
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	Temperature    float64 `yaml:"temperature"`
}

func (l LLM) Timeout() time.Duration { return time.Duration(l.TimeoutSeconds) * time.Second }

type Storage struct {
	// Backend is "file" or "sqlite".
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	DBPath  string `yaml:"db_path"`
	// Archive keeps a dated copy of every snapshot written.
	Archive bool `yaml:"archive_snapshots"`
}

func (s Storage) ScriptsDir() string { return filepath.Join(s.Dir, "scripts") }

func (s Storage) IndexPath() string {
	if s.DBPath != "" {
		return s.DBPath
	}
	return filepath.Join(s.Dir, "index", "p2s.sqlite")
}

type Resolver struct {
	Namespace string `yaml:"namespace"`
	Fallback  string `yaml:"fallback"`
}

type Limits struct {
	MaxVolume int64 `yaml:"max_volume"`
}

type Catalog struct {
	// Path to a blocks.json; empty uses the embedded catalog.
	Path string `yaml:"path"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Mirror struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Workers         int    `yaml:"workers"`
}

func Defaults() Config {
	return Config{
		LLM: LLM{
			Provider:       "openai",
			APIURL:         DefaultAPIURL,
			APIKey:         placeholderAPIKey,
			Model:          DefaultModel,
			TimeoutSeconds: DefaultTimeout,
			Temperature:    DefaultTemperature,
		},
		Prompts:      defaultPrompts(),
		ActivePrompt: DefaultPromptName,
		Storage:      Storage{Backend: "file", Dir: "p2s_data"},
		Resolver:     Resolver{Namespace: "minecraft", Fallback: "minecraft:stone"},
		Limits:       Limits{MaxVolume: DefaultMaxVolume},
		Log:          Log{Level: "info"},
		Mirror:       Mirror{Workers: 2},
	}
}

// Load reads path. A missing file is created with the defaults. A file that
// does not parse yields the defaults together with the parse error, so
// callers can log and carry on.
func Load(path string) (Config, error) {
	return load(path, true)
}

func load(path string, create bool) (Config, error) {
	cfg := Defaults()
	cfg.Path = path

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && create:
		err = cfg.Save(path)
		cfg.finish()
		return cfg, err
	case err != nil:
		cfg.finish()
		return cfg, err
	}

	file := Defaults()
	file.Prompts = nil
	if err := yaml.Unmarshal(raw, &file); err != nil {
		cfg.finish()
		return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	file.Path = path
	file.finish()
	return file, nil
}

func (c *Config) finish() {
	c.normalize()
	c.applyEnvOverrides()
	c.normalize()
}

func (c *Config) normalize() {
	d := Defaults()
	if len(c.Prompts) == 0 {
		c.Prompts = d.Prompts
	}
	if _, ok := c.Prompts[DefaultPromptName]; !ok {
		c.Prompts[DefaultPromptName] = Prompt(DefaultSystemPrompt)
	}
	if _, ok := c.Prompts[c.ActivePrompt]; !ok {
		c.ActivePrompt = DefaultPromptName
	}
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = d.LLM.Provider
	}
	if strings.TrimSpace(c.LLM.APIURL) == "" {
		c.LLM.APIURL = d.LLM.APIURL
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		c.LLM.Model = d.LLM.Model
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = d.LLM.TimeoutSeconds
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = d.Storage.Dir
	}
	if c.Resolver.Namespace == "" {
		c.Resolver.Namespace = d.Resolver.Namespace
	}
	if c.Resolver.Fallback == "" {
		c.Resolver.Fallback = d.Resolver.Fallback
	}
	if c.Limits.MaxVolume <= 0 {
		c.Limits.MaxVolume = d.Limits.MaxVolume
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

func (c *Config) applyEnvOverrides() {
	if v := env("P2S_API_URL"); v != "" {
		c.LLM.APIURL = v
	}
	if v := env("P2S_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := env("P2S_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := env("P2S_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.LLM.TimeoutSeconds = n
		}
	}
	if v := env("P2S_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := env("P2S_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := env("P2S_PROMPT"); v != "" {
		if _, ok := c.Prompts[v]; ok {
			c.ActivePrompt = v
		}
	}
	if v := env("P2S_MIRROR_ACCESS_KEY_ID"); v != "" {
		c.Mirror.AccessKeyID = v
	}
	if v := env("P2S_MIRROR_SECRET_ACCESS_KEY"); v != "" {
		c.Mirror.SecretAccessKey = v
	}
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }

// Save writes the whole config to path.
func (c Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// PromptNames lists preset names, default first then alphabetical.
func (c Config) PromptNames() []string {
	names := make([]string, 0, len(c.Prompts))
	for n := range c.Prompts {
		if n != DefaultPromptName {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	if _, ok := c.Prompts[DefaultPromptName]; ok {
		names = append([]string{DefaultPromptName}, names...)
	}
	return names
}

// SystemPrompt is the text of the active preset.
func (c Config) SystemPrompt() string {
	if p, ok := c.Prompts[c.ActivePrompt]; ok {
		return string(p)
	}
	if p, ok := c.Prompts[DefaultPromptName]; ok {
		return string(p)
	}
	return DefaultSystemPrompt
}

// SetActivePrompt returns a copy with name active. With persist set only the
// active_prompt key of the file is rewritten.
func (c Config) SetActivePrompt(name string, persist bool) (Config, error) {
	if _, ok := c.Prompts[name]; !ok {
		return c, fmt.Errorf("%w: %s", ErrUnknownPrompt, name)
	}
	c.ActivePrompt = name
	if !persist || c.Path == "" {
		return c, nil
	}
	return c, persistActivePrompt(c.Path, name, c)
}

func persistActivePrompt(path, name string, full Config) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return full.Save(path)
	}
	if err != nil {
		return err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return full.Save(path)
	}
	root := doc.Content[0]
	set := false
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "active_prompt" {
			v := root.Content[i+1]
			v.Kind, v.Tag, v.Value, v.Style = yaml.ScalarNode, "!!str", name, 0
			v.Content = nil
			set = true
			break
		}
	}
	if !set {
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "active_prompt"},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name},
		)
	}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// Source describes where the effective values came from.
func (c Config) Source() string {
	abs := c.Path
	if a, err := filepath.Abs(c.Path); err == nil {
		abs = a
	}
	envSet := os.Getenv("P2S_API_URL") != "" || os.Getenv("P2S_API_KEY") != "" || os.Getenv("P2S_MODEL") != ""
	return fmt.Sprintf("config=%s, env(url/key/model)=%t, provider=%s, activePrompt=%s", abs, envSet, c.LLM.Provider, c.ActivePrompt)
}
