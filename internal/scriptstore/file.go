package scriptstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"structurecraft.ai/internal/script"
)

// Entry is the on-disk form of a saved script. Content is the script as a
// JSON tree; older entries hold it as a JSON string.
type Entry struct {
	Name        string          `json:"name"`
	Prompt      string          `json:"prompt"`
	Model       string          `json:"model,omitempty"`
	Preset      string          `json:"preset,omitempty"`
	Content     json.RawMessage `json:"content"`
	Message     string          `json:"assistantMessage,omitempty"`
	TimestampMs int64           `json:"timestamp"`
}

// Script decodes Content, accepting the legacy string form.
func (e Entry) Script() (*script.Script, error) {
	raw := bytes.TrimSpace(e.Content)
	if len(raw) > 0 && raw[0] == '"' {
		var legacy string
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, err
		}
		return script.Parse(legacy)
	}
	return script.Parse(string(raw))
}

// FileStore keeps one pretty-printed JSON file per script under Dir.
type FileStore struct {
	Dir string

	logger  *zap.Logger
	now     func() time.Time
	onSaved func(path string)

	mu sync.Mutex
}

func NewFileStore(dir string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{Dir: dir, logger: logger, now: time.Now}
}

// OnSaved registers a hook called with the path of every file written.
func (s *FileStore) OnSaved(fn func(path string)) { s.onSaved = fn }

func (s *FileStore) path(name string) string {
	return filepath.Join(s.Dir, name+".json")
}

func (s *FileStore) Save(ctx context.Context, name string, sc *script.Script, meta Meta) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	content, err := script.Marshal(sc)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", err
	}
	now := s.now()
	if name == "" {
		name = GenerateName(meta.Prompt, now)
	}
	name = SanitizeName(name)
	if _, err := os.Stat(s.path(name)); err == nil {
		name = CollisionName(name, now)
	}

	entry := Entry{
		Name:        name,
		Prompt:      meta.Prompt,
		Model:       meta.Model,
		Preset:      meta.Preset,
		Content:     content,
		Message:     meta.Message,
		TimestampMs: now.UnixMilli(),
	}
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", err
	}
	p := s.path(name)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	s.logger.Info("saved script", zap.String("name", name), zap.String("path", p))
	if s.onSaved != nil {
		s.onSaved(p)
	}
	return name, nil
}

func (s *FileStore) Load(ctx context.Context, name string) (*script.Script, error) {
	e, err := s.Entry(ctx, name)
	if err != nil {
		return nil, err
	}
	sc, err := e.Script()
	if err != nil {
		return nil, fmt.Errorf("stored script %s: %w", name, err)
	}
	return sc, nil
}

// Entry returns the stored record for name, metadata included.
func (s *FileStore) Entry(ctx context.Context, name string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if !ValidName(name) {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := readEntry(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e, err
}

func (s *FileStore) List(ctx context.Context, limit int) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dirents, err := os.ReadDir(s.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, de := range dirents {
		stem, ok := strings.CutSuffix(de.Name(), ".json")
		if de.IsDir() || !ok || !ValidName(stem) {
			continue
		}
		e, err := readEntry(filepath.Join(s.Dir, de.Name()))
		if err != nil {
			s.logger.Warn("skip unreadable script entry", zap.String("file", de.Name()), zap.Error(err))
			continue
		}
		out = append(out, Info{Name: e.Name, TimestampMs: e.TimestampMs, Prompt: e.Prompt})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimestampMs > out[j].TimestampMs })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *FileStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !ValidName(name) {
		return false, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func readEntry(path string) (Entry, error) {
	var e Entry
	b, err := os.ReadFile(path)
	if err != nil {
		return e, err
	}
	if err := json.Unmarshal(b, &e); err != nil {
		return e, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	// The file name is the key Load and Delete use; the stored name may be stale.
	e.Name = strings.TrimSuffix(filepath.Base(path), ".json")
	return e, nil
}
