package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the config file after it settles and hands every good
// value to OnChange. A reload that fails keeps the previous value.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(Config)
	logger   *zap.Logger
	fw       *fsnotify.Watcher
}

// NewWatcher watches the directory holding path, since editors often replace
// the file by rename.
func NewWatcher(path string, onChange func(Config), logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		debounce: 300 * time.Millisecond,
		onChange: onChange,
		logger:   logger.Named("config"),
		fw:       fw,
	}, nil
}

// Run blocks until ctx is done, then releases the fsnotify handle.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := load(w.path, false)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("config reloaded",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model),
		zap.Int("timeout_seconds", cfg.LLM.TimeoutSeconds),
		zap.String("active_prompt", cfg.ActivePrompt))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
