// Package app wires configuration, storage, logs, the simulated world and the
// pipeline into one runtime shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"structurecraft.ai/internal/catalogs"
	"structurecraft.ai/internal/config"
	"structurecraft.ai/internal/diag"
	"structurecraft.ai/internal/llm"
	"structurecraft.ai/internal/persistence/archive"
	"structurecraft.ai/internal/persistence/indexdb"
	plog "structurecraft.ai/internal/persistence/log"
	"structurecraft.ai/internal/persistence/r2s3"
	"structurecraft.ai/internal/persistence/snapshot"
	"structurecraft.ai/internal/pipeline"
	"structurecraft.ai/internal/scriptstore"
	"structurecraft.ai/internal/voxel"
)

type App struct {
	Config   config.Config
	Catalog  *catalogs.BlockCatalog
	Logger   *zap.Logger
	World    *voxel.World
	Store    scriptstore.Store
	Index    *indexdb.SQLiteIndex
	Events   *plog.EventLogger
	Audit    *plog.AuditLogger
	Mirror   *r2s3.Mirror
	Pipeline *pipeline.Pipeline

	newGen func(config.LLM) (llm.Generator, error)
}

type Options struct {
	// Generator overrides the provider named in the config.
	Generator llm.Generator
	WorldID   string
}

// NewLogger builds the production zap logger; verbose forces debug.
func NewLogger(level string, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func Open(cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	a.newGen = func(c config.LLM) (llm.Generator, error) { return llm.New(c, logger) }
	if opts.Generator != nil {
		g := opts.Generator
		a.newGen = func(config.LLM) (llm.Generator, error) { return g, nil }
	}

	var err error
	if cfg.Catalog.Path != "" {
		a.Catalog, err = catalogs.Load(cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
	} else {
		a.Catalog = catalogs.Default()
	}

	if opts.WorldID == "" {
		opts.WorldID = "local"
	}
	a.World, err = voxel.New(opts.WorldID, a.Catalog, logger)
	if err != nil {
		return nil, err
	}

	dataDir := cfg.Storage.Dir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	a.Index, err = indexdb.OpenSQLite(cfg.Storage.IndexPath())
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Index.UpsertCatalog(ctx, a.Catalog); err != nil {
		logger.Warn("index catalog upsert failed", zap.Error(err))
	}

	if cfg.Mirror.Enabled {
		client, err := r2s3.New(r2s3.Credentials{
			Endpoint:        cfg.Mirror.Endpoint,
			Bucket:          cfg.Mirror.Bucket,
			AccessKeyID:     cfg.Mirror.AccessKeyID,
			SecretAccessKey: cfg.Mirror.SecretAccessKey,
		})
		if err != nil {
			_ = a.Index.Close()
			return nil, fmt.Errorf("mirror: %w", err)
		}
		a.Mirror = r2s3.NewMirror(client, r2s3.MirrorOptions{
			DataDir: dataDir,
			Prefix:  cfg.Mirror.Prefix,
			Workers: cfg.Mirror.Workers,
		}, logger)
	}

	switch cfg.Storage.Backend {
	case "sqlite":
		a.Store = a.Index
	case "file", "":
		fs := scriptstore.NewFileStore(cfg.Storage.ScriptsDir(), logger)
		fs.OnSaved(a.Mirror.Enqueue)
		a.Store = fs
	default:
		a.closeStorage()
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	a.Events = plog.NewEventLogger(dataDir)
	a.Audit = plog.NewAuditLogger(dataDir)
	a.World.SetAuditor(a.Audit.Auditor(opts.WorldID, func(err error) {
		logger.Warn("audit write failed", zap.Error(err))
	}))

	gen, err := a.newGen(cfg.LLM)
	if err != nil {
		a.closeStorage()
		return nil, err
	}
	a.Pipeline = pipeline.New(cfg, gen, pipeline.Options{
		Store:   a.Store,
		Catalog: a.Catalog,
		Index:   a.Index,
		Events: func(buildID string) diag.Sink {
			return a.Events.Sink(buildID, func(err error) {
				logger.Warn("event log write failed", zap.String("build_id", buildID), zap.Error(err))
			})
		},
		Logger: logger,
	})
	return a, nil
}

// Reconfigure applies a reloaded config to builds started afterwards.
// Storage settings need a restart.
func (a *App) Reconfigure(cfg config.Config) error {
	gen, err := a.newGen(cfg.LLM)
	if err != nil {
		return err
	}
	if cfg.Storage != a.Config.Storage {
		a.Logger.Warn("storage settings changed; restart to apply")
	}
	a.Config = cfg
	a.Pipeline.Reconfigure(cfg, gen)
	return nil
}

// SaveSnapshot writes the world to path, records it and mirrors it.
func (a *App) SaveSnapshot(path string) error {
	snap := a.World.Export()
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return err
	}
	a.Index.RecordSnapshot(indexdb.SnapshotRow{
		Path:          path,
		WorldID:       snap.Header.WorldID,
		Chunks:        len(snap.Chunks),
		CatalogDigest: snap.Header.CatalogDigest,
		CreatedMs:     snap.Header.CreatedAtMs,
	})
	a.Mirror.Enqueue(path)
	if a.Config.Storage.Archive {
		archived, meta, err := archive.ArchiveSnapshot(a.Config.Storage.Dir, path, snap, time.Now())
		if err != nil {
			return err
		}
		a.Mirror.Enqueue(archived)
		a.Mirror.Enqueue(meta)
	}
	a.Logger.Info("snapshot written", zap.String("path", path), zap.Int("chunks", len(snap.Chunks)))
	return nil
}

// LoadSnapshot replaces the world with the snapshot at path. A missing file
// is not an error.
func (a *App) LoadSnapshot(path string) error {
	snap, err := snapshot.ReadSnapshot(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := a.World.Import(snap); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	a.Logger.Info("snapshot loaded", zap.String("path", path), zap.Int("voxels", a.World.Count()))
	return nil
}

// Close flushes pending index rows and releases every resource.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var errs []error
	if err := a.Index.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, a.Events.Close(), a.Audit.Close())
	a.closeStorage()
	return errors.Join(errs...)
}

func (a *App) closeStorage() {
	if a.Index != nil {
		_ = a.Index.Close()
	}
	a.Mirror.Close()
}
