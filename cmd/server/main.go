package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"structurecraft.ai/internal/app"
	"structurecraft.ai/internal/config"
	"structurecraft.ai/internal/transport/mcp"
	"structurecraft.ai/internal/transport/ws"
)

type serverOptions struct {
	Addr       string
	ConfigPath string
	// DataDir, when set, wins over storage.dir, also across reloads.
	DataDir  string
	Snapshot string
	Watch    bool
	// MCPSecret enables signed requests on /mcp; empty means loopback only.
	MCPSecret string
}

func main() {
	var (
		addr     = flag.String("addr", ":8080", "http listen address")
		cfgPath  = flag.String("config", config.DefaultPath, "config file (created with defaults if missing)")
		dataDir  = flag.String("data", "", "runtime data directory (overrides storage.dir)")
		snapPath = flag.String("snapshot", "", "world snapshot loaded at start and written at shutdown (default: <data>/world.snap.zst)")
		watch    = flag.Bool("watch", true, "reload the config file when it changes")
		verbose  = flag.Bool("v", false, "debug logging")
		mcpKey   = flag.String("mcp-hmac-secret", "", "hmac secret for /mcp (or set P2S_MCP_HMAC_SECRET)")
	)
	flag.Parse()
	if strings.TrimSpace(*mcpKey) == "" {
		*mcpKey = strings.TrimSpace(os.Getenv("P2S_MCP_HMAC_SECRET"))
	}

	cfg, cfgErr := config.Load(*cfgPath)
	if *dataDir != "" {
		cfg.Storage.Dir = *dataDir
	}
	logger, err := app.NewLogger(cfg.Log.Level, *verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()
	if cfgErr != nil {
		logger.Warn("config load failed, using defaults", zap.String("path", *cfgPath), zap.Error(cfgErr))
	}

	ctx, cancel := signalContext()
	defer cancel()

	opts := serverOptions{
		Addr:       *addr,
		ConfigPath: *cfgPath,
		DataDir:    *dataDir,
		Snapshot:   strings.TrimSpace(*snapPath),
		Watch:      *watch,
		MCPSecret:  *mcpKey,
	}
	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, opts serverOptions, logger *zap.Logger) error {
	a, err := app.Open(cfg, logger, app.Options{WorldID: "server"})
	if err != nil {
		return err
	}
	defer a.Close()

	snap := opts.Snapshot
	if snap == "" {
		snap = filepath.Join(cfg.Storage.Dir, "world.snap.zst")
	}
	if err := a.LoadSnapshot(snap); err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	wsSrv := ws.NewServer(a.Pipeline, a.World, logger.Named("ws"))
	mcpSrv, err := mcp.NewServer(mcp.Config{
		Pipeline:   a.Pipeline,
		Store:      a.Store,
		World:      a.World,
		HMACSecret: opts.MCPSecret,
		Logger:     logger.Named("mcp"),
	})
	if err != nil {
		return err
	}
	logger.Info("mcp enabled", zap.Bool("hmac", opts.MCPSecret != ""))
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           newHandler(a, wsSrv, mcpSrv),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", opts.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		err := srv.Shutdown(sctx)
		wsSrv.Close()
		return err
	})
	if opts.Watch && opts.ConfigPath != "" {
		w, err := config.NewWatcher(opts.ConfigPath, func(next config.Config) {
			if opts.DataDir != "" {
				next.Storage.Dir = opts.DataDir
			}
			if err := a.Reconfigure(next); err != nil {
				logger.Warn("config reload rejected", zap.Error(err))
				return
			}
			logger.Info("config reloaded",
				zap.String("provider", next.LLM.Provider),
				zap.String("model", next.LLM.Model),
				zap.String("prompt", next.ActivePrompt))
		}, logger)
		if err != nil {
			logger.Warn("config watch disabled", zap.Error(err))
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	err = g.Wait()
	if serr := a.SaveSnapshot(snap); serr != nil {
		logger.Error("snapshot on shutdown failed", zap.String("path", snap), zap.Error(serr))
	}
	return err
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
