package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"structurecraft.ai/internal/app"
	"structurecraft.ai/internal/build"
	"structurecraft.ai/internal/catalogs"
	"structurecraft.ai/internal/config"
	"structurecraft.ai/internal/diag"
	"structurecraft.ai/internal/geom"
	"structurecraft.ai/internal/pipeline"
	"structurecraft.ai/internal/reply"
	"structurecraft.ai/internal/resolve"
	"structurecraft.ai/internal/script"
	"structurecraft.ai/internal/scriptstore"
)

const (
	defaultListLimit = 10
	maxListLimit     = 50
)

func loadConfig() config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Warn("config load failed, using defaults", zap.String("path", configPath), zap.Error(err))
	}
	if dataDir != "" {
		cfg.Storage.Dir = dataDir
	}
	return cfg
}

func openApp() (*app.App, error) {
	cfg := loadConfig()
	a, err := app.Open(cfg, logger, app.Options{Generator: generator, WorldID: "cli"})
	if err != nil {
		return nil, err
	}
	if snapshotPath != "" {
		if err := a.LoadSnapshot(snapshotPath); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

func parseOrigin(args []string) (geom.Vec3i, error) {
	var v [3]int
	for i, s := range args {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return geom.Vec3i{}, fmt.Errorf("coordinate %q is not an integer", s)
		}
		v[i] = n
	}
	return geom.Vec3i{X: v[0], Y: v[1], Z: v[2]}, nil
}

// execute runs req, prints the outcome and writes the snapshot if one was
// requested.
func execute(cmd *cobra.Command, a *app.App, req pipeline.BuildRequest) error {
	out := cmd.OutOrStdout()
	req.Rotation = rotation
	res, err := a.Pipeline.Build(cmd.Context(), req, a.World, nil)
	if err != nil {
		return errors.New(pipeline.FailureMessage(err))
	}
	if res.Name != "" {
		fmt.Fprintf(out, "Build completed (saved as %s)\n", res.Name)
	} else {
		fmt.Fprintln(out, "Build completed")
	}
	fmt.Fprintf(out, "  layers=%d actions=%d skipped=%d writes=%d placed=%d/%d\n",
		res.Stats.Layers, res.Stats.Actions, res.Stats.Skipped, res.Stats.Writes, res.Placed, res.Planned)
	printDiagnostics(out, res.Diagnostics)
	if snapshotPath != "" {
		if err := a.SaveSnapshot(snapshotPath); err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		fmt.Fprintf(out, "Snapshot written to %s (%d voxels)\n", snapshotPath, a.World.Count())
	}
	return nil
}

func printDiagnostics(w io.Writer, events []diag.Event) {
	for _, e := range events {
		switch {
		case e.Match != "":
			fmt.Fprintf(w, "  %s layer=%d action=%d %q -> %s\n", e.Kind, e.Layer, e.Action, e.Raw, e.Match)
		case e.Message != "":
			fmt.Fprintf(w, "  %s layer=%d action=%d %s\n", e.Kind, e.Layer, e.Action, e.Message)
		default:
			fmt.Fprintf(w, "  %s layer=%d action=%d\n", e.Kind, e.Layer, e.Action)
		}
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	origin, err := parseOrigin(args[:3])
	if err != nil {
		return err
	}
	prompt := strings.TrimSpace(strings.Join(args[3:], " "))
	if prompt == "" {
		return errors.New("prompt is empty")
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintln(cmd.OutOrStdout(), "Requesting structure from AI...")
	return execute(cmd, a, pipeline.BuildRequest{Prompt: prompt, Origin: origin})
}

func runLoad(cmd *cobra.Command, args []string) error {
	origin, err := parseOrigin(args[1:])
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return execute(cmd, a, pipeline.BuildRequest{ScriptName: args[0], Origin: origin})
}

func runFile(cmd *cobra.Command, args []string) error {
	origin, err := parseOrigin(args[1:])
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	sc, err := script.Parse(reply.Normalize(string(raw)))
	if err != nil {
		return errors.New(pipeline.FailureMessage(err))
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return execute(cmd, a, pipeline.BuildRequest{Script: sc, Origin: origin})
}

// runPlan executes the document against a recorder and prints the end state.
// With --snapshot the plan is also checked against the loaded world.
func runPlan(cmd *cobra.Command, args []string) error {
	origin, err := parseOrigin(args[1:])
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	sc, err := script.Parse(reply.Normalize(string(raw)))
	if err != nil {
		return errors.New(pipeline.FailureMessage(err))
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if v, limit := sc.Volume(), a.Config.Limits.MaxVolume; limit > 0 && v > limit {
		return errors.New(pipeline.FailureMessage(fmt.Errorf("%w: %d blocks, limit %d", pipeline.ErrTooLarge, v, limit)))
	}
	exec := build.Executor{Resolver: a.Pipeline.Resolver(), Rotation: rotation}
	plan, st, err := exec.Plan(sc, origin)
	if err != nil {
		return errors.New(pipeline.FailureMessage(err))
	}
	out := cmd.OutOrStdout()
	for _, pos := range plan.Positions() {
		p := plan[pos]
		if p.Facing != script.DirNone {
			fmt.Fprintf(out, "%d %d %d %s %s\n", pos.X, pos.Y, pos.Z, p.Block, p.Facing)
			continue
		}
		fmt.Fprintf(out, "%d %d %d %s\n", pos.X, pos.Y, pos.Z, p.Block)
	}
	fmt.Fprintf(out, "voxels=%d writes=%d skipped=%d\n", len(plan), st.Writes, st.Skipped)
	if snapshotPath != "" {
		correct, total := build.Verify(a.World.BlockID, plan)
		fmt.Fprintf(out, "already placed=%d/%d\n", correct, total)
	}
	return nil
}

func parseLimit(args []string, def int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("limit %q is not an integer", args[0])
	}
	return min(max(n, 1), maxListLimit), nil
}

func runList(cmd *cobra.Command, args []string) error {
	limit, err := parseLimit(args, defaultListLimit)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	infos, err := a.Store.List(cmd.Context(), limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No saved scripts")
		return nil
	}
	fmt.Fprintf(out, "Saved scripts (latest %d):\n", len(infos))
	for _, info := range infos {
		fmt.Fprintf(out, "  %s  %s  %s\n", info.Name, info.Time().Format(time.DateTime), reply.Truncate(info.Prompt, 60))
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ok, err := a.Store.Delete(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", scriptstore.ErrNotFound, args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted saved script: %s\n", args[0])
	return nil
}

func runPrompt(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	out := cmd.OutOrStdout()
	if len(args) == 0 || args[0] == "list" {
		fmt.Fprintf(out, "Available prompts (current: %s):\n", cfg.ActivePrompt)
		for _, name := range cfg.PromptNames() {
			mark := " "
			if name == cfg.ActivePrompt {
				mark = "*"
			}
			fmt.Fprintf(out, " %s %s\n", mark, name)
		}
		return nil
	}
	if args[0] != "set" || len(args) != 2 {
		return errors.New("usage: prompt [list|set <name>]")
	}
	if _, err := cfg.SetActivePrompt(args[1], true); err != nil {
		return err
	}
	fmt.Fprintf(out, "Active prompt set to: %s\n", args[1])
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	cat := catalogs.Default()
	if cfg.Catalog.Path != "" {
		var err error
		if cat, err = catalogs.Load(cfg.Catalog.Path); err != nil {
			return err
		}
	}
	r := resolve.New(cat, resolve.Options{
		DefaultNamespace: cfg.Resolver.Namespace,
		Fallback:         cfg.Resolver.Fallback,
	})
	out := cmd.OutOrStdout()
	for _, id := range args {
		m := r.Resolve(id)
		if m.Kind == resolve.Fuzzy {
			fmt.Fprintf(out, "%s -> %s (%s, score %d)\n", id, m.Block.ID, m.Kind, m.Score)
			continue
		}
		fmt.Fprintf(out, "%s -> %s (%s)\n", id, m.Block.ID, m.Kind)
	}
	return nil
}

func runBuilds(cmd *cobra.Command, args []string) error {
	limit, err := parseLimit(args, defaultListLimit)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	rows, err := a.Index.Builds(ctx, limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(out, "No builds recorded")
		return nil
	}
	for _, r := range rows {
		fmt.Fprintf(out, "%s  %-6s %-40s writes=%d diag=%d %dms\n",
			time.UnixMilli(r.StartedMs).Format(time.DateTime), r.Status, r.Name, r.Writes, r.Diagnostics, r.DurationMs)
		if r.Error != "" {
			fmt.Fprintf(out, "  %s\n", r.Error)
		}
	}
	return nil
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	fmt.Fprintln(cmd.OutOrStdout(), cfg.Source())
	fmt.Fprintf(cmd.OutOrStdout(), "storage=%s dir=%s model=%s\n", cfg.Storage.Backend, cfg.Storage.Dir, cfg.LLM.Model)
	return nil
}
