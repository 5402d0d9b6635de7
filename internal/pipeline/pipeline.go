// Package pipeline turns a building request into voxel writes: model call,
// normalization, parsing, storage and execution, with every run recorded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"structurecraft.ai/internal/build"
	"structurecraft.ai/internal/catalogs"
	"structurecraft.ai/internal/config"
	"structurecraft.ai/internal/diag"
	"structurecraft.ai/internal/geom"
	"structurecraft.ai/internal/llm"
	"structurecraft.ai/internal/persistence/indexdb"
	"structurecraft.ai/internal/protocol"
	"structurecraft.ai/internal/reply"
	"structurecraft.ai/internal/resolve"
	"structurecraft.ai/internal/script"
	"structurecraft.ai/internal/scriptstore"
)

var (
	ErrTooLarge = errors.New("script too large")
	ErrLLM      = errors.New("llm request failed")
	ErrNoSource = errors.New("request needs a prompt, a script name or a script")
)

// BuildRecorder receives one row per finished build. *indexdb.SQLiteIndex
// implements it.
type BuildRecorder interface {
	RecordBuild(indexdb.BuildRow)
}

// EventSinks opens a per-build diagnostics sink, such as
// (*log.EventLogger).Sink.
type EventSinks func(buildID string) diag.Sink

type Options struct {
	Store   scriptstore.Store
	Catalog *catalogs.BlockCatalog
	Index   BuildRecorder
	Events  EventSinks
	Logger  *zap.Logger
}

type Pipeline struct {
	store  scriptstore.Store
	cat    *catalogs.BlockCatalog
	index  BuildRecorder
	events EventSinks
	logger *zap.Logger
	now    func() time.Time

	st atomic.Pointer[state]
}

type state struct {
	cfg config.Config
	gen llm.Generator
	res *resolve.Resolver
}

func New(cfg config.Config, gen llm.Generator, opts Options) *Pipeline {
	if opts.Catalog == nil {
		opts.Catalog = catalogs.Default()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	p := &Pipeline{
		store:  opts.Store,
		cat:    opts.Catalog,
		index:  opts.Index,
		events: opts.Events,
		logger: opts.Logger.Named("pipeline"),
		now:    time.Now,
	}
	p.Reconfigure(cfg, gen)
	return p
}

// Reconfigure swaps config and generator for builds started afterwards.
func (p *Pipeline) Reconfigure(cfg config.Config, gen llm.Generator) {
	p.st.Store(&state{
		cfg: cfg,
		gen: gen,
		res: resolve.New(p.cat, resolve.Options{
			DefaultNamespace: cfg.Resolver.Namespace,
			Fallback:         cfg.Resolver.Fallback,
		}),
	})
}

func (p *Pipeline) Config() config.Config { return p.st.Load().cfg }

func (p *Pipeline) Resolver() *resolve.Resolver { return p.st.Load().res }

func (p *Pipeline) Catalog() *catalogs.BlockCatalog { return p.cat }

// Result is a generated and parsed script.
type Result struct {
	BuildID string
	Prompt  string
	// Content is the normalized document; Message the raw assistant reply.
	Content string
	Message string
	Model   string
	Preset  string
	Script  *script.Script
}

// Generate asks the model for a script. On a parse failure the Result still
// carries the normalized content.
func (p *Pipeline) Generate(ctx context.Context, prompt string) (Result, error) {
	return p.generate(ctx, p.st.Load(), uuid.NewString(), prompt)
}

func (p *Pipeline) generate(ctx context.Context, st *state, buildID, prompt string) (Result, error) {
	res := Result{BuildID: buildID, Prompt: prompt, Preset: st.cfg.ActivePrompt}
	if st.gen == nil {
		return res, fmt.Errorf("%w: no generator configured", ErrLLM)
	}
	rep, err := st.gen.Generate(ctx, llm.Request{System: st.cfg.SystemPrompt(), Prompt: prompt})
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrLLM, err)
	}
	res.Message = rep.Content
	res.Model = rep.Model
	res.Content = reply.Normalize(rep.Content)
	p.logger.Debug("llm content", zap.String("build_id", buildID), zap.String("content", reply.Truncate(res.Content, 0)))

	sc, err := script.Parse(res.Content)
	if err != nil {
		p.logger.Warn("llm content rejected", zap.String("build_id", buildID), zap.Error(err))
		return res, err
	}
	res.Script = sc
	return res, nil
}

// BuildRequest names exactly one source: Script, then ScriptName, then Prompt.
type BuildRequest struct {
	// BuildID is generated when empty.
	BuildID    string
	Prompt     string
	ScriptName string
	Script     *script.Script
	Origin     geom.Vec3i
	Rotation   int
}

type Outcome struct {
	BuildID     string
	Name        string
	Stats       build.Stats
	Diagnostics []diag.Event

	// Placed of Planned voxels held the planned block right after execution.
	// Both stay zero when the writer cannot be read back.
	Placed  int
	Planned int
}

// BlockReader is the read side of a world, used to check a build landed.
type BlockReader interface {
	BlockID(pos geom.Vec3i) string
}

func (o Outcome) ProtocolStats() protocol.BuildStats {
	return protocol.BuildStats{
		Layers:      o.Stats.Layers,
		Actions:     o.Stats.Actions,
		Skipped:     o.Stats.Skipped,
		Writes:      o.Stats.Writes,
		Diagnostics: len(o.Diagnostics),
		Placed:      o.Placed,
		Planned:     o.Planned,
	}
}

// Build runs req against w. sink, which may be nil, sees every diagnostic as
// it happens.
func (p *Pipeline) Build(ctx context.Context, req BuildRequest, w build.Writer, sink diag.Sink) (out Outcome, err error) {
	st := p.st.Load()
	out.BuildID = req.BuildID
	if out.BuildID == "" {
		out.BuildID = uuid.NewString()
	}
	started := p.now()

	events := &diag.Log{}
	sinks := []diag.Sink{events, sink, diag.Zap(p.logger.With(zap.String("build_id", out.BuildID)))}
	if p.events != nil {
		sinks = append(sinks, p.events(out.BuildID))
	}
	tee := diag.Tee(sinks...)

	defer func() {
		out.Diagnostics = events.Events()
		p.record(req, out, started, err)
	}()

	src, err := p.source(ctx, st, out.BuildID, req)
	if err != nil {
		return out, err
	}
	out.Name = req.ScriptName
	if v := src.script.Volume(); st.cfg.Limits.MaxVolume > 0 && v > st.cfg.Limits.MaxVolume {
		return out, fmt.Errorf("%w: %d blocks, limit %d", ErrTooLarge, v, st.cfg.Limits.MaxVolume)
	}
	if src.generated {
		if out.Name, err = p.save(ctx, st, src.script, req.Prompt, src.message); err != nil {
			return out, err
		}
	}

	exec := build.Executor{Resolver: st.res, Sink: tee, Rotation: req.Rotation}
	var rec build.Recorder
	out.Stats, err = exec.Execute(src.script, req.Origin, build.Tee(w, &rec))
	if err != nil {
		return out, err
	}
	if br, ok := w.(BlockReader); ok {
		out.Placed, out.Planned = build.Verify(br.BlockID, rec.Final())
	}
	p.logger.Info("build done",
		zap.String("build_id", out.BuildID),
		zap.String("name", out.Name),
		zap.Int("actions", out.Stats.Actions),
		zap.Int("skipped", out.Stats.Skipped),
		zap.Int64("writes", out.Stats.Writes),
		zap.Int("placed", out.Placed),
		zap.Int("planned", out.Planned),
		zap.Int("diagnostics", len(events.Events())))
	return out, nil
}

type source struct {
	script    *script.Script
	generated bool
	message   string
}

func (p *Pipeline) source(ctx context.Context, st *state, buildID string, req BuildRequest) (source, error) {
	switch {
	case req.Script != nil:
		return source{script: req.Script}, nil
	case req.ScriptName != "":
		if p.store == nil {
			return source{}, fmt.Errorf("%w: %s", scriptstore.ErrNotFound, req.ScriptName)
		}
		sc, err := p.store.Load(ctx, req.ScriptName)
		return source{script: sc}, err
	case req.Prompt != "":
		res, err := p.generate(ctx, st, buildID, req.Prompt)
		if err != nil {
			return source{}, err
		}
		return source{script: res.Script, generated: true, message: res.Message}, nil
	default:
		return source{}, ErrNoSource
	}
}

func (p *Pipeline) save(ctx context.Context, st *state, sc *script.Script, prompt, message string) (string, error) {
	if p.store == nil {
		return "", nil
	}
	return p.store.Save(ctx, "", sc, scriptstore.Meta{
		Prompt:  prompt,
		Model:   st.cfg.LLM.Model,
		Preset:  st.cfg.ActivePrompt,
		Message: message,
	})
}

func (p *Pipeline) record(req BuildRequest, out Outcome, started time.Time, err error) {
	if p.index == nil {
		return
	}
	row := indexdb.BuildRow{
		BuildID:     out.BuildID,
		Name:        out.Name,
		Prompt:      req.Prompt,
		Origin:      [3]int{req.Origin.X, req.Origin.Y, req.Origin.Z},
		Rotation:    req.Rotation,
		Layers:      out.Stats.Layers,
		Actions:     out.Stats.Actions,
		Skipped:     out.Stats.Skipped,
		Writes:      out.Stats.Writes,
		Diagnostics: len(out.Diagnostics),
		Status:      "ok",
		StartedMs:   started.UnixMilli(),
		DurationMs:  p.now().Sub(started).Milliseconds(),
	}
	if err != nil {
		row.Status = "failed"
		row.Error = err.Error()
	}
	p.index.RecordBuild(row)
}

// BuildMany runs independent builds concurrently against the same writer,
// which must tolerate concurrent SetBlock calls. Outcomes keep request order.
func (p *Pipeline) BuildMany(ctx context.Context, reqs []BuildRequest, w build.Writer, sink diag.Sink) ([]Outcome, error) {
	outs := make([]Outcome, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, req := range reqs {
		g.Go(func() error {
			out, err := p.Build(gctx, req, w, sink)
			outs[i] = out
			if err != nil {
				return fmt.Errorf("build %d: %w", i, err)
			}
			return nil
		})
	}
	return outs, g.Wait()
}
