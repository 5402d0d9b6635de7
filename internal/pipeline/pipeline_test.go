package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"structurecraft.ai/internal/build"
	"structurecraft.ai/internal/catalogs"
	"structurecraft.ai/internal/config"
	"structurecraft.ai/internal/diag"
	"structurecraft.ai/internal/geom"
	"structurecraft.ai/internal/llm"
	"structurecraft.ai/internal/persistence/indexdb"
	"structurecraft.ai/internal/script"
	"structurecraft.ai/internal/scriptstore"
	"structurecraft.ai/internal/voxel"
)

type fakeGen struct {
	mu      sync.Mutex
	content string
	err     error
	reqs    []llm.Request
}

func (f *fakeGen) Generate(_ context.Context, req llm.Request) (llm.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return llm.Reply{}, f.err
	}
	return llm.Reply{Content: f.content, Model: "fake-1", Provider: "fake"}, nil
}

type rows struct {
	mu   sync.Mutex
	rows []indexdb.BuildRow
}

func (r *rows) RecordBuild(row indexdb.BuildRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
}

func (r *rows) last(t *testing.T) indexdb.BuildRow {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rows) == 0 {
		t.Fatalf("no build recorded")
	}
	return r.rows[len(r.rows)-1]
}

type fixture struct {
	p     *Pipeline
	gen   *fakeGen
	store *scriptstore.FileStore
	index *rows
	world *voxel.World
}

func newFixture(t *testing.T, content string) fixture {
	t.Helper()
	cat := catalogs.Default()
	world, err := voxel.New("test", cat, zap.NewNop())
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	f := fixture{
		gen:   &fakeGen{content: content},
		store: scriptstore.NewFileStore(t.TempDir(), zap.NewNop()),
		index: &rows{},
		world: world,
	}
	f.p = New(config.Defaults(), f.gen, Options{
		Store:   f.store,
		Catalog: cat,
		Index:   f.index,
		Logger:  zap.NewNop(),
	})
	return f
}

const cabinReply = "Here you go:\n```json\n" +
	`{"palette":{"L":"oak_lag","P":"minecraft:oak_planks"},"structure":[` +
	`{"actions":[{"type":"fill","block":"L","from":[0,0,0],"to":[1,0,1]}]},` +
	`{"actions":[{"type":"set","block":"P","at":[[0,1,0],[9,9]]}]}]}` +
	"\n```\nEnjoy!"

func TestBuild_FromPrompt(t *testing.T) {
	f := newFixture(t, cabinReply)
	var seen diag.Log

	out, err := f.p.Build(context.Background(), BuildRequest{Prompt: "a tiny cabin", Origin: geom.V(10, 64, 10)}, f.world, &seen)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if out.Name == "" || out.BuildID == "" {
		t.Fatalf("outcome=%+v", out)
	}
	if out.Stats.Writes != 5 || out.Stats.Layers != 2 || out.Stats.Actions != 2 {
		t.Fatalf("stats=%+v", out.Stats)
	}
	if out.Placed != 5 || out.Planned != 5 {
		t.Fatalf("placed=%d/%d want 5/5", out.Placed, out.Planned)
	}
	if got := f.world.BlockID(geom.V(11, 64, 11)); got != "minecraft:oak_log" {
		t.Fatalf("fill block=%q", got)
	}
	if got := f.world.BlockID(geom.V(10, 65, 10)); got != "minecraft:oak_planks" {
		t.Fatalf("set block=%q", got)
	}
	if seen.Count(diag.KindPaletteFuzzy) != 1 || seen.Count(diag.KindPointMalformed) != 1 {
		t.Fatalf("caller sink events=%+v", seen.Events())
	}
	if len(out.Diagnostics) != len(seen.Events()) {
		t.Fatalf("outcome diagnostics=%d caller=%d", len(out.Diagnostics), len(seen.Events()))
	}

	if len(f.gen.reqs) != 1 || f.gen.reqs[0].Prompt != "a tiny cabin" || f.gen.reqs[0].System != config.DefaultSystemPrompt {
		t.Fatalf("llm requests=%+v", f.gen.reqs)
	}

	e, err := f.store.Entry(context.Background(), out.Name)
	if err != nil {
		t.Fatalf("saved entry: %v", err)
	}
	if e.Prompt != "a tiny cabin" || e.Model != config.DefaultModel || e.Preset != "default" || e.Message != cabinReply {
		t.Fatalf("entry=%+v", e)
	}

	row := f.index.last(t)
	if row.Status != "ok" || row.BuildID != out.BuildID || row.Name != out.Name || row.Origin != [3]int{10, 64, 10} || row.Writes != 5 {
		t.Fatalf("row=%+v", row)
	}
}

func TestBuild_FailuresAreRecorded(t *testing.T) {
	cases := []struct {
		name    string
		reply   string
		genErr  error
		max     int64
		req     BuildRequest
		wantErr error
		reason  string
	}{
		{name: "malformed", reply: "I cannot build that.", req: BuildRequest{Prompt: "x"}, wantErr: script.ErrMalformedDocument, reason: "build failed: malformed document: I cannot build that."},
		{name: "schema", reply: `{"palette":[]}`, req: BuildRequest{Prompt: "x"}, wantErr: script.ErrSchemaMismatch, reason: `build failed: schema mismatch: {"palette":[]}`},
		{name: "llm", genErr: errors.New("dial tcp: refused"), req: BuildRequest{Prompt: "x"}, wantErr: ErrLLM, reason: "build failed: llm request failed: "},
		{name: "empty", reply: `{"palette":{},"structure":null}`, req: BuildRequest{Prompt: "x"}, wantErr: build.ErrEmptyScript, reason: "build failed: empty script: "},
		{name: "too large", reply: `{"palette":{"S":"stone"},"structure":[{"actions":[{"type":"fill","block":"S","from":[0,0,0],"to":[9,9,9]}]}]}`, max: 999, req: BuildRequest{Prompt: "x"}, wantErr: ErrTooLarge, reason: "build failed: script too large: "},
		{name: "wrapping volume", reply: `{"palette":{"S":"stone"},"structure":[{"actions":[{"type":"fill","block":"S","from":[-2147483648,-2147483648,-2147483648],"to":[2147483647,2147483647,2147483647]}]}]}`, req: BuildRequest{Prompt: "x"}, wantErr: ErrTooLarge, reason: "build failed: script too large: "},
		{name: "missing name", req: BuildRequest{ScriptName: "nope"}, wantErr: scriptstore.ErrNotFound, reason: "build failed: script not found: "},
		{name: "no source", req: BuildRequest{}, wantErr: ErrNoSource, reason: "build failed: bad request: "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.reply)
			f.gen.err = tc.genErr
			if tc.max > 0 {
				cfg := config.Defaults()
				cfg.Limits.MaxVolume = tc.max
				f.p.Reconfigure(cfg, f.gen)
			}
			_, err := f.p.Build(context.Background(), tc.req, f.world, nil)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err=%v want %v", err, tc.wantErr)
			}
			if msg := FailureMessage(err); !strings.HasPrefix(msg, tc.reason) || strings.Contains(msg, "\n") {
				t.Fatalf("FailureMessage=%q want prefix %q", msg, tc.reason)
			}
			row := f.index.last(t)
			if row.Status != "failed" || row.Error == "" {
				t.Fatalf("row=%+v", row)
			}
			if f.world.Count() != 0 {
				t.Fatalf("world changed on failure: %d voxels", f.world.Count())
			}
		})
	}
}

func TestBuild_ByNameAndInline(t *testing.T) {
	f := newFixture(t, "")
	sc, err := script.Parse(`{"palette":{"G":"glass"},"structure":[{"actions":[{"type":"frame","block":"G","from":[0,0,0],"to":[2,2,2]}]}]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	name, err := f.store.Save(context.Background(), "glass_box", sc, scriptstore.Meta{})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := f.p.Build(context.Background(), BuildRequest{ScriptName: name}, f.world, nil)
	if err != nil {
		t.Fatalf("build by name: %v", err)
	}
	if out.Name != "glass_box" || out.Stats.Writes != 26 {
		t.Fatalf("outcome=%+v", out)
	}
	if f.world.BlockID(geom.V(1, 1, 1)) != "minecraft:air" {
		t.Fatalf("frame filled its interior")
	}

	// Re-running the same script is idempotent.
	digest := f.world.Digest()
	if _, err := f.p.Build(context.Background(), BuildRequest{Script: sc}, f.world, nil); err != nil {
		t.Fatalf("inline build: %v", err)
	}
	if f.world.Digest() != digest {
		t.Fatalf("second run changed the world")
	}
	if len(f.gen.reqs) != 0 {
		t.Fatalf("llm called for stored scripts")
	}
}

// lossyWorld drops every write above y=0.
type lossyWorld struct {
	*voxel.World
}

func (w lossyWorld) SetBlock(pos geom.Vec3i, block catalogs.BlockDef, facing script.Direction) {
	if pos.Y == 0 {
		w.World.SetBlock(pos, block, facing)
	}
}

func TestBuild_ReportsPlacement(t *testing.T) {
	f := newFixture(t, "")
	sc, err := script.Parse(`{"palette":{"S":"stone"},"structure":[{"actions":[{"type":"fill","block":"S","from":[0,0,0],"to":[1,1,1]}]}]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	out, err := f.p.Build(context.Background(), BuildRequest{Script: sc}, lossyWorld{f.world}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if out.Stats.Writes != 8 || out.Placed != 4 || out.Planned != 8 {
		t.Fatalf("writes=%d placed=%d/%d want 8 and 4/8", out.Stats.Writes, out.Placed, out.Planned)
	}
	if st := out.ProtocolStats(); st.Placed != 4 || st.Planned != 8 || st.Writes != 8 {
		t.Fatalf("protocol stats=%+v", st)
	}

	// A writer that cannot be read back leaves the check empty.
	var rec build.Recorder
	out, err = f.p.Build(context.Background(), BuildRequest{Script: sc}, &rec, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if out.Placed != 0 || out.Planned != 0 || len(rec.Writes) != 8 {
		t.Fatalf("placed=%d/%d writes=%d", out.Placed, out.Planned, len(rec.Writes))
	}
}

func TestBuildMany(t *testing.T) {
	f := newFixture(t, "")
	sc, err := script.Parse(`{"palette":{"S":"stone"},"structure":[{"actions":[{"type":"fill","block":"S","from":[0,0,0],"to":[1,1,1]}]}]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reqs := []BuildRequest{
		{Script: sc, Origin: geom.V(0, 0, 0)},
		{Script: sc, Origin: geom.V(100, 0, 0)},
		{Script: sc, Origin: geom.V(0, 0, 100)},
	}
	outs, err := f.p.BuildMany(context.Background(), reqs, f.world, nil)
	if err != nil {
		t.Fatalf("build many: %v", err)
	}
	if len(outs) != 3 || f.world.Count() != 24 {
		t.Fatalf("outs=%d count=%d", len(outs), f.world.Count())
	}
	for i, o := range outs {
		if o.Stats.Writes != 8 {
			t.Fatalf("outcome %d=%+v", i, o)
		}
	}
}

func TestGenerate_UsesActivePrompt(t *testing.T) {
	f := newFixture(t, `{"palette":{},"structure":[]}`)
	cfg, err := config.Defaults().SetActivePrompt("cozy_cabin", false)
	if err != nil {
		t.Fatalf("set prompt: %v", err)
	}
	f.p.Reconfigure(cfg, f.gen)

	res, err := f.p.Generate(context.Background(), "cabin")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Preset != "cozy_cabin" || res.Script == nil || res.Model != "fake-1" {
		t.Fatalf("result=%+v", res)
	}
	if !strings.Contains(f.gen.reqs[0].System, "Cozy wooden cabin") {
		t.Fatalf("system prompt not switched")
	}
}

func TestFailureMessage(t *testing.T) {
	if FailureMessage(nil) != "" {
		t.Fatalf("nil error should render empty")
	}
	long := strings.Repeat("x", 2000)
	_, err := script.Parse(long)
	msg := FailureMessage(err)
	if !strings.HasPrefix(msg, "build failed: malformed document: ") || !strings.HasSuffix(msg, "...(truncated, len=2000)") {
		t.Fatalf("msg=%q", msg[:80])
	}
	if got := FailureMessage(errors.New("disk on fire")); got != "build failed: internal error: disk on fire" {
		t.Fatalf("msg=%q", got)
	}
}

func TestCode(t *testing.T) {
	_, malformed := script.Parse("nope")
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{malformed, "E_MALFORMED_DOCUMENT"},
		{build.ErrEmptyScript, "E_EMPTY_SCRIPT"},
		{ErrTooLarge, "E_TOO_LARGE"},
		{ErrLLM, "E_LLM"},
		{scriptstore.ErrNotFound, "E_NOT_FOUND"},
		{scriptstore.ErrInvalidName, "E_BAD_REQUEST"},
		{ErrNoSource, "E_BAD_REQUEST"},
		{errors.New("x"), "E_INTERNAL"},
	}
	for _, tc := range cases {
		if got := Code(tc.err); got != tc.want {
			t.Fatalf("Code(%v)=%q want %q", tc.err, got, tc.want)
		}
	}
}
