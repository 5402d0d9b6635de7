// Package build applies a parsed script to a voxel grid.
package build

import (
	"errors"
	"fmt"
	"strings"

	"structurecraft.ai/internal/catalogs"
	"structurecraft.ai/internal/diag"
	"structurecraft.ai/internal/geom"
	"structurecraft.ai/internal/resolve"
	"structurecraft.ai/internal/script"
)

// ErrEmptyScript is returned for a nil script or one whose structure is null.
var ErrEmptyScript = errors.New("empty script")

// Writer places one voxel. It must not fail from the executor's point of
// view; hosts absorb their own write errors.
type Writer interface {
	SetBlock(pos geom.Vec3i, block catalogs.BlockDef, facing script.Direction)
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(pos geom.Vec3i, block catalogs.BlockDef, facing script.Direction)

func (f WriterFunc) SetBlock(pos geom.Vec3i, block catalogs.BlockDef, facing script.Direction) {
	f(pos, block, facing)
}

type Stats struct {
	Layers  int   `json:"layers"`
	Actions int   `json:"actions"`
	Skipped int   `json:"skipped"`
	Writes  int64 `json:"writes"`
}

type Executor struct {
	Resolver *resolve.Resolver
	Sink     diag.Sink
	// Rotation turns the script about the origin's Y axis, in quarter turns
	// or multiples of 90 degrees.
	Rotation int
}

// Execute writes s at origin. Bad actions and points are reported to Sink and
// skipped; only a missing structure fails the whole script.
func (e *Executor) Execute(s *script.Script, origin geom.Vec3i, w Writer) (Stats, error) {
	var st Stats
	if s == nil || s.Structure == nil {
		return st, ErrEmptyScript
	}
	r := &run{
		sink:   diag.OrDiscard(e.Sink),
		rot:    geom.QuarterTurns(e.Rotation),
		origin: origin,
		w:      w,
		stats:  &st,
	}
	r.session = e.Resolver.Session(s.Palette, r.sink)

	for li, layer := range s.Structure {
		st.Layers++
		if len(layer.Actions) == 0 {
			r.sink.Emit(diag.Event{Kind: diag.KindLayerEmpty, Layer: li, Action: -1, Message: "layer has no actions"})
			continue
		}
		for ai, a := range layer.Actions {
			st.Actions++
			r.action(li, ai, a)
		}
	}
	return st, nil
}

type run struct {
	sink    diag.Sink
	session *resolve.Session
	rot     int
	origin  geom.Vec3i
	w       Writer
	stats   *Stats
}

func (r *run) action(li, ai int, a script.Action) {
	switch op := a.Op(); op {
	case script.OpFill, script.OpFrame:
		from, okFrom := a.From.Vec()
		to, okTo := a.To.Vec()
		if !okFrom || !okTo {
			r.skip(li, ai, diag.KindActionMalformed, a.Type,
				fmt.Sprintf("%s needs from and to as [x,y,z], got from=%s to=%s", op, rawOf(a.From), rawOf(a.To)))
			return
		}
		block := r.session.Lookup(a.Block, li, ai)
		facing := r.facing(a, block)
		box := geom.BoxOf(r.place(from), r.place(to))
		box.Each(func(p geom.Vec3i) {
			if op == script.OpFrame && !box.OnBoundary(p) {
				return
			}
			r.write(p, block, facing)
		})

	case script.OpSet:
		if len(a.At) == 0 {
			r.skip(li, ai, diag.KindActionMalformed, a.Type, "set needs at as a list of [x,y,z]")
			return
		}
		block := r.session.Lookup(a.Block, li, ai)
		facing := r.facing(a, block)
		for pi, pt := range a.At {
			off, ok := pt.Vec()
			if !ok {
				r.sink.Emit(diag.Event{
					Kind: diag.KindPointMalformed, Layer: li, Action: ai, Raw: rawOf(pt),
					Message: fmt.Sprintf("point %d is not [x,y,z]", pi),
				})
				continue
			}
			r.write(r.place(off), block, facing)
		}

	default:
		if strings.TrimSpace(a.Type) == "" {
			r.skip(li, ai, diag.KindActionMalformed, "", "action has no type")
			return
		}
		r.skip(li, ai, diag.KindActionUnknownType, a.Type, fmt.Sprintf("unknown action type %q", a.Type))
	}
}

func (r *run) place(off geom.Vec3i) geom.Vec3i {
	return r.origin.Add(off.TurnY(r.rot))
}

func (r *run) facing(a script.Action, block catalogs.BlockDef) script.Direction {
	d, ok := script.ParseDirection(a.Facing)
	if !ok {
		return script.DirNone
	}
	d = d.Rotate(r.rot)
	if !block.Orientable(string(d)) {
		return script.DirNone
	}
	return d
}

func (r *run) write(p geom.Vec3i, block catalogs.BlockDef, facing script.Direction) {
	r.w.SetBlock(p, block, facing)
	r.stats.Writes++
}

func (r *run) skip(li, ai int, kind diag.Kind, raw, msg string) {
	r.stats.Skipped++
	r.sink.Emit(diag.Event{Kind: kind, Layer: li, Action: ai, Raw: raw, Message: msg})
}

func rawOf(t script.Triple) string {
	if len(t) == 0 {
		return "null"
	}
	return string(t)
}
