package build

import (
	"sort"

	"structurecraft.ai/internal/catalogs"
	"structurecraft.ai/internal/geom"
	"structurecraft.ai/internal/script"
)

type Placement struct {
	Block  string           `json:"block"`
	Facing script.Direction `json:"facing,omitempty"`
}

// Recorder is a Writer that keeps every write in order.
type Recorder struct {
	Writes []Write
}

type Write struct {
	Pos    geom.Vec3i
	Block  string
	Facing script.Direction
}

func (r *Recorder) SetBlock(pos geom.Vec3i, block catalogs.BlockDef, facing script.Direction) {
	r.Writes = append(r.Writes, Write{Pos: pos, Block: block.ID, Facing: facing})
}

// Tee fans every write out to ws in order.
func Tee(ws ...Writer) Writer {
	return WriterFunc(func(pos geom.Vec3i, block catalogs.BlockDef, facing script.Direction) {
		for _, w := range ws {
			w.SetBlock(pos, block, facing)
		}
	})
}

// Final collapses the writes with last-write-wins.
func (r *Recorder) Final() Plan {
	p := make(Plan, len(r.Writes))
	for _, w := range r.Writes {
		p[w.Pos] = Placement{Block: w.Block, Facing: w.Facing}
	}
	return p
}

// Plan is the end state a script leaves behind, keyed by absolute position.
type Plan map[geom.Vec3i]Placement

// Plan executes s against a recorder instead of a world.
func (e *Executor) Plan(s *script.Script, origin geom.Vec3i) (Plan, Stats, error) {
	var rec Recorder
	st, err := e.Execute(s, origin, &rec)
	if err != nil {
		return nil, st, err
	}
	return rec.Final(), st, nil
}

// Positions returns the plan's positions sorted x, then y, then z.
func (p Plan) Positions() []geom.Vec3i {
	out := make([]geom.Vec3i, 0, len(p))
	for pos := range p {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	return out
}

// BlockGetter reads the block id at an absolute position.
type BlockGetter func(pos geom.Vec3i) string

// Verify counts how many planned voxels already hold the planned block.
func Verify(get BlockGetter, plan Plan) (correct, total int) {
	if get == nil {
		return 0, len(plan)
	}
	for pos, want := range plan {
		if get(pos) == want.Block {
			correct++
		}
	}
	return correct, len(plan)
}
