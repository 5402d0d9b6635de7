package script

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"structurecraft.ai/internal/geom"
)

// Script is a parsed structure document. It is not modified during execution.
type Script struct {
	Palette map[string]string `json:"palette"`
	// Structure is nil when the document carried "structure": null.
	Structure []Layer `json:"structure"`
}

type Layer struct {
	Actions []Action `json:"actions"`
}

type Action struct {
	Type   string `json:"type,omitempty"`
	Block  string `json:"block,omitempty"`
	From   Triple `json:"from,omitempty"`
	To     Triple `json:"to,omitempty"`
	At     Points `json:"at,omitempty"`
	Facing string `json:"facing,omitempty"`
}

type Op int

const (
	OpUnknown Op = iota
	OpFill
	OpFrame
	OpSet
)

func (o Op) String() string {
	switch o {
	case OpFill:
		return "fill"
	case OpFrame:
		return "frame"
	case OpSet:
		return "set"
	default:
		return "unknown"
	}
}

// Op classifies the action's type tag, ignoring case and surrounding space.
func (a Action) Op() Op {
	switch strings.ToLower(strings.TrimSpace(a.Type)) {
	case "fill":
		return OpFill
	case "frame":
		return OpFrame
	case "set":
		return OpSet
	default:
		return OpUnknown
	}
}

// UnmarshalJSON never fails: an action that is not an object decodes to the
// zero Action, and string fields holding other JSON types are dropped.
func (a *Action) UnmarshalJSON(data []byte) error {
	*a = Action{}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil
	}
	a.Type = stringField(fields, "type")
	a.Block = stringField(fields, "block")
	a.Facing = stringField(fields, "facing")
	if raw, ok := fields["from"]; ok {
		_ = a.From.UnmarshalJSON(raw)
	}
	if raw, ok := fields["to"]; ok {
		_ = a.To.UnmarshalJSON(raw)
	}
	if raw, ok := fields["at"]; ok {
		_ = a.At.UnmarshalJSON(raw)
	}
	return nil
}

func (l *Layer) UnmarshalJSON(data []byte) error {
	*l = Layer{}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(fields["actions"], &items); err != nil || items == nil {
		return nil
	}
	l.Actions = make([]Action, len(items))
	for i, raw := range items {
		_ = l.Actions[i].UnmarshalJSON(raw)
	}
	return nil
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Triple is a coordinate as it appeared in the document. It is kept raw so a
// malformed triple only costs the action or point that uses it.
type Triple []byte

func T(x, y, z int) Triple {
	b, _ := json.Marshal([3]int{x, y, z})
	return Triple(b)
}

func (t Triple) MarshalJSON() ([]byte, error) {
	if len(t) == 0 {
		return []byte("null"), nil
	}
	return []byte(t), nil
}

func (t *Triple) UnmarshalJSON(data []byte) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		*t = nil
		return nil
	}
	if buf.String() == "null" {
		*t = nil
		return nil
	}
	*t = Triple(buf.Bytes())
	return nil
}

// Vec decodes the triple. It reports false unless the value is an array of
// exactly three integral numbers.
func (t Triple) Vec() (geom.Vec3i, bool) {
	if len(t) == 0 {
		return geom.Vec3i{}, false
	}
	dec := json.NewDecoder(bytes.NewReader(t))
	dec.UseNumber()
	var items []any
	if err := dec.Decode(&items); err != nil || len(items) != 3 {
		return geom.Vec3i{}, false
	}
	var out [3]int
	for i, it := range items {
		n, ok := it.(json.Number)
		if !ok {
			return geom.Vec3i{}, false
		}
		v, ok := integral(n)
		if !ok {
			return geom.Vec3i{}, false
		}
		out[i] = v
	}
	return geom.V(out[0], out[1], out[2]), true
}

func integral(n json.Number) (int, bool) {
	if i, err := n.Int64(); err == nil {
		if i < math.MinInt32 || i > math.MaxInt32 {
			return 0, false
		}
		return int(i), true
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// Points is the "at" list of a set action. A value that is not an array
// decodes to nil; elements are kept raw like Triple.
type Points []Triple

func (p *Points) UnmarshalJSON(data []byte) error {
	*p = nil
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil || items == nil {
		return nil
	}
	out := make(Points, len(items))
	for i, raw := range items {
		_ = out[i].UnmarshalJSON(raw)
	}
	*p = out
	return nil
}

// Direction is an optional facing hint.
type Direction string

const (
	DirNone  Direction = ""
	DirNorth Direction = "north"
	DirSouth Direction = "south"
	DirEast  Direction = "east"
	DirWest  Direction = "west"
	DirUp    Direction = "up"
	DirDown  Direction = "down"
)

func ParseDirection(s string) (Direction, bool) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case DirNorth, DirSouth, DirEast, DirWest, DirUp, DirDown:
		return d, true
	default:
		return DirNone, false
	}
}

func (d Direction) Horizontal() bool {
	return d == DirNorth || d == DirSouth || d == DirEast || d == DirWest
}

// Rotate turns a horizontal direction by rot quarter turns about Y, the same
// way geom.Vec3i.TurnY turns offsets. Up, down and none are unchanged.
func (d Direction) Rotate(rot int) Direction {
	if !d.Horizontal() {
		return d
	}
	var x, z int
	switch d {
	case DirNorth:
		z = -1
	case DirSouth:
		z = 1
	case DirEast:
		x = 1
	case DirWest:
		x = -1
	}
	v := geom.V(x, 0, z).TurnY(geom.QuarterTurns(rot))
	switch {
	case v.Z < 0:
		return DirNorth
	case v.Z > 0:
		return DirSouth
	case v.X > 0:
		return DirEast
	default:
		return DirWest
	}
}
