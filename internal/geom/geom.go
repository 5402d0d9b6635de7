package geom

import (
	"fmt"
	"math"
)

type Vec3i struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func V(x, y, z int) Vec3i { return Vec3i{X: x, Y: y, Z: z} }

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

// TurnY rotates v about the Y axis by q clockwise quarter turns, seen from
// above with +Z south. q is taken mod 4.
func (v Vec3i) TurnY(q int) Vec3i {
	switch q & 3 {
	case 1:
		return Vec3i{X: v.Z, Y: v.Y, Z: -v.X}
	case 2:
		return Vec3i{X: -v.X, Y: v.Y, Z: -v.Z}
	case 3:
		return Vec3i{X: -v.Z, Y: v.Y, Z: v.X}
	}
	return v
}

// QuarterTurns reduces a rotation to [0,3]. Nonzero multiples of 90 are read
// as degrees, anything else as quarter turns.
func QuarterTurns(r int) int {
	if r != 0 && r%90 == 0 {
		r /= 90
	}
	return r & 3
}

func (v Vec3i) Array() [3]int { return [3]int{v.X, v.Y, v.Z} }

func (v Vec3i) String() string { return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z) }

// Box is an inclusive axis-aligned box. Min <= Max on every axis.
type Box struct {
	Min Vec3i
	Max Vec3i
}

// BoxOf derives per-axis bounds from two corners given in any order.
func BoxOf(a, b Vec3i) Box {
	return Box{
		Min: Vec3i{X: minInt(a.X, b.X), Y: minInt(a.Y, b.Y), Z: minInt(a.Z, b.Z)},
		Max: Vec3i{X: maxInt(a.X, b.X), Y: maxInt(a.Y, b.Y), Z: maxInt(a.Z, b.Z)},
	}
}

// OnBoundary reports whether p lies on at least one face of the box.
func (b Box) OnBoundary(p Vec3i) bool {
	return p.X == b.Min.X || p.X == b.Max.X ||
		p.Y == b.Min.Y || p.Y == b.Max.Y ||
		p.Z == b.Min.Z || p.Z == b.Max.Z
}

func (b Box) Size() Vec3i {
	return Vec3i{X: b.Max.X - b.Min.X + 1, Y: b.Max.Y - b.Min.Y + 1, Z: b.Max.Z - b.Min.Z + 1}
}

// Volume saturates at math.MaxInt64.
func (b Box) Volume() int64 {
	s := b.Size()
	return MulSat(MulSat(int64(s.X), int64(s.Y)), int64(s.Z))
}

// ShellVolume is the number of voxels on the boundary of the box: both XY
// faces plus the rings of the Z-2 slices between them. Saturates like Volume.
func (b Box) ShellVolume() int64 {
	s := b.Size()
	if s.X <= 2 || s.Y <= 2 || s.Z <= 2 {
		return b.Volume()
	}
	faces := MulSat(2, MulSat(int64(s.X), int64(s.Y)))
	ring := int64(2*s.X + 2*(s.Y-2))
	return AddSat(faces, MulSat(int64(s.Z-2), ring))
}

// MulSat multiplies non-negative a and b, clamping at math.MaxInt64.
func MulSat(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}

// AddSat adds non-negative a and b, clamping at math.MaxInt64.
func AddSat(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// Each visits every voxel of the box, x outer, y middle, z inner.
func (b Box) Each(fn func(p Vec3i)) {
	for x := b.Min.X; x <= b.Max.X; x++ {
		for y := b.Min.Y; y <= b.Max.Y; y++ {
			for z := b.Min.Z; z <= b.Max.Z; z++ {
				fn(Vec3i{X: x, Y: y, Z: z})
			}
		}
	}
}

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func Mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
