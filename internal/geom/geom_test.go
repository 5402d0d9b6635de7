package geom

import (
	"math"
	"testing"
)

func TestBoxOf_CornerOrderIrrelevant(t *testing.T) {
	a := V(4, -1, 9)
	b := V(-2, 3, 1)
	want := Box{Min: V(-2, -1, 1), Max: V(4, 3, 9)}
	if got := BoxOf(a, b); got != want {
		t.Fatalf("BoxOf(a,b)=%+v want %+v", got, want)
	}
	if got := BoxOf(b, a); got != want {
		t.Fatalf("BoxOf(b,a)=%+v want %+v", got, want)
	}
	if got := BoxOf(V(4, 3, 1), V(-2, -1, 9)); got != want {
		t.Fatalf("mixed corners=%+v want %+v", got, want)
	}
}

func TestBox_EachOrderAndVolume(t *testing.T) {
	b := BoxOf(V(0, 0, 0), V(1, 1, 1))
	var got []Vec3i
	b.Each(func(p Vec3i) { got = append(got, p) })
	want := []Vec3i{
		V(0, 0, 0), V(0, 0, 1), V(0, 1, 0), V(0, 1, 1),
		V(1, 0, 0), V(1, 0, 1), V(1, 1, 0), V(1, 1, 1),
	}
	if len(got) != len(want) {
		t.Fatalf("visited %d voxels want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("visit[%d]=%v want %v", i, got[i], want[i])
		}
	}
	if b.Volume() != 8 {
		t.Fatalf("volume=%d want 8", b.Volume())
	}
}

func TestBox_ShellVolume(t *testing.T) {
	cases := []struct {
		box  Box
		want int64
	}{
		{box: BoxOf(V(0, 0, 0), V(2, 2, 2)), want: 26},
		{box: BoxOf(V(0, 0, 0), V(4, 3, 2)), want: 5*4*3 - 3*2*1},
		{box: BoxOf(V(0, 0, 0), V(1, 5, 5)), want: 2 * 6 * 6},
	}
	for _, c := range cases {
		n := int64(0)
		c.box.Each(func(p Vec3i) {
			if c.box.OnBoundary(p) {
				n++
			}
		})
		if n != c.want || c.box.ShellVolume() != c.want {
			t.Fatalf("box %+v: counted=%d shell=%d want %d", c.box, n, c.box.ShellVolume(), c.want)
		}
	}
}

func TestBox_VolumeSaturates(t *testing.T) {
	huge := BoxOf(V(math.MinInt32, math.MinInt32, math.MinInt32), V(math.MaxInt32, math.MaxInt32, math.MaxInt32))
	if huge.Volume() != math.MaxInt64 || huge.ShellVolume() != math.MaxInt64 {
		t.Fatalf("volume=%d shell=%d want saturated", huge.Volume(), huge.ShellVolume())
	}
	// 2^32 * 2^32 alone overflows int64.
	slab := BoxOf(V(math.MinInt32, math.MinInt32, 0), V(math.MaxInt32, math.MaxInt32, 0))
	if slab.Volume() != math.MaxInt64 {
		t.Fatalf("slab volume=%d", slab.Volume())
	}
	if MulSat(3, 4) != 12 || MulSat(0, math.MaxInt64) != 0 || AddSat(math.MaxInt64, 1) != math.MaxInt64 {
		t.Fatalf("MulSat/AddSat")
	}
}

func TestFloorDivMod(t *testing.T) {
	if FloorDiv(-1, 16) != -1 || Mod(-1, 16) != 15 {
		t.Fatalf("FloorDiv/Mod(-1,16)=%d,%d", FloorDiv(-1, 16), Mod(-1, 16))
	}
	if FloorDiv(16, 16) != 1 || Mod(16, 16) != 0 {
		t.Fatalf("FloorDiv/Mod(16,16)=%d,%d", FloorDiv(16, 16), Mod(16, 16))
	}
}

func TestQuarterTurns(t *testing.T) {
	for in, want := range map[int]int{
		0: 0, 1: 1, 3: 3, 4: 0, 5: 1, -1: 3,
		90: 1, 180: 2, 270: 3, 360: 0, 450: 1, -90: 3, -270: 1,
	} {
		if got := QuarterTurns(in); got != want {
			t.Fatalf("QuarterTurns(%d)=%d want %d", in, got, want)
		}
	}
}

func TestVec3i_TurnY(t *testing.T) {
	v := V(3, 7, -2)
	if got := v.TurnY(1); got != V(-2, 7, -3) {
		t.Fatalf("quarter turn: got %v", got)
	}
	if got := v.TurnY(2); got != V(-3, 7, 2) {
		t.Fatalf("half turn: got %v", got)
	}
	if got := v.TurnY(-1); got != v.TurnY(3) {
		t.Fatalf("negative turn: got %v want %v", got, v.TurnY(3))
	}
	p := v
	for range 4 {
		p = p.TurnY(1)
	}
	if p != v {
		t.Fatalf("four quarter turns: got %v want %v", p, v)
	}
	// East turns to north.
	if got := V(1, 0, 0).TurnY(1); got != V(0, 0, -1) {
		t.Fatalf("east: got %v", got)
	}
}
