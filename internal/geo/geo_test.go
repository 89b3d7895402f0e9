package geo

import (
	"math"
	"testing"
)

func TestMovementIsUnitLength(t *testing.T) {
	for _, d := range Directions {
		v := MovementFromDirection(d)
		if math.Abs(v.Len()-1) > 1e-9 {
			t.Fatalf("%s: |v| = %v, want 1", d, v.Len())
		}
	}
	if v := MovementFromDirection("up"); !v.IsZero() {
		t.Fatalf("unknown direction should map to zero vector, got %+v", v)
	}
}

func TestDirectionRoundTrip(t *testing.T) {
	for _, d := range Directions {
		got, ok := DirectionFromMovement(MovementFromDirection(d))
		if !ok || got != d {
			t.Fatalf("round trip %s -> %s (ok=%v)", d, got, ok)
		}
	}
}

func TestDirectionFromMovementClassifiesBySign(t *testing.T) {
	cases := []struct {
		v    Vec
		want Direction
	}{
		{Vec{0, -3}, North},
		{Vec{5, 0}, East},
		{Vec{2, 7}, Southeast},
		{Vec{-0.1, -9}, Northwest},
	}
	for _, tc := range cases {
		got, ok := DirectionFromMovement(tc.v)
		if !ok || got != tc.want {
			t.Fatalf("DirectionFromMovement(%+v) = %s, want %s", tc.v, got, tc.want)
		}
	}
	if _, ok := DirectionFromMovement(Vec{}); ok {
		t.Fatal("zero vector should not classify")
	}
}

func TestTowardCenter(t *testing.T) {
	b := Bounds{Width: 2000, Height: 2000}
	cases := []struct {
		name      string
		pos       Vec
		primary   Direction
		secondary Direction
		diagonal  Direction
	}{
		{"far west", Vec{100, 1000}, East, East, ""},
		{"north east corner", Vec{1900, 200}, West, South, Southwest},
		{"below center", Vec{990, 1800}, North, North, ""},
		{"south west dominant vertical", Vec{700, 1900}, North, East, Northeast},
	}
	for _, tc := range cases {
		h := TowardCenter(tc.pos, b, 20)
		if h.Centered {
			t.Fatalf("%s: unexpectedly centered", tc.name)
		}
		if h.Primary != tc.primary || h.Secondary != tc.secondary || h.Diagonal != tc.diagonal {
			t.Fatalf("%s: got %+v", tc.name, h)
		}
	}
}

func TestTowardCenterReducesDistance(t *testing.T) {
	b := Bounds{Width: 1600, Height: 900}
	for _, pos := range []Vec{{10, 10}, {1500, 40}, {300, 880}, {1590, 870}, {800, 10}} {
		h := TowardCenter(pos, b, 5)
		next := pos.Add(MovementFromDirection(h.Primary).Scale(10))
		if DistanceToCenter(next, b) >= DistanceToCenter(pos, b) {
			t.Fatalf("primary %s from %+v does not approach center", h.Primary, pos)
		}
	}
}

func TestTowardCenterAtCenter(t *testing.T) {
	h := TowardCenter(Vec{1000, 1002}, Bounds{Width: 2000, Height: 2000}, 5)
	if !h.Centered || h.Primary != "" {
		t.Fatalf("expected centered heading, got %+v", h)
	}
}

func TestBoundsClamp(t *testing.T) {
	b := Bounds{Width: 100, Height: 50}
	got := b.Clamp(Vec{-5, 80})
	if got != (Vec{0, 50}) {
		t.Fatalf("Clamp = %+v", got)
	}
}
