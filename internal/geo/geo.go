// Package geo maps compass directions to movement vectors and locates
// positions relative to the map center. Screen coordinates: +x east, +y south.
package geo

import "math"

type Direction string

const (
	North     Direction = "north"
	South     Direction = "south"
	East      Direction = "east"
	West      Direction = "west"
	Northeast Direction = "northeast"
	Northwest Direction = "northwest"
	Southeast Direction = "southeast"
	Southwest Direction = "southwest"
)

// Directions lists the canonical compass values in a stable order.
var Directions = []Direction{North, South, East, West, Northeast, Northwest, Southeast, Southwest}

type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Bounds struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

var diag = 1 / math.Sqrt2

var movement = map[Direction]Vec{
	North:     {0, -1},
	South:     {0, 1},
	East:      {1, 0},
	West:      {-1, 0},
	Northeast: {diag, -diag},
	Northwest: {-diag, -diag},
	Southeast: {diag, diag},
	Southwest: {-diag, diag},
}

func (d Direction) Valid() bool {
	_, ok := movement[d]
	return ok
}

// Diagonal reports whether d moves on both axes.
func (d Direction) Diagonal() bool {
	v := movement[d]
	return v.X != 0 && v.Y != 0
}

// MovementFromDirection returns the unit vector for d, or the zero vector for
// an unknown direction.
func MovementFromDirection(d Direction) Vec {
	return movement[d]
}

// DirectionFromMovement classifies a vector by its sign pattern. ok is false
// for the zero vector.
func DirectionFromMovement(v Vec) (Direction, bool) {
	const eps = 1e-9
	sx, sy := sign(v.X, eps), sign(v.Y, eps)
	switch {
	case sx == 0 && sy == 0:
		return "", false
	case sx == 0 && sy < 0:
		return North, true
	case sx == 0:
		return South, true
	case sy == 0 && sx > 0:
		return East, true
	case sy == 0:
		return West, true
	case sx > 0 && sy < 0:
		return Northeast, true
	case sx > 0:
		return Southeast, true
	case sy < 0:
		return Northwest, true
	default:
		return Southwest, true
	}
}

func (v Vec) Add(o Vec) Vec { return Vec{v.X + o.X, v.Y + o.Y} }
func (v Vec) Scale(k float64) Vec { return Vec{v.X * k, v.Y * k} }
func (v Vec) Len() float64 { return math.Hypot(v.X, v.Y) }
func (v Vec) IsZero() bool { return v.X == 0 && v.Y == 0 }
func (b Bounds) MinDimension() float64 { return math.Min(b.Width, b.Height) }

// Clamp keeps v inside [0,width]x[0,height].
func (b Bounds) Clamp(v Vec) Vec {
	return Vec{X: math.Max(0, math.Min(b.Width, v.X)), Y: math.Max(0, math.Min(b.Height, v.Y))}
}

func Center(b Bounds) Vec {
	return Vec{X: b.Width / 2, Y: b.Height / 2}
}

func DistanceToCenter(pos Vec, b Bounds) float64 {
	c := Center(b)
	return math.Hypot(pos.X-c.X, pos.Y-c.Y)
}

// Heading describes the compass moves that reduce distance to the center.
type Heading struct {
	Dx, Dy float64
	// Primary follows the dominant axis delta; empty when Centered.
	Primary Direction
	// Secondary follows the other axis, falling back to Primary when that axis
	// is already aligned.
	Secondary Direction
	// Diagonal is set only when both axis deltas exceed the threshold.
	Diagonal Direction
	Centered bool
}

// TowardCenter computes the heading from pos to the center of b. Deltas whose
// magnitude is at most threshold count as aligned.
func TowardCenter(pos Vec, b Bounds, threshold float64) Heading {
	c := Center(b)
	h := Heading{Dx: c.X - pos.X, Dy: c.Y - pos.Y}
	ax, ay := math.Abs(h.Dx), math.Abs(h.Dy)
	if ax <= threshold && ay <= threshold {
		h.Centered = true
		return h
	}
	horizontal := East
	if h.Dx < 0 {
		horizontal = West
	}
	vertical := South
	if h.Dy < 0 {
		vertical = North
	}
	if ax > ay {
		h.Primary = horizontal
		h.Secondary = vertical
		if ay <= threshold {
			h.Secondary = horizontal
		}
	} else {
		h.Primary = vertical
		h.Secondary = horizontal
		if ax <= threshold {
			h.Secondary = vertical
		}
	}
	if ax > threshold && ay > threshold {
		h.Diagonal = combine(horizontal, vertical)
	}
	return h
}

func combine(horizontal, vertical Direction) Direction {
	return Direction(string(vertical) + string(horizontal))
}

func sign(v, eps float64) int {
	switch {
	case v > eps:
		return 1
	case v < -eps:
		return -1
	default:
		return 0
	}
}
