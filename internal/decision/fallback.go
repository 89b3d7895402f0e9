package decision

import (
	"fmt"
	"math"
	"math/rand"

	"farmhands/internal/geo"
)

// Cause selects the reasoning marker on a synthesized decision.
type Cause int

const (
	// CauseModelError covers a failed or timed out model call.
	CauseModelError Cause = iota
	// CauseInvalidOutput covers a model reply that failed validation.
	CauseInvalidOutput
)

const (
	ReasonErrorFallback = "error-fallback"
	ReasonParseFallback = "parse-fallback"
)

func (c Cause) Marker() string {
	if c == CauseInvalidOutput {
		return ReasonParseFallback
	}
	return ReasonErrorFallback
}

// centerTolerance is the fraction of the smaller map dimension within which an
// axis counts as already aligned with the center.
const centerTolerance = 0.02

// preferredMoveSeconds is clamped into the schema's move duration range.
const preferredMoveSeconds = 3

var cardinals = []geo.Direction{geo.North, geo.East, geo.South, geo.West}

// Synthesize builds a center-seeking decision that satisfies s. It never
// fails for a schema that passes Schema.Check. rng only breaks ties and picks
// animations; a nil rng uses a fixed seed.
func Synthesize(c Context, s Schema, cause Cause, rng *rand.Rand) Decision {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	moves, anims, _ := s.fallbackCounts()
	n := moves + anims

	threshold := math.Max(1, c.MapBounds.MinDimension()*centerTolerance)
	h := geo.TowardCenter(c.AIPosition, c.MapBounds, threshold)
	if h.Centered {
		h.Primary = cardinals[rng.Intn(len(cardinals))]
		h.Secondary = opposite(h.Primary)
	}

	animAt := make(map[int]bool, anims)
	if moves == 0 {
		for i := 0; i < n; i++ {
			animAt[i] = true
		}
	} else {
		// Evenly spaced; the first slot is always a move.
		for j := 0; j < anims; j++ {
			animAt[(j+1)*n/(anims+1)] = true
		}
	}

	picker := newAnimationPicker(s, rng)
	seq := make([]ActionStep, 0, n)
	moveIdx := 0
	for i := 0; i < n; i++ {
		if animAt[i] {
			seq = append(seq, Animate(picker.next(), s.AnimationDuration.clamp(0)))
			continue
		}
		seq = append(seq, Move(s.MoveDuration.clamp(preferredMoveSeconds), moveDirections(h, s, moveIdx)...))
		moveIdx++
	}

	center := geo.Center(c.MapBounds)
	return Decision{
		Sequence:  seq,
		Reasoning: fmt.Sprintf("%s: heading toward map center (%.0f, %.0f)", cause.Marker(), center.X, center.Y),
		Source:    SourceFallback,
		Schema:    s.Name,
	}
}

// moveDirections cycles primary, secondary, diagonal. The cycle starts on the
// primary so the first move always closes the dominant gap.
func moveDirections(h geo.Heading, s Schema, idx int) []geo.Direction {
	var d geo.Direction
	switch idx % 3 {
	case 0:
		d = h.Primary
	case 1:
		d = h.Secondary
	default:
		d = h.Diagonal
		if d == "" {
			d = h.Primary
		}
	}
	if s.MaxDirections >= 2 && idx%3 == 0 && h.Diagonal != "" {
		return []geo.Direction{d, h.Diagonal}
	}
	return []geo.Direction{d}
}

func opposite(d geo.Direction) geo.Direction {
	switch d {
	case geo.North:
		return geo.South
	case geo.South:
		return geo.North
	case geo.East:
		return geo.West
	default:
		return geo.East
	}
}

type animationPicker struct {
	rng  *rand.Rand
	pool []Animation
	last Animation
}

func newAnimationPicker(s Schema, rng *rand.Rand) *animationPicker {
	p := &animationPicker{rng: rng, pool: s.nonIdle()}
	if len(p.pool) == 0 && s.Allows(Idle) {
		p.pool = []Animation{Idle}
	}
	return p
}

func (p *animationPicker) next() Animation {
	if len(p.pool) == 1 {
		p.last = p.pool[0]
		return p.last
	}
	a := p.pool[p.rng.Intn(len(p.pool))]
	if a == p.last {
		a = p.pool[(indexOf(p.pool, a)+1)%len(p.pool)]
	}
	p.last = a
	return a
}

func indexOf(pool []Animation, a Animation) int {
	for i, v := range pool {
		if v == a {
			return i
		}
	}
	return 0
}
