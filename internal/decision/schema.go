package decision

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// CountRange bounds how many steps of a kind a sequence may hold. Max 0 means
// no upper bound.
type CountRange struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

func (r CountRange) allows(n int) bool {
	return n >= r.Min && (r.Max == 0 || n <= r.Max)
}

func (r CountRange) String() string { return describeCount(r) }

// Unbounded reports whether r places no constraint at all.
func (r CountRange) Unbounded() bool { return r.Min == 0 && r.Max == 0 }

func (r CountRange) upper(limit int) int {
	if r.Max == 0 || r.Max > limit {
		return limit
	}
	return r.Max
}

// DurationRange bounds a step duration in seconds. Max 0 means no upper bound.
type DurationRange struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

func (r DurationRange) allows(v float64) bool {
	return v >= r.Min && (r.Max == 0 || v <= r.Max)
}

func (r DurationRange) String() string { return describe(r) }

func (r DurationRange) clamp(v float64) float64 {
	if v < r.Min {
		v = r.Min
	}
	if r.Max > 0 && v > r.Max {
		v = r.Max
	}
	return v
}

// Schema is the full set of constraints on a decision. Every schema variant is
// a value of this type; validation, prompting and fallback all read from it.
type Schema struct {
	Name              string        `yaml:"name" json:"name"`
	Steps             int           `yaml:"steps" json:"steps"`
	Vocabulary        []Animation   `yaml:"vocabulary" json:"vocabulary"`
	Move              CountRange    `yaml:"move" json:"move"`
	Animation         CountRange    `yaml:"animation" json:"animation"`
	Idle              CountRange    `yaml:"idle" json:"idle"`
	MoveDuration      DurationRange `yaml:"move_duration" json:"moveDuration"`
	AnimationDuration DurationRange `yaml:"animation_duration" json:"animationDuration"`
	MaxDirections     int           `yaml:"max_directions" json:"maxDirections"`
	VarietyAware      bool          `yaml:"variety_aware" json:"varietyAware"`
	RedecideInterval  time.Duration `yaml:"redecide_interval" json:"redecideInterval"`
}

var ErrInvalidSchema = errors.New("invalid_schema")

func (s Schema) Allows(a Animation) bool {
	for _, v := range s.Vocabulary {
		if v == a {
			return true
		}
	}
	return false
}

func (s Schema) nonIdle() []Animation {
	out := make([]Animation, 0, len(s.Vocabulary))
	for _, v := range s.Vocabulary {
		if v != Idle {
			out = append(out, v)
		}
	}
	return out
}

// MaxStepDirections caps the direction list of any move step.
const MaxStepDirections = 4

// Check reports whether the schema is self-consistent: every name is known
// and at least one sequence satisfies all of its bounds at once.
func (s Schema) Check() error {
	if s.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidSchema)
	}
	if s.Steps <= 0 {
		return fmt.Errorf("%w: %s: steps must be positive", ErrInvalidSchema, s.Name)
	}
	if s.MaxDirections < 1 || s.MaxDirections > MaxStepDirections {
		return fmt.Errorf("%w: %s: max_directions must be between 1 and %d", ErrInvalidSchema, s.Name, MaxStepDirections)
	}
	for _, a := range s.Vocabulary {
		if _, ok := ParseAnimation(string(a)); !ok {
			return fmt.Errorf("%w: %s: unknown animation %q", ErrInvalidSchema, s.Name, a)
		}
	}
	for name, r := range map[string]DurationRange{"move_duration": s.MoveDuration, "animation_duration": s.AnimationDuration} {
		if r.Min <= 0 {
			return fmt.Errorf("%w: %s: %s min must be positive", ErrInvalidSchema, s.Name, name)
		}
		if r.Max != 0 && r.Max < r.Min {
			return fmt.Errorf("%w: %s: %s max below min", ErrInvalidSchema, s.Name, name)
		}
	}
	if _, _, ok := s.fallbackCounts(); !ok {
		return fmt.Errorf("%w: %s: no sequence satisfies the step counts", ErrInvalidSchema, s.Name)
	}
	return nil
}

// fallbackCounts picks the move and animation counts used by Synthesize. The
// move count is the smallest allowed, raised to one so the agent always heads
// somewhere, and raised further when the animation bounds demand it.
func (s Schema) fallbackCounts() (moves, anims int, ok bool) {
	animCap := s.Animation.upper(s.Steps)
	if len(s.nonIdle()) == 0 {
		if !s.Allows(Idle) {
			animCap = 0
		} else if s.Idle.Max > 0 && s.Idle.Max < animCap {
			animCap = s.Idle.Max
		}
	}
	fits := func(m int) bool {
		a := s.Steps - m
		return a >= 0 && a <= animCap && s.Animation.allows(a)
	}
	lo, hi := s.Move.Min, s.Move.upper(s.Steps)
	if lo == 0 && hi >= 1 {
		for m := 1; m <= hi; m++ {
			if fits(m) {
				return m, s.Steps - m, true
			}
		}
	}
	for m := lo; m <= hi; m++ {
		if fits(m) {
			return m, s.Steps - m, true
		}
	}
	return 0, 0, false
}

var builtins = map[string]Schema{
	"8-step": {
		Name:              "8-step",
		Steps:             8,
		Vocabulary:        []Animation{Idle},
		Move:              CountRange{Min: 6},
		Idle:              CountRange{Max: 2},
		MoveDuration:      DurationRange{Min: 2, Max: 4},
		AnimationDuration: DurationRange{Min: 2, Max: 4},
		MaxDirections:     1,
		RedecideInterval:  15 * time.Second,
	},
	"6-step-tools": {
		Name:              "6-step-tools",
		Steps:             6,
		Vocabulary:        []Animation{Attack, Axe, Dig, Hammering, Jump, Mining, Reeling, Watering},
		Move:              CountRange{Min: 4, Max: 4},
		Animation:         CountRange{Min: 2, Max: 2},
		MoveDuration:      DurationRange{Min: 5, Max: 10},
		AnimationDuration: DurationRange{Min: 5, Max: 10},
		MaxDirections:     4,
		VarietyAware:      true,
		RedecideInterval:  30 * time.Second,
	},
	"6-step-mixed": {
		Name:              "6-step-mixed",
		Steps:             6,
		Vocabulary:        Animations,
		Move:              CountRange{Min: 2, Max: 2},
		Animation:         CountRange{Min: 4, Max: 4},
		MoveDuration:      DurationRange{Min: 5, Max: 5},
		AnimationDuration: DurationRange{Min: 5, Max: 10},
		MaxDirections:     1,
		VarietyAware:      true,
		RedecideInterval:  30 * time.Second,
	},
}

// DefaultSchema is the schema active when nothing else is configured.
const DefaultSchema = "6-step-mixed"

// Builtin returns one of the compiled-in schemas.
func Builtin(name string) (Schema, bool) {
	s, ok := builtins[name]
	if ok {
		s.Vocabulary = append([]Animation(nil), s.Vocabulary...)
	}
	return s, ok
}

// Builtins returns every compiled-in schema sorted by name.
func Builtins() []Schema {
	out := make([]Schema, 0, len(builtins))
	for name := range builtins {
		s, _ := Builtin(name)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
