// Package decision defines the bounded action sequence an agent executes, the
// schema that constrains it, and the validation and fallback rules that turn
// model output into a sequence that is always safe to execute.
package decision

import (
	"strings"

	"farmhands/internal/geo"
)

type Kind uint8

const (
	KindMove Kind = iota + 1
	KindAnimation
)

func (k Kind) String() string {
	switch k {
	case KindMove:
		return "move"
	case KindAnimation:
		return "animation"
	default:
		return "unknown"
	}
}

type Animation string

const (
	Attack    Animation = "ATTACK"
	Axe       Animation = "AXE"
	Dig       Animation = "DIG"
	Hammering Animation = "HAMMERING"
	Jump      Animation = "JUMP"
	Mining    Animation = "MINING"
	Reeling   Animation = "REELING"
	Watering  Animation = "WATERING"
	Idle      Animation = "idle"
)

// Animations is the full vocabulary a schema may draw from.
var Animations = []Animation{Attack, Axe, Dig, Hammering, Jump, Mining, Reeling, Watering, Idle}

// ParseAnimation matches name case-insensitively against the vocabulary and
// returns the canonical spelling.
func ParseAnimation(name string) (Animation, bool) {
	name = strings.TrimSpace(name)
	for _, a := range Animations {
		if strings.EqualFold(string(a), name) {
			return a, true
		}
	}
	return "", false
}

// ActionStep is one timed element of a sequence. Exactly one of Directions
// (KindMove) or Animation (KindAnimation) is meaningful, selected by Kind; use
// Move and Animate to build steps.
type ActionStep struct {
	Kind       Kind
	Directions []geo.Direction
	Animation  Animation
	// Duration is in seconds.
	Duration float64
}

func Move(duration float64, dirs ...geo.Direction) ActionStep {
	return ActionStep{Kind: KindMove, Directions: dirs, Duration: duration}
}

func Animate(name Animation, duration float64) ActionStep {
	return ActionStep{Kind: KindAnimation, Animation: name, Duration: duration}
}

// Label is the wire "action" value of the step.
func (s ActionStep) Label() string {
	if s.Kind == KindMove {
		return "move"
	}
	return string(s.Animation)
}

type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

type Decision struct {
	Sequence  []ActionStep `json:"sequence"`
	Reasoning string       `json:"reasoning"`
	Source    Source       `json:"source"`
	Schema    string       `json:"schema,omitempty"`
}

// TotalDuration sums the step durations in seconds.
func (d Decision) TotalDuration() float64 {
	var total float64
	for _, s := range d.Sequence {
		total += s.Duration
	}
	return total
}

// AnimationsUsed lists the animation names of the sequence in order.
func (d Decision) AnimationsUsed() []Animation {
	var out []Animation
	for _, s := range d.Sequence {
		if s.Kind == KindAnimation {
			out = append(out, s.Animation)
		}
	}
	return out
}

// Context is the game state a decision is made for.
type Context struct {
	AIPosition     geo.Vec    `json:"aiPosition"`
	PlayerPosition geo.Vec    `json:"playerPosition"`
	MapBounds      geo.Bounds `json:"mapBounds"`
}

// Request is the job payload for one decision: which agent, the game state it
// sees, and the client's request sequence number for that agent.
type Request struct {
	AIAgentID  string  `json:"aiAgentId"`
	GameState  Context `json:"gameState"`
	RequestSeq int64   `json:"requestSeq,omitempty"`
}
