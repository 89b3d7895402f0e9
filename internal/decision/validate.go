package decision

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed marks output that is not a parseable decision at all.
	ErrMalformed = errors.New("malformed_output")
	// ErrConstraint marks a parseable decision that breaks a schema bound.
	ErrConstraint = errors.New("schema_violation")
)

// ValidationError describes the first rule a candidate decision broke. Index
// is the offending step, or -1 when the problem is not tied to one step.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
	kind   error
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("step %d: %s: %s", e.Index, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.kind }

func malformed(index int, field, format string, args ...any) error {
	return &ValidationError{Index: index, Field: field, Reason: fmt.Sprintf(format, args...), kind: ErrMalformed}
}

func violation(index int, field, format string, args ...any) error {
	return &ValidationError{Index: index, Field: field, Reason: fmt.Sprintf(format, args...), kind: ErrConstraint}
}

// Validate parses raw model output and checks it against s. It stops at the
// first broken rule. The returned decision is marked as model-sourced.
func Validate(raw []byte, s Schema) (Decision, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(raw), &top); err != nil || top == nil {
		return Decision{}, malformed(-1, "response", "not a JSON object")
	}
	seqRaw, ok := top["sequence"]
	if !ok {
		return Decision{}, malformed(-1, "sequence", "missing")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(seqRaw, &items); err != nil || items == nil {
		return Decision{}, malformed(-1, "sequence", "not an array")
	}
	if len(items) != s.Steps {
		return Decision{}, violation(-1, "sequence", "has %d steps, want %d", len(items), s.Steps)
	}

	steps := make([]ActionStep, 0, len(items))
	for i, item := range items {
		step, err := parseStep(i, item)
		if err != nil {
			return Decision{}, err
		}
		steps = append(steps, step)
	}

	d := Decision{Sequence: steps, Source: SourceModel, Schema: s.Name}
	if r, ok := top["reasoning"]; ok {
		_ = json.Unmarshal(r, &d.Reasoning)
	}
	if err := Check(d, s); err != nil {
		return Decision{}, err
	}
	return d, nil
}

func parseStep(i int, item json.RawMessage) (ActionStep, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
		return ActionStep{}, malformed(i, "step", "not an object")
	}
	var action string
	if err := json.Unmarshal(fields["action"], &action); err != nil || strings.TrimSpace(action) == "" {
		return ActionStep{}, malformed(i, "action", "missing or not a string")
	}
	durRaw, ok := fields["duration"]
	if !ok {
		return ActionStep{}, malformed(i, "duration", "missing")
	}
	var dur float64
	if err := json.Unmarshal(durRaw, &dur); err != nil {
		return ActionStep{}, malformed(i, "duration", "not a number")
	}

	if action == "move" {
		dirs, err := decodeDirections(fields["direction"])
		if err != nil {
			return ActionStep{}, malformed(i, "direction", "%v", err)
		}
		return Move(dur, dirs...), nil
	}
	if a, ok := ParseAnimation(action); ok {
		return Animate(a, dur), nil
	}
	// Left as written so Check reports it against the vocabulary.
	return Animate(Animation(action), dur), nil
}

// Check applies the per-step and aggregate rules of s to an already typed
// decision. Validate calls it after parsing; the worker also uses it to assert
// that fallback output is acceptable.
func Check(d Decision, s Schema) error {
	if len(d.Sequence) != s.Steps {
		return violation(-1, "sequence", "has %d steps, want %d", len(d.Sequence), s.Steps)
	}
	var moves, anims, idles int
	for i, step := range d.Sequence {
		if step.Duration <= 0 {
			return violation(i, "duration", "must be positive")
		}
		switch step.Kind {
		case KindMove:
			if len(step.Directions) == 0 {
				return violation(i, "direction", "missing")
			}
			if len(step.Directions) > s.MaxDirections {
				return violation(i, "direction", "%d directions, at most %d allowed", len(step.Directions), s.MaxDirections)
			}
			for _, dir := range step.Directions {
				if !dir.Valid() {
					return violation(i, "direction", "unknown direction %q", dir)
				}
			}
			if !s.MoveDuration.allows(step.Duration) {
				return violation(i, "duration", "%g outside %s", step.Duration, describe(s.MoveDuration))
			}
			moves++
		case KindAnimation:
			if !s.Allows(step.Animation) {
				return violation(i, "action", "%q not in vocabulary", step.Animation)
			}
			if !s.AnimationDuration.allows(step.Duration) {
				return violation(i, "duration", "%g outside %s", step.Duration, describe(s.AnimationDuration))
			}
			anims++
			if step.Animation == Idle {
				idles++
			}
		default:
			return violation(i, "action", "unknown step kind")
		}
	}
	if !s.Move.allows(moves) {
		return violation(-1, "sequence", "%d move steps, want %s", moves, describeCount(s.Move))
	}
	if !s.Animation.allows(anims) {
		return violation(-1, "sequence", "%d animation steps, want %s", anims, describeCount(s.Animation))
	}
	if !s.Idle.allows(idles) {
		return violation(-1, "sequence", "%d idle steps, want %s", idles, describeCount(s.Idle))
	}
	return nil
}

func describe(r DurationRange) string {
	if r.Max == 0 {
		return fmt.Sprintf("[%g, inf)", r.Min)
	}
	return fmt.Sprintf("[%g, %g]", r.Min, r.Max)
}

func describeCount(r CountRange) string {
	switch {
	case r.Max == 0:
		return fmt.Sprintf("at least %d", r.Min)
	case r.Min == r.Max:
		return fmt.Sprintf("exactly %d", r.Min)
	case r.Min == 0:
		return fmt.Sprintf("at most %d", r.Max)
	default:
		return fmt.Sprintf("between %d and %d", r.Min, r.Max)
	}
}

// StripFences removes a markdown code fence around model output. Text before
// the opening fence is dropped along with the fence's language tag.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	body := s[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		tag := strings.TrimSpace(body[:nl])
		if !strings.ContainsAny(tag, "{[") {
			body = body[nl+1:]
		}
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}
