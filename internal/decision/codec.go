package decision

import (
	"encoding/json"
	"fmt"

	"farmhands/internal/geo"
)

type wireStep struct {
	Action    string          `json:"action"`
	Direction json.RawMessage `json:"direction,omitempty"`
	Duration  float64         `json:"duration"`
}

// MarshalJSON writes the model-facing shape: a single direction is a string,
// several are an array.
func (s ActionStep) MarshalJSON() ([]byte, error) {
	w := wireStep{Action: s.Label(), Duration: s.Duration}
	if s.Kind == KindMove {
		var (
			raw []byte
			err error
		)
		if len(s.Directions) == 1 {
			raw, err = json.Marshal(s.Directions[0])
		} else {
			raw, err = json.Marshal(s.Directions)
		}
		if err != nil {
			return nil, err
		}
		w.Direction = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON is the lenient inverse of MarshalJSON. It does not enforce a
// schema; use Validate for untrusted input.
func (s *ActionStep) UnmarshalJSON(b []byte) error {
	var w wireStep
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if w.Action == "move" {
		dirs, err := decodeDirections(w.Direction)
		if err != nil {
			return err
		}
		*s = Move(w.Duration, dirs...)
		return nil
	}
	a, ok := ParseAnimation(w.Action)
	if !ok {
		return fmt.Errorf("unknown action %q", w.Action)
	}
	*s = Animate(a, w.Duration)
	return nil
}

func decodeDirections(raw json.RawMessage) ([]geo.Direction, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []geo.Direction{geo.Direction(one)}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("direction must be a string or an array of strings")
	}
	out := make([]geo.Direction, 0, len(many))
	for _, d := range many {
		out = append(out, geo.Direction(d))
	}
	return out, nil
}
