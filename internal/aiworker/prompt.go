package aiworker

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"

	"farmhands/internal/decision"
	"farmhands/internal/geo"
	"farmhands/internal/llm"
	"farmhands/internal/profile"
)

type Tier string

const (
	TierFine    Tier = "fine"
	TierCaution Tier = "caution"
	TierUrgent  Tier = "urgent"
)

// ClassifyUrgency compares the distance from the map center with fractions of
// the smaller map dimension.
func ClassifyUrgency(c decision.Context, u profile.Urgency) Tier {
	dist := geo.DistanceToCenter(c.AIPosition, c.MapBounds)
	minDim := c.MapBounds.MinDimension()
	switch {
	case dist > u.Urgent*minDim:
		return TierUrgent
	case dist > u.Caution*minDim:
		return TierCaution
	default:
		return TierFine
	}
}

var tierAdvice = map[Tier]string{
	TierUrgent:  "URGENT: too far from center. Most moves must head toward the center right away.",
	TierCaution: "CAUTION: drifting away from center. Bias moves toward the center.",
	TierFine:    "Good position. Explore freely but prefer inward directions.",
}

// BuildPrompt renders the system rules from s and the situation from c.
// recent is only mentioned for variety-aware schemas.
func BuildPrompt(c decision.Context, s decision.Schema, u profile.Urgency, recent []decision.Animation) []llm.Message {
	return []llm.Message{
		llm.System(systemPrompt(s)),
		llm.User(userPrompt(c, s, u, recent)),
	}
}

func systemPrompt(s decision.Schema) string {
	var b strings.Builder
	b.WriteString("You are a game AI that plans action sequences for a farm villager. Respond ONLY with valid JSON.\n\n")
	b.WriteString("Format:\n")
	b.WriteString(exampleJSON(s))
	b.WriteString("\n\nSTRICT RULES:\n")
	fmt.Fprintf(&b, "- Create EXACTLY %d actions in \"sequence\"\n", s.Steps)
	if !s.Move.Unbounded() {
		fmt.Fprintf(&b, "- Use %s \"move\" actions\n", s.Move)
	}
	if !s.Animation.Unbounded() {
		fmt.Fprintf(&b, "- Use %s non-move actions\n", s.Animation)
	}
	if !s.Idle.Unbounded() {
		fmt.Fprintf(&b, "- Use %s \"idle\" actions\n", s.Idle)
	}
	b.WriteString("- action: \"move\"")
	for _, a := range s.Vocabulary {
		fmt.Fprintf(&b, ", %q", a)
	}
	b.WriteString("\n")
	names := make([]string, len(geo.Directions))
	for i, d := range geo.Directions {
		names[i] = fmt.Sprintf("%q", d)
	}
	if s.MaxDirections > 1 {
		fmt.Fprintf(&b, "- direction (move only): a list of 1 to %d of %s; the step time is split evenly across them\n",
			s.MaxDirections, strings.Join(names, ", "))
	} else {
		fmt.Fprintf(&b, "- direction (move only): one of %s\n", strings.Join(names, ", "))
	}
	fmt.Fprintf(&b, "- move duration in seconds: %s\n", s.MoveDuration)
	if len(s.Vocabulary) > 0 {
		fmt.Fprintf(&b, "- other action duration in seconds: %s\n", s.AnimationDuration)
	}
	b.WriteString("- Always prioritize staying near the map center\n")
	b.WriteString("- Avoid long runs in the same outward direction\n")
	b.WriteString("\nRespond with JSON only, no other text.")
	return b.String()
}

// exampleJSON shows the model a sequence that already satisfies s.
func exampleJSON(s decision.Schema) string {
	bounds := geo.Bounds{Width: 1000, Height: 1000}
	ctx := decision.Context{AIPosition: geo.Vec{X: 700, Y: 300}, MapBounds: bounds}
	d := decision.Synthesize(ctx, s, decision.CauseModelError, rand.New(rand.NewSource(7)))
	example := struct {
		Sequence  []decision.ActionStep `json:"sequence"`
		Reasoning string                `json:"reasoning"`
	}{d.Sequence, "heading back toward the center while working"}
	out, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(out)
}

func userPrompt(c decision.Context, s decision.Schema, u profile.Urgency, recent []decision.Animation) string {
	center := geo.Center(c.MapBounds)
	dist := geo.DistanceToCenter(c.AIPosition, c.MapBounds)
	maxDist := u.Urgent * c.MapBounds.MinDimension()
	tier := ClassifyUrgency(c, u)

	var b strings.Builder
	fmt.Fprintf(&b, "AI at (%.0f, %.0f). Map center: (%.0f, %.0f). Distance from center: %.0f. Max recommended distance: %.0f.\n",
		c.AIPosition.X, c.AIPosition.Y, center.X, center.Y, dist, maxDist)
	b.WriteString(tierAdvice[tier])
	fmt.Fprintf(&b, "\nPlayer at (%.0f, %.0f).", c.PlayerPosition.X, c.PlayerPosition.Y)
	if s.VarietyAware && len(recent) > 0 {
		names := make([]string, len(recent))
		for i, a := range recent {
			names[i] = string(a)
		}
		fmt.Fprintf(&b, "\nRecently used actions: %s. Do NOT repeat these; pick different ones.", strings.Join(names, ", "))
	}
	b.WriteString("\nCreate the action sequence.")
	return b.String()
}
