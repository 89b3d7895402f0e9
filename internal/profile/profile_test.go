package profile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultProfile(t *testing.T) {
	p, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if got := p.Active().Name; got != "6-step-mixed" {
		t.Fatalf("expected 6-step-mixed, got %s", got)
	}
	if got := p.PersonaFor("Agent_B").Name; got != "guard" {
		t.Fatalf("expected guard, got %s", got)
	}
	if got := p.PersonaFor("Agent_Z").Name; got != p.DefaultPersona.Name {
		t.Fatalf("expected default persona, got %s", got)
	}
	if p.Chat.SessionCap != 16 || p.Chat.HistoryTurns != 8 || p.Variety.Window != 6 {
		t.Fatalf("unexpected chat/variety settings: %+v %+v", p.Chat, p.Variety)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	writeFile(t, path, `
active_schema: short-walk
schemas:
  - name: short-walk
    steps: 3
    vocabulary: [idle]
    move: {min: 2}
    idle: {max: 1}
    move_duration: {min: 1, max: 2}
    animation_duration: {min: 1, max: 2}
    max_directions: 1
    redecide_interval: 7s
personas:
  Agent_E:
    name: fisher
    traits: patient
`)
	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s := p.Active()
	if s.Name != "short-walk" || s.Steps != 3 || s.RedecideInterval != 7*time.Second {
		t.Fatalf("unexpected active schema: %+v", s)
	}
	if p.PersonaFor("Agent_E").Name != "fisher" || p.PersonaFor("Agent_A").Name != "villager" {
		t.Fatalf("personas not merged: %+v", p.Personas)
	}
	if len(p.Chat.Fallbacks) == 0 {
		t.Fatalf("expected default fallbacks to survive overlay")
	}
	base, _ := Default()
	if _, ok := base.Personas["Agent_E"]; ok {
		t.Fatalf("overlay leaked into defaults")
	}
}

func TestLoadRejectsInconsistentSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	writeFile(t, path, `
schemas:
  - name: broken
    steps: 2
    vocabulary: [AXE]
    move: {min: 3}
    move_duration: {min: 1}
    animation_duration: {min: 1}
    max_directions: 1
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for impossible schema")
	}
}

func TestWithActive(t *testing.T) {
	p, _ := Default()
	q, err := p.WithActive("8-step")
	if err != nil {
		t.Fatalf("with active: %v", err)
	}
	if q.Active().Name != "8-step" || p.Active().Name != "6-step-mixed" {
		t.Fatalf("unexpected active schemas %s / %s", q.Active().Name, p.Active().Name)
	}
	if _, err := p.WithActive("nope"); !errors.Is(err, ErrUnknownSchema) {
		t.Fatalf("expected ErrUnknownSchema, got %v", err)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	writeFile(t, path, "active_schema: 6-step-mixed\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan *Profile, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(p *Profile) { got <- p }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "active_schema: 8-step\n")

	select {
	case p := <-got:
		if p.Active().Name != "8-step" {
			t.Fatalf("expected 8-step after reload, got %s", p.Active().Name)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("profile was not reloaded")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watch: %v", err)
	}
}

func TestHolder(t *testing.T) {
	p, _ := Default()
	h := NewHolder(p)
	q, _ := p.WithActive("8-step")
	h.Set(q)
	if h.Get().Active().Name != "8-step" {
		t.Fatalf("holder did not swap profile")
	}
}
