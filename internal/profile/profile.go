// Package profile holds the tunable data of the decision pipeline: schema
// definitions, urgency fractions, chat personas and fallback lines.
package profile

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"farmhands/internal/decision"
)

//go:embed default.yaml
var defaultYAML []byte

var ErrUnknownSchema = errors.New("unknown_schema")

type Urgency struct {
	Urgent  float64 `yaml:"urgent"`
	Caution float64 `yaml:"caution"`
}

type Variety struct {
	Window int `yaml:"window"`
}

type Persona struct {
	Name   string `yaml:"name"`
	Traits string `yaml:"traits"`
}

type Chat struct {
	HistoryTurns int      `yaml:"history_turns"`
	SessionCap   int      `yaml:"session_cap"`
	Fallbacks    []string `yaml:"fallbacks"`
}

type Profile struct {
	ActiveSchema   string             `yaml:"active_schema"`
	Schemas        []decision.Schema  `yaml:"schemas"`
	Urgency        Urgency            `yaml:"urgency"`
	Variety        Variety            `yaml:"variety"`
	Personas       map[string]Persona `yaml:"personas"`
	DefaultPersona Persona            `yaml:"default_persona"`
	Chat           Chat               `yaml:"chat"`
}

// Default returns the embedded profile.
func Default() (*Profile, error) {
	return parse(defaultYAML, nil)
}

// Load reads path on top of the embedded defaults. An empty path returns the
// defaults.
func Load(path string) (*Profile, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	base, err := Default()
	if err != nil {
		return nil, err
	}
	p, err := parse(data, base)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

func parse(data []byte, base *Profile) (*Profile, error) {
	p := &Profile{}
	if base != nil {
		*p = *base
		// Decoding into a shared map would mutate base.
		p.Personas = make(map[string]Persona, len(base.Personas))
		for k, v := range base.Personas {
			p.Personas[k] = v
		}
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Profile) Validate() error {
	for _, s := range p.Schemas {
		if err := s.Check(); err != nil {
			return err
		}
	}
	if _, err := p.Schema(p.ActiveSchema); err != nil {
		return err
	}
	if p.Urgency.Urgent <= 0 || p.Urgency.Caution <= 0 || p.Urgency.Caution > p.Urgency.Urgent {
		return fmt.Errorf("urgency fractions must satisfy 0 < caution <= urgent")
	}
	if p.Variety.Window <= 0 {
		return fmt.Errorf("variety window must be positive")
	}
	if p.Chat.HistoryTurns <= 0 || p.Chat.SessionCap < p.Chat.HistoryTurns {
		return fmt.Errorf("chat history_turns must be positive and fit in session_cap")
	}
	if len(p.Chat.Fallbacks) == 0 {
		return fmt.Errorf("chat fallbacks must not be empty")
	}
	return nil
}

// Schema resolves name against the profile's own schemas first, then the
// compiled-in ones.
func (p *Profile) Schema(name string) (decision.Schema, error) {
	for _, s := range p.Schemas {
		if s.Name == name {
			return s, nil
		}
	}
	if s, ok := decision.Builtin(name); ok {
		return s, nil
	}
	return decision.Schema{}, fmt.Errorf("%w: %q", ErrUnknownSchema, name)
}

// Active returns the schema named by ActiveSchema. Validate guarantees it
// exists.
func (p *Profile) Active() decision.Schema {
	s, err := p.Schema(p.ActiveSchema)
	if err != nil {
		s, _ = decision.Builtin(decision.DefaultSchema)
	}
	return s
}

// WithActive returns a copy of p using schema name, or an error if the name
// is unknown. An empty name leaves p unchanged.
func (p *Profile) WithActive(name string) (*Profile, error) {
	if strings.TrimSpace(name) == "" {
		return p, nil
	}
	if _, err := p.Schema(name); err != nil {
		return nil, err
	}
	cp := *p
	cp.ActiveSchema = name
	return &cp, nil
}

func (p *Profile) PersonaFor(agentID string) Persona {
	if persona, ok := p.Personas[agentID]; ok {
		return persona
	}
	return p.DefaultPersona
}
