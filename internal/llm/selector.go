package llm

import (
	"fmt"
	"strings"

	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
)

type ProviderInfo struct {
	Name      string `json:"name"`
	Model     string `json:"model"`
	IsDefault bool   `json:"is_default"`
}

// Selector holds the generators built from configuration and resolves the
// one to use for a request.
type Selector struct {
	def   string
	order []string
	gens  map[string]IGenerator
}

func NewSelector(defaultName string, gens ...IGenerator) (*Selector, error) {
	s := &Selector{gens: make(map[string]IGenerator, len(gens))}
	for _, g := range gens {
		key := strings.ToLower(g.Name())
		if _, ok := s.gens[key]; ok {
			return nil, fmt.Errorf("duplicate llm provider: %s", g.Name())
		}
		s.gens[key] = g
		s.order = append(s.order, key)
	}
	if len(s.order) == 0 {
		return nil, fmt.Errorf("no llm provider configured")
	}
	s.def = strings.ToLower(strings.TrimSpace(defaultName))
	if s.def == "" {
		s.def = s.order[0]
	}
	if _, ok := s.gens[s.def]; !ok {
		return nil, fmt.Errorf("default llm provider %s is not configured", defaultName)
	}
	return s, nil
}

func (s *Selector) Default() IGenerator {
	return s.gens[s.def]
}

// Get returns the named generator, or the default one for an empty name.
func (s *Selector) Get(name string) (IGenerator, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return s.Default(), nil
	}
	g, ok := s.gens[key]
	if !ok {
		return nil, fmt.Errorf("llm provider %s is not configured: %w", name, appErr.ErrInvalid)
	}
	return g, nil
}

func (s *Selector) Providers() []ProviderInfo {
	out := make([]ProviderInfo, 0, len(s.order))
	for _, key := range s.order {
		g := s.gens[key]
		out = append(out, ProviderInfo{Name: g.Name(), Model: g.Model(), IsDefault: key == s.def})
	}
	return out
}
