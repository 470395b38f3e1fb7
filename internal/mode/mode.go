// Package mode selects and stores the coordinator's operating mode per
// project. Mode is advisory: it steers which tool families make sense,
// but only creator-only tools hard-refuse outside their mode.
package mode

import (
	"fmt"
	"sync"

	"github.com/zjrosen/foreman/internal/analyzer"
)

// Mode is a coordinator operating posture.
type Mode string

const (
	// ModeCreator plans projects onto an empty board.
	ModeCreator Mode = "creator"
	// ModeEnricher improves structure on a weak board before planning more.
	ModeEnricher Mode = "enricher"
	// ModeAdaptive coordinates work on an already well-structured board.
	ModeAdaptive Mode = "adaptive"
)

// Parse validates a mode name. Empty input is allowed and means "decide
// from board quality".
func Parse(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeCreator, ModeEnricher, ModeAdaptive:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q (want creator, enricher, or adaptive)", s)
	}
}

// Select applies the decision table, first match wins: an explicit
// request is honored as-is; otherwise board quality decides.
func Select(requested Mode, class analyzer.Class) Mode {
	if requested != "" {
		return requested
	}
	switch class {
	case analyzer.ClassEmpty:
		return ModeCreator
	case analyzer.ClassChaotic, analyzer.ClassBasic:
		return ModeEnricher
	default:
		return ModeAdaptive
	}
}

// Store keeps the selected mode per project key.
type Store struct {
	mu    sync.RWMutex
	modes map[string]Mode
}

// NewStore returns an empty per-project mode store.
func NewStore() *Store {
	return &Store{modes: make(map[string]Mode)}
}

// Get returns the stored mode for a project, if one was selected.
func (s *Store) Get(project string) (Mode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modes[project]
	return m, ok
}

// Set records the mode for a project.
func (s *Store) Set(project string, m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes[project] = m
}

// Resolve returns the stored mode, falling back to the decision table
// and recording the result.
func (s *Store) Resolve(project string, requested Mode, class analyzer.Class) Mode {
	if requested == "" {
		if m, ok := s.Get(project); ok {
			return m
		}
	}
	m := Select(requested, class)
	s.Set(project, m)
	return m
}
