package logging

import (
	"context"
	"log/slog"
	"sync"
)

// ComponentFilterHandler filters records by a per-component minimum level.
//
// The component is read from the "component" attribute, either attached via
// logger.With (pre-attrs) or passed on the record itself. Components without
// an override use the default level. Overrides can be changed at runtime and
// apply to every logger derived from the same handler.
type ComponentFilterHandler struct {
	next      slog.Handler
	state     *filterState
	component string
}

type filterState struct {
	mu           sync.RWMutex
	defaultLevel slog.Level
	levels       map[string]slog.Level
}

func (s *filterState) level(component string) slog.Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.levels[component]; ok && component != "" {
		return l
	}
	return s.defaultLevel
}

// minLevel is the lowest level any component may log at.
func (s *filterState) minLevel() slog.Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lowest := s.defaultLevel
	for _, l := range s.levels {
		if l < lowest {
			lowest = l
		}
	}
	return lowest
}

// NewComponentFilterHandler wraps next with per-component level filtering.
// A nil next is allowed; records that pass the filter are then dropped.
func NewComponentFilterHandler(next slog.Handler, defaultLevel slog.Level) *ComponentFilterHandler {
	return &ComponentFilterHandler{
		next: next,
		state: &filterState{
			defaultLevel: defaultLevel,
			levels:       make(map[string]slog.Level),
		},
	}
}

// SetLevel overrides the minimum level for a component.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	h.state.levels[component] = level
}

// SetDefaultLevel changes the level of components without an override.
func (h *ComponentFilterHandler) SetDefaultLevel(level slog.Level) {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	h.state.defaultLevel = level
}

// ClearLevel removes a component override.
func (h *ComponentFilterHandler) ClearLevel(component string) {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	delete(h.state.levels, component)
}

// Level returns the effective level for a component.
func (h *ComponentFilterHandler) Level(component string) slog.Level {
	return h.state.level(component)
}

// DefaultLevel returns the level used for components without an override.
func (h *ComponentFilterHandler) DefaultLevel() slog.Level {
	h.state.mu.RLock()
	defer h.state.mu.RUnlock()
	return h.state.defaultLevel
}

func (h *ComponentFilterHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.component != "" {
		return level >= h.state.level(h.component)
	}
	return level >= h.state.minLevel()
}

func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	if component == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "component" {
				component = a.Value.String()
				return false
			}
			return true
		})
	}
	if r.Level < h.state.level(component) {
		return nil
	}
	if h.next == nil {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	for _, a := range attrs {
		if a.Key == "component" {
			clone.component = a.Value.String()
		}
	}
	if h.next != nil {
		clone.next = h.next.WithAttrs(attrs)
	}
	return &clone
}

func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if h.next != nil {
		clone.next = h.next.WithGroup(name)
	}
	return &clone
}
