package mockapi

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"
)

// ErrExists is returned when creating a widget whose name is taken.
var ErrExists = errors.New("widget already exists")

// Part is a component of a widget.
type Part struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Widget is the wire form of a widget as the service stores it.
type Widget struct {
	Name        string     `json:"name"`
	Color       string     `json:"color,omitempty"`
	Shape       string     `json:"shape,omitempty"`
	Weight      *float64   `json:"weight,omitempty"`
	Parts       []Part     `json:"parts,omitempty"`
	Description string     `json:"description,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	InspectedAt *int64     `json:"inspectedAt,omitempty"`
}

type entry struct {
	widget   Widget
	revision int
}

// Store is the in-memory widget catalog behind the mock service.
type Store struct {
	mu      sync.RWMutex
	widgets map[string]*entry
}

// NewStore creates a store holding the given widgets.
func NewStore(seed ...Widget) *Store {
	s := &Store{widgets: make(map[string]*entry)}
	for _, w := range seed {
		s.widgets[w.Name] = &entry{widget: w, revision: 1}
	}
	return s
}

// Get returns a widget and its entity tag.
func (s *Store) Get(name string) (Widget, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.widgets[name]
	if !ok {
		return Widget{}, "", false
	}
	return e.widget, etag(name, e.revision), true
}

// Create stores a new widget.
func (s *Store) Create(w Widget) (Widget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.widgets[w.Name]; ok {
		return Widget{}, ErrExists
	}
	s.widgets[w.Name] = &entry{widget: w, revision: 1}
	return w, nil
}

// Delete removes a widget and reports whether it existed.
func (s *Store) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.widgets[name]
	delete(s.widgets, name)
	return ok
}

// SetColor changes a widget's color, bumping its revision.
func (s *Store) SetColor(name, color string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.widgets[name]
	if !ok {
		return false
	}
	e.widget.Color = color
	e.revision++
	return true
}

// List returns the widgets ordered by name. A non-empty color keeps only
// widgets of that color.
func (s *Store) List(color string) []Widget {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Widget, 0, len(s.widgets))
	for _, e := range s.widgets {
		if color != "" && e.widget.Color != color {
			continue
		}
		out = append(out, e.widget)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of stored widgets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.widgets)
}

// HealthCheck implements observability.HealthChecker.
func (s *Store) HealthCheck(context.Context) error {
	if s == nil || s.widgets == nil {
		return errors.New("store not initialised")
	}
	return nil
}

func etag(name string, revision int) string {
	return `"` + name + "-" + strconv.Itoa(revision) + `"`
}
