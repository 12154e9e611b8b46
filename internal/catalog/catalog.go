// Package catalog holds the widget registration table and produces the
// deterministic catalog scan the dashboard layout is built from.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"pkt.systems/groundstation/schema"
)

// Render is the rendering capability a widget declares.
type Render string

const (
	// RenderValue draws a single scalar reading.
	RenderValue Render = "value"
	// RenderVector draws an x/y/z triple.
	RenderVector Render = "vector"
	// RenderMap draws a position.
	RenderMap Render = "map"
	// RenderChart draws a rolling time series.
	RenderChart Render = "chart"
)

const (
	// MinSpan is the narrowest widget width in grid columns.
	MinSpan = 1
	// MaxSpan is the widest widget width in grid columns.
	MaxSpan = 4
)

// Definition describes one registered widget.
type Definition struct {
	Name        schema.WidgetName `json:"name"`
	Render      Render            `json:"render"`
	DefaultSpan int               `json:"default_span"`
	Title       string            `json:"title,omitempty"`
	Unit        string            `json:"unit,omitempty"`
	Fields      []string          `json:"fields,omitempty"`
	Precision   int               `json:"precision,omitempty"`
}

var wideTags = []string{"map", "chart", "altitude"}

// IsWide reports whether a widget name defaults to a double-width cell.
func IsWide(name schema.WidgetName) bool {
	lower := strings.ToLower(string(name))
	for _, tag := range wideTags {
		if strings.Contains(lower, tag) {
			return true
		}
	}
	return false
}

// DefaultSpan returns the default span for a widget name.
func DefaultSpan(name schema.WidgetName) int {
	if IsWide(name) {
		return 2
	}
	return 1
}

// ClampSpan bounds span to [MinSpan, MaxSpan].
func ClampSpan(span int) int {
	if span < MinSpan {
		return MinSpan
	}
	if span > MaxSpan {
		return MaxSpan
	}
	return span
}

// Registry is a widget registration table. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[schema.WidgetName]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[schema.WidgetName]Definition)}
}

// Register adds a definition. A zero DefaultSpan is derived from the name.
func (r *Registry) Register(def Definition) error {
	name := schema.WidgetName(strings.TrimSpace(string(def.Name)))
	if name == "" {
		return errors.New("widget name is required")
	}
	def.Name = name
	if def.DefaultSpan == 0 {
		def.DefaultSpan = DefaultSpan(name)
	}
	if def.DefaultSpan < MinSpan || def.DefaultSpan > MaxSpan {
		return fmt.Errorf("widget %q default span %d out of range", name, def.DefaultSpan)
	}
	if def.Render == "" {
		def.Render = RenderValue
	}
	if def.Title == "" {
		def.Title = string(name)
	}
	def.Fields = append([]string(nil), def.Fields...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[name]; exists {
		return fmt.Errorf("widget %q already registered", name)
	}
	r.defs[name] = def
	return nil
}

// MustRegister registers def and panics on error. Intended for static tables.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get returns the definition for name.
func (r *Registry) Get(name schema.WidgetName) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Scan returns every registered definition sorted lexically by name.
func (r *Registry) Scan() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted names of defs.
func Names(defs []Definition) []schema.WidgetName {
	out := make([]schema.WidgetName, 0, len(defs))
	for _, def := range defs {
		out = append(out, def.Name)
	}
	return out
}
