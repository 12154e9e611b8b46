// Package layout tracks the ordered, sized widget grid a viewer renders and
// reconciles it against the widget catalog and the persisted layout.
package layout

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"pkt.systems/groundstation/internal/catalog"
	"pkt.systems/groundstation/internal/kv"
	"pkt.systems/pslog"
)

const (
	// OrderKey stores the JSON array of instance ids.
	OrderKey = "layout.order"
	// SizesKey stores the JSON object of instance id to span.
	SizesKey = "layout.sizes"
)

// Instance is one widget placed on the grid.
type Instance struct {
	ID         string
	Definition catalog.Definition
	Order      int
	Span       int
}

// Snapshot is the persisted form of a layout.
type Snapshot struct {
	OrderedIDs []string
	SpanByID   map[string]int
}

// InstanceIDs derives instance ids from definitions in discovery order. The id
// is the widget name; a repeated name gets its discovery index appended.
func InstanceIDs(defs []catalog.Definition) []string {
	ids := make([]string, len(defs))
	seen := make(map[string]struct{}, len(defs))
	for i, def := range defs {
		id := string(def.Name)
		if _, dup := seen[id]; dup {
			id = fmt.Sprintf("%s-%d", id, i)
		}
		seen[id] = struct{}{}
		ids[i] = id
	}
	return ids
}

func defaultSpan(def catalog.Definition) int {
	if def.DefaultSpan >= catalog.MinSpan && def.DefaultSpan <= catalog.MaxSpan {
		return def.DefaultSpan
	}
	return catalog.DefaultSpan(def.Name)
}

// Reconcile merges a persisted snapshot with the catalog. A nil snapshot
// yields catalog order with default spans. Otherwise snapshot order wins for
// ids still in the catalog, new catalog ids follow in catalog order, unknown
// ids and out-of-range spans are ignored.
func Reconcile(defs []catalog.Definition, snapshot *Snapshot) []Instance {
	ids := InstanceIDs(defs)
	byID := make(map[string]int, len(ids))
	for i, id := range ids {
		byID[id] = i
	}
	spanFor := func(i int) int {
		if snapshot != nil {
			if span, ok := snapshot.SpanByID[ids[i]]; ok && span >= catalog.MinSpan && span <= catalog.MaxSpan {
				return span
			}
		}
		return defaultSpan(defs[i])
	}

	order := make([]int, 0, len(ids))
	placed := make(map[int]struct{}, len(ids))
	if snapshot != nil {
		for _, id := range snapshot.OrderedIDs {
			idx, ok := byID[id]
			if !ok {
				continue
			}
			if _, dup := placed[idx]; dup {
				continue
			}
			placed[idx] = struct{}{}
			order = append(order, idx)
		}
	}
	for idx := range ids {
		if _, ok := placed[idx]; ok {
			continue
		}
		order = append(order, idx)
	}

	out := make([]Instance, 0, len(order))
	for pos, idx := range order {
		out = append(out, Instance{
			ID:         ids[idx],
			Definition: defs[idx],
			Order:      pos,
			Span:       spanFor(idx),
		})
	}
	return out
}

// Move returns ids with from moved to the position of to. Unknown ids or
// from == to return an unchanged copy.
func Move(ids []string, from, to string) []string {
	out := append([]string(nil), ids...)
	if from == to {
		return out
	}
	fromIdx, toIdx := -1, -1
	for i, id := range out {
		switch id {
		case from:
			fromIdx = i
		case to:
			toIdx = i
		}
	}
	if fromIdx < 0 || toIdx < 0 {
		return out
	}
	moved := out[fromIdx]
	out = append(out[:fromIdx], out[fromIdx+1:]...)
	out = append(out[:toIdx], append([]string{moved}, out[toIdx:]...)...)
	return out
}

// CandidateSpan computes the span a resize gesture lands on. The column width
// is estimated from the widget's width at gesture start; halves round up.
// Invalid inputs return initialSpan clamped.
func CandidateSpan(initialWidthPx, deltaPx float64, initialSpan int) int {
	if initialSpan <= 0 || initialWidthPx <= 0 || math.IsNaN(deltaPx) || math.IsInf(deltaPx, 0) {
		return catalog.ClampSpan(initialSpan)
	}
	column := initialWidthPx / float64(initialSpan)
	candidate := math.Floor((initialWidthPx+deltaPx)/column + 0.5)
	if candidate < catalog.MinSpan {
		return catalog.MinSpan
	}
	if candidate > catalog.MaxSpan {
		return catalog.MaxSpan
	}
	return int(candidate)
}

// Machine owns the live layout. It is driven from a single goroutine and
// performs no locking. Persistence is best-effort.
type Machine struct {
	store     kv.Store
	log       pslog.Logger
	defs      []catalog.Definition
	instances []Instance
	gesture   *gesture
}

// Option customizes a Machine.
type Option func(*Machine)

// WithLogger sets the logger used for persistence diagnostics.
func WithLogger(logger pslog.Logger) Option {
	return func(m *Machine) { m.log = logger }
}

// New constructs a Machine persisting to store. A nil store disables persistence.
func New(store kv.Store, opts ...Option) *Machine {
	m := &Machine{store: store}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = pslog.Ctx(context.Background())
	}
	return m
}

// Initialize reconciles defs against the persisted snapshot and makes the result live.
func (m *Machine) Initialize(defs []catalog.Definition) []Instance {
	m.defs = append([]catalog.Definition(nil), defs...)
	m.gesture = nil
	snapshot, ok := m.Load()
	if ok {
		m.instances = Reconcile(m.defs, &snapshot)
	} else {
		m.instances = Reconcile(m.defs, nil)
	}
	m.log.Debug("layout initialized", "widgets", len(m.instances), "persisted", ok)
	return m.Instances()
}

// Instances returns a copy of the live layout in order.
func (m *Machine) Instances() []Instance {
	return append([]Instance(nil), m.instances...)
}

// IDs returns the live instance ids in order.
func (m *Machine) IDs() []string {
	ids := make([]string, len(m.instances))
	for i, inst := range m.instances {
		ids[i] = inst.ID
	}
	return ids
}

// Instance returns the live instance with id.
func (m *Machine) Instance(id string) (Instance, bool) {
	idx := m.index(id)
	if idx < 0 {
		return Instance{}, false
	}
	return m.instances[idx], true
}

// Snapshot captures the live layout in persisted form.
func (m *Machine) Snapshot() Snapshot {
	snap := Snapshot{
		OrderedIDs: m.IDs(),
		SpanByID:   make(map[string]int, len(m.instances)),
	}
	for _, inst := range m.instances {
		snap.SpanByID[inst.ID] = inst.Span
	}
	return snap
}

// Reorder moves dragged to target's position and persists the order.
func (m *Machine) Reorder(dragged, target string) []Instance {
	if dragged == target || m.index(dragged) < 0 || m.index(target) < 0 {
		return m.Instances()
	}
	ids := Move(m.IDs(), dragged, target)
	byID := make(map[string]Instance, len(m.instances))
	for _, inst := range m.instances {
		byID[inst.ID] = inst
	}
	for i, id := range ids {
		inst := byID[id]
		inst.Order = i
		m.instances[i] = inst
	}
	m.saveOrder()
	return m.Instances()
}

// Resize applies the span a resize gesture lands on and persists the sizes
// when it differs from the current span. The returned span is the live one.
func (m *Machine) Resize(id string, deltaPx, initialWidthPx float64, initialSpan int) int {
	span, changed := m.applyResize(id, deltaPx, initialWidthPx, initialSpan)
	if changed {
		m.saveSizes()
	}
	return span
}

func (m *Machine) applyResize(id string, deltaPx, initialWidthPx float64, initialSpan int) (int, bool) {
	idx := m.index(id)
	if idx < 0 {
		return 0, false
	}
	current := m.instances[idx].Span
	if initialSpan <= 0 || initialWidthPx <= 0 {
		return current, false
	}
	candidate := CandidateSpan(initialWidthPx, deltaPx, initialSpan)
	if candidate == current {
		return current, false
	}
	m.instances[idx].Span = candidate
	return candidate, true
}

// Reset forgets the persisted layout and returns to catalog defaults.
func (m *Machine) Reset() []Instance {
	if m.store != nil {
		if err := m.store.Remove(OrderKey); err != nil {
			m.log.Debug("layout reset failed", "key", OrderKey, "err", err)
		}
		if err := m.store.Remove(SizesKey); err != nil {
			m.log.Debug("layout reset failed", "key", SizesKey, "err", err)
		}
	}
	m.gesture = nil
	m.instances = Reconcile(m.defs, nil)
	return m.Instances()
}

// Load reads the persisted snapshot. Missing or unreadable keys count as absent.
func (m *Machine) Load() (Snapshot, bool) {
	if m.store == nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	found := false
	if raw, ok, err := m.store.Get(OrderKey); err != nil {
		m.log.Debug("layout load failed", "key", OrderKey, "err", err)
	} else if ok {
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			m.log.Debug("layout load failed", "key", OrderKey, "err", err)
		} else {
			snap.OrderedIDs = ids
			found = true
		}
	}
	if raw, ok, err := m.store.Get(SizesKey); err != nil {
		m.log.Debug("layout load failed", "key", SizesKey, "err", err)
	} else if ok {
		var spans map[string]int
		if err := json.Unmarshal([]byte(raw), &spans); err != nil {
			m.log.Debug("layout load failed", "key", SizesKey, "err", err)
		} else {
			snap.SpanByID = spans
			found = true
		}
	}
	return snap, found
}

// Save persists the full live layout.
func (m *Machine) Save() {
	m.saveOrder()
	m.saveSizes()
}

func (m *Machine) saveOrder() {
	m.put(OrderKey, m.IDs())
}

func (m *Machine) saveSizes() {
	m.put(SizesKey, m.Snapshot().SpanByID)
}

func (m *Machine) put(key string, value any) {
	if m.store == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		m.log.Debug("layout save failed", "key", key, "err", err)
		return
	}
	if err := m.store.Set(key, string(data)); err != nil {
		m.log.Debug("layout save failed", "key", key, "err", err)
		return
	}
	m.log.Trace("layout save ok", "key", key)
}

func (m *Machine) index(id string) int {
	for i, inst := range m.instances {
		if inst.ID == id {
			return i
		}
	}
	return -1
}
