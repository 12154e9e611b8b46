package layout

import (
	"pkt.systems/groundstation/schema"
)

type gestureKind int

const (
	gestureDrag gestureKind = iota + 1
	gestureResize
)

type gesture struct {
	kind   gestureKind
	id     string
	target string

	widthPx     float64
	initialSpan int
}

// Dragging reports whether a drag or resize gesture is in progress. While it
// is set other widgets do not accept pointer interaction.
func (m *Machine) Dragging() bool {
	return m.gesture != nil
}

// ActiveID returns the widget the current gesture operates on.
func (m *Machine) ActiveID() string {
	if m.gesture == nil {
		return ""
	}
	return m.gesture.id
}

// BeginDrag starts a reorder gesture on id.
func (m *Machine) BeginDrag(id string) error {
	if m.gesture != nil {
		return schema.ErrGestureActive
	}
	if m.index(id) < 0 {
		return schema.ErrUnknownWidget
	}
	m.gesture = &gesture{kind: gestureDrag, id: id}
	return nil
}

// DragOver records the widget currently under the pointer.
func (m *Machine) DragOver(target string) error {
	if m.gesture == nil || m.gesture.kind != gestureDrag {
		return schema.ErrNoGesture
	}
	if m.index(target) < 0 {
		m.gesture.target = ""
		return nil
	}
	m.gesture.target = target
	return nil
}

// Drop ends the drag. Without a target other than the dragged widget the
// layout is unchanged.
func (m *Machine) Drop() ([]Instance, error) {
	if m.gesture == nil || m.gesture.kind != gestureDrag {
		return m.Instances(), schema.ErrNoGesture
	}
	g := m.gesture
	m.gesture = nil
	if g.target == "" || g.target == g.id {
		return m.Instances(), nil
	}
	return m.Reorder(g.id, g.target), nil
}

// BeginResize starts a resize gesture on id whose rendered width is widthPx.
func (m *Machine) BeginResize(id string, widthPx float64) error {
	if m.gesture != nil {
		return schema.ErrGestureActive
	}
	idx := m.index(id)
	if idx < 0 {
		return schema.ErrUnknownWidget
	}
	m.gesture = &gesture{
		kind:        gestureResize,
		id:          id,
		widthPx:     widthPx,
		initialSpan: m.instances[idx].Span,
	}
	return nil
}

// ResizeMove applies the span for the pointer offset since BeginResize. The
// span only changes when an integer threshold is crossed.
func (m *Machine) ResizeMove(deltaPx float64) (int, error) {
	if m.gesture == nil || m.gesture.kind != gestureResize {
		return 0, schema.ErrNoGesture
	}
	span, _ := m.applyResize(m.gesture.id, deltaPx, m.gesture.widthPx, m.gesture.initialSpan)
	return span, nil
}

// EndResize releases the pointer and persists the sizes if the span changed.
func (m *Machine) EndResize() (int, error) {
	if m.gesture == nil || m.gesture.kind != gestureResize {
		return 0, schema.ErrNoGesture
	}
	g := m.gesture
	m.gesture = nil
	inst, ok := m.Instance(g.id)
	if !ok {
		return 0, schema.ErrUnknownWidget
	}
	if inst.Span != g.initialSpan {
		m.saveSizes()
	}
	return inst.Span, nil
}

// Cancel abandons the current gesture and restores any span it changed.
func (m *Machine) Cancel() {
	g := m.gesture
	m.gesture = nil
	if g == nil || g.kind != gestureResize {
		return
	}
	if idx := m.index(g.id); idx >= 0 {
		m.instances[idx].Span = g.initialSpan
	}
}
