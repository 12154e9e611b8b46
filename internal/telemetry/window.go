package telemetry

import (
	"time"

	"pkt.systems/groundstation/schema"
)

// DefaultHorizon is the chart history length in seconds.
const DefaultHorizon = 25.0

// Point is one sample on a time axis measured in seconds.
type Point struct {
	T float64
	V float64
}

// Window is a FIFO of points no older than horizon relative to the newest one.
// At least one point is always retained once any has been added.
type Window struct {
	horizon float64
	points  []Point
}

// NewWindow constructs a window. A non-positive horizon uses DefaultHorizon.
func NewWindow(horizon float64) *Window {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Window{horizon: horizon}
}

// Add appends a point. Time never moves backwards: an earlier t is clamped to the last one.
func (w *Window) Add(t, v float64) {
	if n := len(w.points); n > 0 && t < w.points[n-1].T {
		t = w.points[n-1].T
	}
	w.points = append(w.points, Point{T: t, V: v})
	cutoff := t - w.horizon
	drop := 0
	for len(w.points)-drop > 1 && w.points[drop].T < cutoff {
		drop++
	}
	if drop > 0 {
		w.points = append(w.points[:0], w.points[drop:]...)
	}
}

// Points returns a copy of the retained points, oldest first.
func (w *Window) Points() []Point {
	return append([]Point(nil), w.points...)
}

// Len returns the number of retained points.
func (w *Window) Len() int {
	return len(w.points)
}

// Horizon returns the window length in seconds.
func (w *Window) Horizon() float64 {
	return w.horizon
}

// Series samples one numeric field into a Window, timed from its own mount.
type Series struct {
	Field  string
	window *Window
	start  time.Time
	now    func() time.Time
}

// NewSeries starts a series at now(). A nil now uses time.Now.
func NewSeries(field string, horizon float64, now func() time.Time) *Series {
	if now == nil {
		now = time.Now
	}
	return &Series{Field: field, window: NewWindow(horizon), start: now(), now: now}
}

// Observe records the field from snapshot. Snapshots without a numeric value are skipped.
func (s *Series) Observe(snapshot schema.TelemetrySnapshot) bool {
	v, ok := snapshot.Float(s.Field)
	if !ok {
		return false
	}
	s.window.Add(s.now().Sub(s.start).Seconds(), v)
	return true
}

// Window exposes the underlying window.
func (s *Series) Window() *Window {
	return s.window
}
