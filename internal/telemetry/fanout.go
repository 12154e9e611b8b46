// Package telemetry republishes the latest reading to mounted widgets and
// keeps the bounded history chart widgets draw from.
package telemetry

import "pkt.systems/groundstation/schema"

// Subscriber receives every snapshot published while it is mounted.
type Subscriber func(schema.TelemetrySnapshot)

type mount struct {
	id int
	fn Subscriber
}

// Fanout holds the last-known snapshot and the mounted subscribers.
// It is driven from a single goroutine and performs no locking.
type Fanout struct {
	latest schema.TelemetrySnapshot
	has    bool
	mounts []mount
	nextID int
}

// NewFanout constructs an empty fan-out.
func NewFanout() *Fanout {
	return &Fanout{}
}

// Publish replaces the latest snapshot and notifies mounted subscribers in mount order.
func (f *Fanout) Publish(snapshot schema.TelemetrySnapshot) {
	f.latest = snapshot
	f.has = true
	mounts := append([]mount(nil), f.mounts...)
	for _, m := range mounts {
		if m.fn != nil {
			m.fn(snapshot)
		}
	}
}

// Mount registers fn and immediately hands it the latest snapshot, if any.
// The returned func unmounts; calling it more than once is harmless.
func (f *Fanout) Mount(fn Subscriber) func() {
	f.nextID++
	id := f.nextID
	f.mounts = append(f.mounts, mount{id: id, fn: fn})
	if f.has && fn != nil {
		fn(f.latest)
	}
	return func() {
		for i, m := range f.mounts {
			if m.id == id {
				f.mounts = append(f.mounts[:i], f.mounts[i+1:]...)
				return
			}
		}
	}
}

// Latest returns the last published snapshot.
func (f *Fanout) Latest() (schema.TelemetrySnapshot, bool) {
	return f.latest, f.has
}

// Mounted returns the number of mounted subscribers.
func (f *Fanout) Mounted() int {
	return len(f.mounts)
}
