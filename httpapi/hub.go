package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/groundstation/schema"
	"pkt.systems/pslog"
)

// StreamEvent is sent to SSE clients.
type StreamEvent struct {
	Seq       uint64                   `json:"seq"`
	Type      schema.EventName         `json:"type"`
	Data      schema.TelemetrySnapshot `json:"data"`
	Timestamp time.Time                `json:"timestamp"`
}

// Hub sequences telemetry snapshots, keeps a bounded history for replay and
// broadcasts to SSE subscribers.
type Hub struct {
	mu          sync.Mutex
	seq         uint64
	history     []StreamEvent
	subs        map[chan StreamEvent]struct{}
	historySize int
	log         pslog.Logger
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int) *Hub {
	if historySize <= 0 {
		historySize = 1000
	}
	return &Hub{
		subs:        make(map[chan StreamEvent]struct{}),
		historySize: historySize,
		log:         pslog.Ctx(context.Background()),
	}
}

// OnTelemetry implements core.TelemetrySink.
func (h *Hub) OnTelemetry(snapshot schema.TelemetrySnapshot) {
	h.publish(StreamEvent{
		Type:      schema.EventDataUpdate,
		Data:      snapshot,
		Timestamp: time.Now(),
	})
}

// Subscribe registers a subscriber and returns the current sequence and a
// copy of the history consistent with it.
func (h *Hub) Subscribe() (<-chan StreamEvent, func(), uint64, []StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan StreamEvent, 256)
	h.subs[ch] = struct{}{}
	history := append([]StreamEvent(nil), h.history...)
	seq := h.seq
	h.log.Debug("hub subscribe", "subs", len(h.subs), "history", len(history))
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			remaining := len(h.subs)
			h.mu.Unlock()
			h.log.Debug("hub unsubscribe", "subs", remaining)
		})
	}
	return ch, unsub, seq, history
}

// Replay returns events after the provided seq.
func (h *Hub) Replay(after uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := make([]StreamEvent, 0, len(h.history))
	for _, event := range h.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	h.log.Debug("hub replay", "after", after, "count", len(events))
	return events
}

// Seq returns the sequence of the latest event.
func (h *Hub) Seq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

func (h *Hub) publish(event StreamEvent) {
	h.mu.Lock()
	h.seq++
	event.Seq = h.seq
	h.history = append(h.history, event)
	if len(h.history) > h.historySize {
		h.history = h.history[len(h.history)-h.historySize:]
	}
	dropped := 0
	for sub := range h.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	h.mu.Unlock()
	if dropped > 0 {
		h.log.Warn("hub event dropped", "seq", event.Seq, "dropped", dropped)
	}
}
