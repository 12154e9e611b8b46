package eventbus

import (
	"context"
	"sync"

	"pkt.systems/groundstation/schema"
	"pkt.systems/pslog"
)

// Event is one server-to-client envelope addressed to a session.
type Event struct {
	Session  schema.SessionID
	Envelope schema.Envelope
}

// Bus fans out events to per-session subscribers. Publishing never blocks.
// A subscriber that falls behind keeps every state event; queued data_update
// events collapse to the latest snapshot.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.SessionID]map[*subscriber]struct{}
	log   pslog.Logger
	depth int
}

type subscriber struct {
	out  chan Event
	wake chan struct{}
	stop chan struct{}

	mu      sync.Mutex
	pending []Event
}

// push queues event and reports whether it replaced a queued data_update.
func (s *subscriber) push(event Event) bool {
	replaced := false
	s.mu.Lock()
	if event.Envelope.Event == schema.EventDataUpdate {
		for i, queued := range s.pending {
			if queued.Envelope.Event == schema.EventDataUpdate {
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
				replaced = true
				break
			}
		}
	}
	s.pending = append(s.pending, event)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return replaced
}

// run moves pending events into out until stop is closed, then closes out.
func (s *subscriber) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			select {
			case <-s.stop:
				return
			case <-s.wake:
			}
			continue
		}
		event := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		select {
		case s.out <- event:
		case <-s.stop:
			return
		}
	}
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.SessionID]map[*subscriber]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the session and returns a channel + cancel.
func (b *Bus) Subscribe(session schema.SessionID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	sub := &subscriber{
		out:  make(chan Event, b.depth),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	go sub.run()
	b.mu.Lock()
	sessionSubs := b.subs[session]
	if sessionSubs == nil {
		sessionSubs = make(map[*subscriber]struct{})
		b.subs[session] = sessionSubs
	}
	sessionSubs[sub] = struct{}{}
	count := len(sessionSubs)
	b.mu.Unlock()
	b.log.With("session", session).Debug("eventbus subscribe", "subs", count)
	var once sync.Once
	return sub.out, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[session]; subs != nil {
				delete(subs, sub)
				if len(subs) == 0 {
					delete(b.subs, session)
				}
			}
			close(sub.stop)
			b.mu.Unlock()
			b.log.With("session", session).Debug("eventbus unsubscribe")
		})
	}
}

// Sessions returns the sessions that currently have subscribers.
func (b *Bus) Sessions() []schema.SessionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]schema.SessionID, 0, len(b.subs))
	for session := range b.subs {
		out = append(out, session)
	}
	return out
}

// OnClientEvent publishes an envelope to one session.
func (b *Bus) OnClientEvent(session schema.SessionID, envelope schema.Envelope) {
	b.publish(session, Event{Session: session, Envelope: envelope})
}

func (b *Bus) publish(session schema.SessionID, event Event) {
	if b == nil {
		return
	}
	replaced := 0
	b.mu.Lock()
	for sub := range b.subs[session] {
		if sub.push(event) {
			replaced++
		}
	}
	b.mu.Unlock()
	if replaced > 0 {
		b.log.With("session", session).Trace("eventbus coalesced", "count", replaced, "event", event.Envelope.Event)
	}
}
