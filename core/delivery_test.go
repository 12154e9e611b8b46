package core

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"pkt.systems/groundstation/schema"
)

// hookSink runs before for every event ahead of recording it, so tests can
// change service state in the middle of a delivery.
type hookSink struct {
	*recordingSink
	before func(schema.SessionID, schema.Envelope)
}

func (h *hookSink) OnClientEvent(session schema.SessionID, envelope schema.Envelope) {
	if h.before != nil {
		h.before(session, envelope)
	}
	h.recordingSink.OnClientEvent(session, envelope)
}

func lastNames(t *testing.T, events []schema.Envelope) []string {
	t.Helper()
	perms := filterEvents(events, schema.EventWidgetPermissions)
	if len(perms) == 0 {
		t.Fatalf("no widget_permissions delivered")
	}
	return decodeNames(t, perms[len(perms)-1])
}

func namesOf(widgets []schema.WidgetName) []string {
	out := make([]string, 0, len(widgets))
	for _, w := range widgets {
		out = append(out, string(w))
	}
	return out
}

func TestMutationDuringDeliveryKeepsOrder(t *testing.T) {
	sink := &hookSink{recordingSink: newRecordingSink()}
	svc, err := NewService(ServiceConfig{
		Catalog:       schema.WidgetNames("Altitude", "Pressure"),
		GlobalDefault: schema.WidgetNames("Altitude"),
	}, ServiceDeps{EventSink: sink})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	var once sync.Once
	sink.before = func(session schema.SessionID, env schema.Envelope) {
		if session == "v1" && env.Event == schema.EventWidgetPermissions {
			once.Do(func() {
				if _, err := svc.ToggleGlobalDefault(context.Background(), "Pressure"); err != nil {
					t.Errorf("toggle: %v", err)
				}
			})
		}
	}
	mustConnect(t, svc, "v1", schema.ConnectAuth{ID: "viewer"})

	want := namesOf(svc.EffectiveSet("viewer"))
	if !reflect.DeepEqual(want, []string{"Altitude", "Pressure"}) {
		t.Fatalf("effective = %v", want)
	}
	if got := lastNames(t, sink.take("v1")); !reflect.DeepEqual(got, want) {
		t.Fatalf("last delivered = %v, want %v", got, want)
	}
}

func TestPublishDuringDeliveryEndsOnLatest(t *testing.T) {
	sink := &hookSink{recordingSink: newRecordingSink()}
	svc, err := NewService(ServiceConfig{Catalog: schema.WidgetNames("Map")}, ServiceDeps{EventSink: sink})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	mustConnect(t, svc, "v1", schema.ConnectAuth{})
	sink.reset()
	var once sync.Once
	sink.before = func(session schema.SessionID, env schema.Envelope) {
		if env.Event == schema.EventDataUpdate {
			once.Do(func() { svc.PublishTelemetry(schema.TelemetrySnapshot{"temperature": 2.0}) })
		}
	}
	svc.PublishTelemetry(schema.TelemetrySnapshot{"temperature": 1.0})

	updates := filterEvents(sink.take("v1"), schema.EventDataUpdate)
	if len(updates) != 2 {
		t.Fatalf("data_update count = %d", len(updates))
	}
	latest, _ := svc.Latest()
	want, _ := json.Marshal(latest)
	if got := string(updates[len(updates)-1].Data); got != string(want) {
		t.Fatalf("last data_update = %s, latest = %s", got, want)
	}
}

func TestConcurrentMutationsDeliverFinalState(t *testing.T) {
	svc, sink := newTestService(t, ServiceConfig{Catalog: schema.WidgetNames("A", "B", "C", "D")}, ServiceDeps{})
	mustConnect(t, svc, "v1", schema.ConnectAuth{ID: "viewer"})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				name := schema.WidgetName(fmt.Sprintf("%c", 'A'+(i+j)%4))
				if _, err := svc.ToggleGlobalDefault(ctx, name); err != nil {
					t.Errorf("toggle: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	// every widget is toggled an even number of times
	want := namesOf(svc.EffectiveSet("viewer"))
	if !reflect.DeepEqual(want, []string{"A", "B", "C", "D"}) {
		t.Fatalf("effective = %v", want)
	}
	if got := lastNames(t, sink.take("v1")); !reflect.DeepEqual(got, want) {
		t.Fatalf("last delivered = %v, want %v", got, want)
	}
}
