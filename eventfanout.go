package groundstation

import (
	"pkt.systems/groundstation/core"
	"pkt.systems/groundstation/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnClientEvent(session schema.SessionID, envelope schema.Envelope) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnClientEvent(session, envelope)
	}
}

type telemetryFanout struct {
	sinks []core.TelemetrySink
}

func (f telemetryFanout) OnTelemetry(snapshot schema.TelemetrySnapshot) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnTelemetry(snapshot)
	}
}
