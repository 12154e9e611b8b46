package core

import "pkt.systems/groundstation/schema"

// EventSink receives server-to-client envelopes addressed to one session.
type EventSink interface {
	OnClientEvent(session schema.SessionID, envelope schema.Envelope)
}

// TelemetrySink receives every published telemetry snapshot.
type TelemetrySink interface {
	OnTelemetry(snapshot schema.TelemetrySnapshot)
}
