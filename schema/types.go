package schema

// ClientID identifies a viewer installation across sessions.
type ClientID string

// SessionID identifies one event-channel connection.
type SessionID string

// WidgetName is the stable name of a widget definition.
type WidgetName string

// ClientKind classifies a connected session.
type ClientKind string

const (
	// KindViewer is a read-only dashboard session.
	KindViewer ClientKind = "Viewer"
	// KindAdmin is the session holding administrative control.
	KindAdmin ClientKind = "Admin"
)

// ClientRecord is the server-side view of a connected session.
type ClientRecord struct {
	ID          ClientID
	SessionRef  SessionID
	Kind        ClientKind
	Address     string
	Permissions PermissionSet
}

// ClientProjection is the read-only shape sent to admins in clients_update.
// Widgets is omitted on the wire when the client inherits the global default.
type ClientProjection struct {
	ID      ClientID      `json:"id"`
	SID     SessionID     `json:"sid"`
	Type    ClientKind    `json:"type"`
	IP      string        `json:"ip"`
	Widgets PermissionSet `json:"widgets,omitzero"`
}

// Project converts a record to its admin-facing projection.
func (r ClientRecord) Project() ClientProjection {
	return ClientProjection{
		ID:      r.ID,
		SID:     r.SessionRef,
		Type:    r.Kind,
		IP:      r.Address,
		Widgets: r.Permissions,
	}
}
