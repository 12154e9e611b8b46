package schema

import "encoding/json"

// EventName names an event on the event channel.
type EventName string

const (
	EventConnect             EventName = "connect"
	EventAdminAuthSuccess    EventName = "admin_auth_success"
	EventAdminAuthFailed     EventName = "admin_auth_failed"
	EventDataUpdate          EventName = "data_update"
	EventWidgetPermissions   EventName = "widget_permissions"
	EventClientsUpdate       EventName = "clients_update"
	EventGetGlobalWidgets    EventName = "get_global_widgets"
	EventGlobalWidgetsUpdate EventName = "global_widgets_update"
	EventUpdateGlobalWidgets EventName = "update_global_widgets"
	EventToggleGlobalWidget  EventName = "toggle_global_widget"
	EventUpdateClientWidgets EventName = "update_client_widgets"
	EventGetSerialPorts      EventName = "get_serial_ports"
	EventSerialPortsList     EventName = "serial_ports_list"
	EventSetSerialPort       EventName = "set_serial_port"
	EventRescanSerialPorts   EventName = "rescan_serial_ports"
	EventAdminPublishData    EventName = "admin_publish_data"
)

// Envelope is the wire frame for every event-channel message.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes payload into an envelope. A nil payload omits data.
func NewEnvelope(event EventName, payload any) (Envelope, error) {
	env := Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = data
	return env, nil
}

// ConnectAuth is the payload of the connect frame.
type ConnectAuth struct {
	ID            ClientID `json:"id,omitempty"`
	AdminToken    string   `json:"admin_token,omitempty"`
	AdminPassword string   `json:"admin_password,omitempty"`
	TOTP          string   `json:"totp,omitempty"`
}

// UpdateClientWidgets is the update_client_widgets payload.
type UpdateClientWidgets struct {
	ClientID ClientID      `json:"client_id"`
	Widgets  PermissionSet `json:"widgets"`
}
