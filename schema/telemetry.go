package schema

// TelemetrySnapshot is one opaque reading from the data source.
type TelemetrySnapshot map[string]any

// Float returns a numeric field. Missing, null and non-numeric values report false.
func (s TelemetrySnapshot) Float(key string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	switch v := s[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Clone returns a shallow copy.
func (s TelemetrySnapshot) Clone() TelemetrySnapshot {
	if s == nil {
		return nil
	}
	out := make(TelemetrySnapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// PortStatus describes the state of a serial port as seen by the data source.
type PortStatus string

const (
	PortConnected         PortStatus = "connected"
	PortActiveData        PortStatus = "active_data"
	PortErrorConnecting   PortStatus = "error_connecting"
	PortAvailableWithData PortStatus = "available_with_data"
	PortBusy              PortStatus = "busy"
	PortAvailable         PortStatus = "available"
)

// SerialPort is one entry in serial_ports_list.
type SerialPort struct {
	Port        string     `json:"port"`
	Description string     `json:"description"`
	Status      PortStatus `json:"status"`
	Active      bool       `json:"active"`
}

// PortList is the serial_ports_list payload.
type PortList struct {
	Current string       `json:"current"`
	Ports   []SerialPort `json:"ports"`
}
