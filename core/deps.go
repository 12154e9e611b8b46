package core

import (
	"context"

	"pkt.systems/groundstation/schema"
	"pkt.systems/pslog"
)

// PortController is the data-source collaborator the admin drives.
type PortController interface {
	ListPorts(ctx context.Context) (schema.PortList, error)
	SelectPort(ctx context.Context, name string) error
	RescanPorts(ctx context.Context) (schema.PortList, error)
}

// ServiceConfig configures the core service.
type ServiceConfig struct {
	// Catalog lists the widget names the server knows about.
	Catalog []schema.WidgetName
	// GlobalDefault seeds the global default. Nil means every catalog widget.
	GlobalDefault []schema.WidgetName
	// StateDir enables persistence of permission state when set.
	StateDir string
	// AdminPasswordHash is an optional bcrypt hash the admin must match.
	AdminPasswordHash string
	// AdminTOTPSecret is an optional TOTP secret the admin must match.
	AdminTOTPSecret string
}

// ServiceDeps captures optional dependencies for the core service.
type ServiceDeps struct {
	EventSink     EventSink
	TelemetrySink TelemetrySink
	Ports         PortController
	Logger        pslog.Logger
}
