// Package datasource reads telemetry from a serial port, or synthesizes it,
// and exposes port discovery to the admin.
package datasource

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"pkt.systems/groundstation/schema"
	"pkt.systems/pslog"
)

const (
	// DefaultPort is the port opened when none is configured.
	DefaultPort = "COM7"
	// DefaultBaud is the serial line speed.
	DefaultBaud = 115200
	// DefaultInterval is the simulator tick and the serial read timeout.
	DefaultInterval = 100 * time.Millisecond
	// DefaultProbeTimeout bounds how long a scan listens on an idle port.
	DefaultProbeTimeout = 500 * time.Millisecond
	// DefaultRetryDelay is the pause before reopening a failed port.
	DefaultRetryDelay = 2 * time.Second
	// activeWindow is how recent the last reading must be for active_data.
	activeWindow = 2 * time.Second
)

// Config configures a Reader.
type Config struct {
	Port         string
	Baud         int
	Interval     time.Duration
	ProbeTimeout time.Duration
	RetryDelay   time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Port) == "" {
		c.Port = DefaultPort
	}
	if c.Baud <= 0 {
		c.Baud = DefaultBaud
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// Port is the subset of a serial port the reader uses.
type Port interface {
	Read(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
}

// Opener opens a port by name.
type Opener func(name string, baud int) (Port, error)

// PortInfo describes an enumerated port.
type PortInfo struct {
	Name        string
	Description string
}

// Enumerator lists the ports present on the system.
type Enumerator func() ([]PortInfo, error)

// OpenSerial opens a hardware serial port.
func OpenSerial(name string, baud int) (Port, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	return port, nil
}

// SystemPorts enumerates hardware serial ports, preferring USB product names
// for descriptions.
func SystemPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		names, listErr := serial.GetPortsList()
		if listErr != nil {
			return nil, errors.Join(err, listErr)
		}
		out := make([]PortInfo, 0, len(names))
		for _, name := range names {
			out = append(out, PortInfo{Name: name, Description: name})
		}
		return out, nil
	}
	out := make([]PortInfo, 0, len(details))
	for _, d := range details {
		desc := d.Name
		if d.IsUSB {
			switch {
			case d.Product != "":
				desc = d.Product
			default:
				desc = "USB " + d.VID + ":" + d.PID
			}
		}
		out = append(out, PortInfo{Name: d.Name, Description: desc})
	}
	return out, nil
}

// Reader owns the active telemetry source.
type Reader struct {
	cfg       Config
	open      Opener
	enumerate Enumerator
	now       func() time.Time
	log       pslog.Logger

	mu       sync.Mutex
	current  string
	conn     Port
	lastData time.Time
	cached   *schema.PortList
	changed  chan struct{}
	sim      *Simulator
}

// Option customizes a Reader.
type Option func(*Reader)

// WithOpener replaces the serial opener.
func WithOpener(open Opener) Option {
	return func(r *Reader) { r.open = open }
}

// WithEnumerator replaces the port enumerator.
func WithEnumerator(enumerate Enumerator) Option {
	return func(r *Reader) { r.enumerate = enumerate }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reader) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger pslog.Logger) Option {
	return func(r *Reader) { r.log = logger }
}

// NewReader constructs a Reader. Run starts it.
func NewReader(cfg Config, opts ...Option) *Reader {
	cfg = cfg.withDefaults()
	r := &Reader{
		cfg:       cfg,
		open:      OpenSerial,
		enumerate: SystemPorts,
		now:       time.Now,
		current:   cfg.Port,
		changed:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = pslog.Ctx(context.Background())
	}
	r.sim = NewSimulator(r.now())
	return r
}

// Current returns the selected port name.
func (r *Reader) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// SelectPort switches the source. The open port, if any, is closed and the
// run loop reopens the new one.
func (r *Reader) SelectPort(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return schema.ErrInvalidRequest
	}
	r.mu.Lock()
	previous := r.current
	r.current = name
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
	r.mu.Unlock()
	select {
	case r.changed <- struct{}{}:
	default:
	}
	pslog.Ctx(ctx).Info("datasource port selected", "port", name, "previous", previous)
	return nil
}

// Run reads telemetry until ctx is done, calling publish for every snapshot.
func (r *Reader) Run(ctx context.Context, publish func(schema.TelemetrySnapshot)) error {
	r.log.Info("datasource start", "port", r.Current(), "baud", r.cfg.Baud)
	for {
		if err := ctx.Err(); err != nil {
			r.log.Info("datasource stop")
			return nil
		}
		port := r.Current()
		if port == SimulatorPort {
			r.runSimulator(ctx, publish)
			continue
		}
		r.runSerial(ctx, port, publish)
	}
}

func (r *Reader) runSimulator(ctx context.Context, publish func(schema.TelemetrySnapshot)) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	r.log.Debug("datasource simulator start")
	for {
		r.mu.Lock()
		snapshot := r.sim.Next(r.now())
		r.lastData = r.now()
		r.mu.Unlock()
		publish(snapshot)
		select {
		case <-ctx.Done():
			return
		case <-r.changed:
			if r.Current() != SimulatorPort {
				return
			}
		case <-ticker.C:
		}
	}
}

func (r *Reader) runSerial(ctx context.Context, name string, publish func(schema.TelemetrySnapshot)) {
	log := r.log.With("port", name)
	conn, err := r.open(name, r.cfg.Baud)
	if err != nil {
		log.Debug("datasource open failed", "err", err)
		r.wait(ctx, name)
		return
	}
	if err := conn.SetReadTimeout(r.cfg.Interval); err != nil {
		log.Debug("datasource read timeout failed", "err", err)
	}
	r.mu.Lock()
	if r.current != name {
		r.mu.Unlock()
		_ = conn.Close()
		return
	}
	r.conn = conn
	r.mu.Unlock()
	log.Info("datasource port open")

	defer func() {
		r.mu.Lock()
		if r.conn == conn {
			r.conn = nil
		}
		r.mu.Unlock()
		_ = conn.Close()
	}()

	var lines lineBuffer
	buf := make([]byte, 512)
	for {
		if ctx.Err() != nil || r.Current() != name {
			return
		}
		n, err := conn.Read(buf)
		if n > 0 {
			for _, line := range lines.Feed(buf[:n]) {
				snapshot, ok := DecodeLine(line)
				if !ok {
					log.Trace("datasource line ignored", "bytes", len(line))
					continue
				}
				r.mu.Lock()
				r.lastData = r.now()
				r.mu.Unlock()
				publish(snapshot)
			}
		}
		if err != nil {
			if r.Current() != name || ctx.Err() != nil {
				return
			}
			log.Warn("datasource read failed", "err", err)
			r.wait(ctx, name)
			return
		}
	}
}

// wait sleeps for the retry delay unless ctx ends or the port changes.
func (r *Reader) wait(ctx context.Context, name string) {
	timer := time.NewTimer(r.cfg.RetryDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case <-r.changed:
			if r.Current() != name {
				return
			}
		}
	}
}

// ListPorts returns the last scan, scanning once if none exists yet.
func (r *Reader) ListPorts(ctx context.Context) (schema.PortList, error) {
	r.mu.Lock()
	cached := r.cached
	current := r.current
	r.mu.Unlock()
	if cached == nil {
		return r.RescanPorts(ctx)
	}
	list := schema.PortList{Current: current, Ports: append([]schema.SerialPort(nil), cached.Ports...)}
	return list, nil
}

// RescanPorts enumerates ports and probes each one for telemetry.
func (r *Reader) RescanPorts(ctx context.Context) (schema.PortList, error) {
	infos, err := r.enumerate()
	if err != nil {
		pslog.Ctx(ctx).Warn("datasource enumerate failed", "err", err)
		infos = nil
	}
	r.mu.Lock()
	current := r.current
	connected := r.conn != nil
	recent := !r.lastData.IsZero() && r.now().Sub(r.lastData) < activeWindow
	r.mu.Unlock()

	simActive := current == SimulatorPort
	ports := []schema.SerialPort{{
		Port:        SimulatorPort,
		Description: "Data simulator",
		Status:      schema.PortAvailable,
		Active:      simActive,
	}}
	if simActive {
		ports[0].Status = schema.PortConnected
	}
	for _, info := range infos {
		if ctx.Err() != nil {
			return schema.PortList{}, ctx.Err()
		}
		entry := schema.SerialPort{Port: info.Name, Description: info.Description, Status: schema.PortAvailable}
		if entry.Description == "" {
			entry.Description = info.Name
		}
		if info.Name == current {
			switch {
			case connected && recent:
				entry.Status = schema.PortActiveData
				entry.Active = true
			case connected:
				entry.Status = schema.PortConnected
			default:
				entry.Status = schema.PortErrorConnecting
			}
		} else {
			entry.Status = r.probe(info.Name)
			entry.Active = entry.Status == schema.PortAvailableWithData
		}
		ports = append(ports, entry)
	}
	list := schema.PortList{Current: current, Ports: ports}
	r.mu.Lock()
	r.cached = &schema.PortList{Current: current, Ports: append([]schema.SerialPort(nil), ports...)}
	r.mu.Unlock()
	pslog.Ctx(ctx).Debug("datasource scan ok", "ports", len(ports))
	return list, nil
}

// probe opens a non-selected port and listens for one JSON line.
func (r *Reader) probe(name string) schema.PortStatus {
	conn, err := r.open(name, r.cfg.Baud)
	if err != nil {
		return schema.PortBusy
	}
	defer conn.Close()
	if err := conn.SetReadTimeout(r.cfg.ProbeTimeout); err != nil {
		return schema.PortAvailable
	}
	deadline := r.now().Add(r.cfg.ProbeTimeout)
	var lines lineBuffer
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		for _, line := range lines.Feed(buf[:n]) {
			if _, ok := DecodeLine(line); ok {
				return schema.PortAvailableWithData
			}
		}
		if err != nil || n == 0 || !r.now().Before(deadline) {
			return schema.PortAvailable
		}
	}
}
