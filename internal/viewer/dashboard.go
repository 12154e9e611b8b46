// Package viewer assembles the client dashboard: layout, allow-list and
// telemetry fan-out, rendered as a terminal grid.
package viewer

import (
	"context"
	"encoding/json"
	"time"

	"pkt.systems/groundstation/internal/catalog"
	"pkt.systems/groundstation/internal/identity"
	"pkt.systems/groundstation/internal/kv"
	"pkt.systems/groundstation/internal/layout"
	"pkt.systems/groundstation/internal/logx"
	"pkt.systems/groundstation/internal/telemetry"
	"pkt.systems/groundstation/internal/wsclient"
	"pkt.systems/groundstation/schema"
	"pkt.systems/pslog"
)

// Dashboard is driven from one goroutine (the event-channel dispatcher or an
// SSH session loop) and is not safe for concurrent use.
type Dashboard struct {
	layout    *layout.Machine
	fanout    *telemetry.Fanout
	allowed   map[schema.WidgetName]struct{}
	permitted bool
	charts    map[string]*chart
	clientID  schema.ClientID
	onChange  func()
	now       func() time.Time
	log       pslog.Logger
}

type chart struct {
	series  *telemetry.Series
	unmount func()
}

// Option customizes a Dashboard.
type Option func(*Dashboard)

// WithIdentity takes the client id from the identity provider.
func WithIdentity(provider *identity.Provider) Option {
	return func(d *Dashboard) {
		if provider != nil {
			d.clientID = provider.ClientID()
		}
	}
}

// WithClientID sets the client id directly.
func WithClientID(id schema.ClientID) Option {
	return func(d *Dashboard) { d.clientID = id }
}

// WithOnChange registers a callback invoked after every state change.
func WithOnChange(fn func()) Option {
	return func(d *Dashboard) { d.onChange = fn }
}

// WithClock replaces the time source used by chart series.
func WithClock(now func() time.Time) Option {
	return func(d *Dashboard) { d.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger pslog.Logger) Option {
	return func(d *Dashboard) { d.log = logger }
}

// New builds a dashboard over defs, restoring the layout from store.
func New(defs []catalog.Definition, store kv.Store, opts ...Option) *Dashboard {
	d := &Dashboard{
		fanout:  telemetry.NewFanout(),
		allowed: make(map[schema.WidgetName]struct{}),
		charts:  make(map[string]*chart),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = pslog.Ctx(context.Background())
	}
	if store == nil {
		store = kv.NewMemory()
	}
	d.layout = layout.New(store, layout.WithLogger(d.log))
	d.layout.Initialize(defs)
	return d
}

// Layout exposes the layout state machine.
func (d *Dashboard) Layout() *layout.Machine {
	return d.layout
}

// Fanout exposes the telemetry fan-out.
func (d *Dashboard) Fanout() *telemetry.Fanout {
	return d.fanout
}

// ApplyPermissions replaces the allow-list.
func (d *Dashboard) ApplyPermissions(names []schema.WidgetName) {
	d.allowed = make(map[schema.WidgetName]struct{}, len(names))
	for _, name := range names {
		d.allowed[name] = struct{}{}
	}
	d.permitted = true
	d.syncCharts()
	logx.WithWidgets(d.log, names).Debug("viewer permissions applied")
	d.changed()
}

// Publish hands a snapshot to mounted widgets.
func (d *Dashboard) Publish(snapshot schema.TelemetrySnapshot) {
	d.fanout.Publish(snapshot)
	d.changed()
}

// Latest returns the last published snapshot.
func (d *Dashboard) Latest() (schema.TelemetrySnapshot, bool) {
	return d.fanout.Latest()
}

// Visible returns the layout instances the allow-list admits, in layout order.
// Nothing is visible before the first permission set arrives.
func (d *Dashboard) Visible() []layout.Instance {
	if !d.permitted {
		return nil
	}
	var out []layout.Instance
	for _, inst := range d.layout.Instances() {
		if _, ok := d.allowed[inst.Definition.Name]; ok {
			out = append(out, inst)
		}
	}
	return out
}

// Reorder moves dragged to target's position and redraws.
func (d *Dashboard) Reorder(dragged, target string) {
	d.layout.Reorder(dragged, target)
	d.changed()
}

// SetSpan sets the span of id directly and redraws.
func (d *Dashboard) SetSpan(id string, span int) int {
	inst, ok := d.layout.Instance(id)
	if !ok {
		return 0
	}
	const unit = 100.0
	got := d.layout.Resize(id, float64(span-inst.Span)*unit, float64(inst.Span)*unit, inst.Span)
	d.changed()
	return got
}

// Series returns the chart history of a visible chart instance.
func (d *Dashboard) Series(id string) (*telemetry.Series, bool) {
	c, ok := d.charts[id]
	if !ok {
		return nil, false
	}
	return c.series, true
}

// Apply handles one server event and reports whether it changed the dashboard.
func (d *Dashboard) Apply(env schema.Envelope) bool {
	switch env.Event {
	case schema.EventWidgetPermissions:
		var names []schema.WidgetName
		if err := json.Unmarshal(env.Data, &names); err != nil {
			d.log.Debug("viewer permissions ignored", "err", err)
			return false
		}
		d.ApplyPermissions(names)
		return true
	case schema.EventDataUpdate:
		var snapshot schema.TelemetrySnapshot
		if err := json.Unmarshal(env.Data, &snapshot); err != nil || snapshot == nil {
			d.log.Debug("viewer data ignored", "err", err)
			return false
		}
		d.Publish(snapshot)
		return true
	default:
		return false
	}
}

// Attach wires client events into the dashboard. Handlers stay registered
// across reconnects so layout and allow-list survive a dropped connection.
func (d *Dashboard) Attach(client *wsclient.Client) {
	apply := func(env schema.Envelope) { d.Apply(env) }
	client.On(schema.EventWidgetPermissions, apply)
	client.On(schema.EventDataUpdate, apply)
}

// Auth returns the connect payload for this dashboard.
func (d *Dashboard) Auth() schema.ConnectAuth {
	return schema.ConnectAuth{ID: d.clientID}
}

// syncCharts mounts a series for every visible chart and drops hidden ones,
// so a chart's history starts when it appears.
func (d *Dashboard) syncCharts() {
	visible := make(map[string]layout.Instance)
	for _, inst := range d.Visible() {
		if inst.Definition.Render == catalog.RenderChart && len(inst.Definition.Fields) > 0 {
			visible[inst.ID] = inst
		}
	}
	for id, c := range d.charts {
		if _, ok := visible[id]; !ok {
			c.unmount()
			delete(d.charts, id)
		}
	}
	for id, inst := range visible {
		if _, ok := d.charts[id]; ok {
			continue
		}
		series := telemetry.NewSeries(inst.Definition.Fields[0], telemetry.DefaultHorizon, d.now)
		unmount := d.fanout.Mount(func(snapshot schema.TelemetrySnapshot) {
			series.Observe(snapshot)
		})
		d.charts[id] = &chart{series: series, unmount: unmount}
	}
}

func (d *Dashboard) changed() {
	if d.onChange != nil {
		d.onChange()
	}
}
