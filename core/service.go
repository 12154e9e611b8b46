package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"pkt.systems/groundstation/internal/logx"
	"pkt.systems/groundstation/internal/persist"
	"pkt.systems/groundstation/schema"
	"pkt.systems/pslog"
)

// Service is the permission synchronization engine. It tracks connected
// sessions, resolves per-client widget permissions against the global default,
// guards the single admin seat and relays telemetry.
type Service struct {
	cfg       ServiceConfig
	sink      EventSink
	telemetry TelemetrySink
	ports     PortController
	store     *persist.Store
	logger    pslog.Logger

	mu        sync.Mutex
	sessions  map[schema.SessionID]*clientSession
	order     []schema.SessionID
	overrides map[schema.ClientID]schema.PermissionSet
	global    []schema.WidgetName
	admin     adminHold
	latest    schema.TelemetrySnapshot
	outbox    []outgoing
	draining  bool
}

type clientSession struct {
	record schema.ClientRecord
	token  string
}

// ConnectRequest describes a new event-channel connection.
type ConnectRequest struct {
	Session schema.SessionID
	Address string
	Auth    schema.ConnectAuth
}

// outgoing is one queued delivery: an envelope for a session, or a snapshot
// for the telemetry sink when telemetry is set.
type outgoing struct {
	session   schema.SessionID
	envelope  schema.Envelope
	telemetry schema.TelemetrySnapshot
}

// NewService constructs the core service and loads persisted permission state.
func NewService(cfg ServiceConfig, deps ServiceDeps) (*Service, error) {
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	global := cfg.GlobalDefault
	if global == nil {
		global = cfg.Catalog
	}
	s := &Service{
		cfg:       cfg,
		sink:      deps.EventSink,
		telemetry: deps.TelemetrySink,
		ports:     deps.Ports,
		logger:    logger,
		sessions:  make(map[schema.SessionID]*clientSession),
		overrides: make(map[schema.ClientID]schema.PermissionSet),
		global:    schema.NormalizeWidgetNames(global),
	}
	if strings.TrimSpace(cfg.StateDir) != "" {
		store, err := persist.NewStoreWithLogger(cfg.StateDir, logger)
		if err != nil {
			return nil, err
		}
		s.store = store
		snapshot, ok, err := store.LoadPermissions()
		switch {
		case err != nil:
			logger.Warn("service permissions load failed, using defaults", "err", err)
		case ok:
			s.global = snapshot.Global
			for id, set := range snapshot.Clients {
				if set.IsGlobal() {
					continue
				}
				s.overrides[id] = set
			}
		}
	}
	logx.WithWidgets(logger, s.global).Info("service ready", "overrides", len(s.overrides))
	return s, nil
}

// Connect registers a session. An admin token claims the admin seat when it
// is free or already held by the same token; otherwise the session is
// downgraded to a viewer and told why.
func (s *Service) Connect(ctx context.Context, req ConnectRequest) (schema.ClientRecord, error) {
	if ctx == nil {
		return schema.ClientRecord{}, errors.New("missing context")
	}
	if strings.TrimSpace(string(req.Session)) == "" {
		return schema.ClientRecord{}, fmt.Errorf("%w: missing session", schema.ErrInvalidRequest)
	}
	clientID := req.Auth.ID
	if clientID == "" {
		clientID = schema.ClientID(req.Session)
	}
	if err := schema.ValidateClientID(clientID); err != nil {
		return schema.ClientRecord{}, err
	}
	log := logx.WithClientSession(ctx, clientID, req.Session)

	var authErr error
	token := strings.TrimSpace(req.Auth.AdminToken)
	if token != "" {
		authErr = s.verifyCredentials(req.Auth)
	}

	s.mu.Lock()
	if _, exists := s.sessions[req.Session]; exists {
		s.mu.Unlock()
		return schema.ClientRecord{}, fmt.Errorf("%w: session already connected", schema.ErrInvalidRequest)
	}
	kind := schema.KindViewer
	if token != "" && authErr == nil {
		authErr = s.admin.claim(token, req.Session)
		if authErr == nil {
			kind = schema.KindAdmin
		}
	}
	sess := &clientSession{
		record: schema.ClientRecord{
			ID:         clientID,
			SessionRef: req.Session,
			Kind:       kind,
			Address:    req.Address,
		},
	}
	if kind == schema.KindAdmin {
		sess.token = token
	}
	s.sessions[req.Session] = sess
	s.order = append(s.order, req.Session)
	record := s.recordLocked(sess)

	var out []outgoing
	if token != "" {
		if authErr != nil {
			out = append(out, s.envelope(req.Session, schema.EventAdminAuthFailed, authErr.Error()))
		} else {
			out = append(out, s.envelope(req.Session, schema.EventAdminAuthSuccess, nil))
		}
	}
	out = append(out, s.envelope(req.Session, schema.EventWidgetPermissions, s.effectiveLocked(clientID)))
	if s.latest != nil {
		out = append(out, s.envelope(req.Session, schema.EventDataUpdate, s.latest))
	}
	if kind == schema.KindAdmin {
		out = append(out, s.envelope(req.Session, schema.EventGlobalWidgetsUpdate, s.global))
	}
	out = append(out, s.clientsUpdateLocked()...)
	s.queueLocked(out)
	s.mu.Unlock()

	s.flush()
	switch {
	case authErr != nil:
		log.Warn("service admin auth failed", "err", authErr, "address", req.Address)
	case kind == schema.KindAdmin:
		log.Info("service admin connected", "address", req.Address)
	default:
		log.Info("service client connected", "address", req.Address)
	}
	return record, nil
}

// Disconnect removes a session. The admin seat is released when the last
// session holding its token goes away.
func (s *Service) Disconnect(ctx context.Context, session schema.SessionID) {
	s.mu.Lock()
	sess := s.sessions[session]
	if sess == nil {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, session)
	for i, id := range s.order {
		if id == session {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	released := false
	if sess.token != "" {
		released = s.admin.release(session)
	}
	s.queueLocked(s.clientsUpdateLocked())
	s.mu.Unlock()

	s.flush()
	log := logx.WithClientSession(ctx, sess.record.ID, session)
	log.Info("service client disconnected", "kind", sess.record.Kind, "admin_released", released)
}

// HandleEvent dispatches a client-to-server envelope. Admin events from
// non-admin sessions are answered with admin_auth_failed and rejected.
func (s *Service) HandleEvent(ctx context.Context, session schema.SessionID, envelope schema.Envelope) error {
	s.mu.Lock()
	sess := s.sessions[session]
	var kind schema.ClientKind
	var clientID schema.ClientID
	if sess != nil {
		kind = sess.record.Kind
		clientID = sess.record.ID
	}
	s.mu.Unlock()
	if sess == nil {
		return schema.ErrUnknownClient
	}
	log := logx.WithClientSession(ctx, clientID, session)
	ctx = logx.ContextWithClientSessionLogger(ctx, log, clientID, session)

	if !isAdminEvent(envelope.Event) {
		if envelope.Event == schema.EventConnect {
			return fmt.Errorf("%w: already connected", schema.ErrInvalidRequest)
		}
		return fmt.Errorf("%w: unknown event %q", schema.ErrInvalidRequest, envelope.Event)
	}
	if kind != schema.KindAdmin {
		s.emit([]outgoing{s.envelope(session, schema.EventAdminAuthFailed, schema.ErrNotAdmin.Error())})
		log.Warn("service admin event rejected", "event", envelope.Event)
		return schema.ErrNotAdmin
	}
	log.Debug("service admin event", "event", envelope.Event)

	switch envelope.Event {
	case schema.EventGetGlobalWidgets:
		s.mu.Lock()
		s.queueLocked([]outgoing{s.envelope(session, schema.EventGlobalWidgetsUpdate, s.global)})
		s.mu.Unlock()
		s.flush()
		return nil
	case schema.EventUpdateGlobalWidgets:
		var names []schema.WidgetName
		if err := decodeData(envelope, &names); err != nil {
			return err
		}
		s.SetGlobalDefault(ctx, names)
		return nil
	case schema.EventToggleGlobalWidget:
		var name schema.WidgetName
		if err := decodeData(envelope, &name); err != nil {
			return err
		}
		_, err := s.ToggleGlobalDefault(ctx, name)
		return err
	case schema.EventUpdateClientWidgets:
		var req schema.UpdateClientWidgets
		if err := decodeData(envelope, &req); err != nil {
			return err
		}
		if req.Widgets.IsGlobal() {
			return s.ResetToGlobal(ctx, req.ClientID)
		}
		return s.SetExplicit(ctx, req.ClientID, req.Widgets.Names())
	case schema.EventGetSerialPorts:
		list, err := s.ListPorts(ctx)
		if err != nil {
			return err
		}
		s.emit([]outgoing{s.envelope(session, schema.EventSerialPortsList, list)})
		return nil
	case schema.EventSetSerialPort:
		var name string
		if err := decodeData(envelope, &name); err != nil {
			return err
		}
		if err := s.SelectPort(ctx, name); err != nil {
			return err
		}
		list, err := s.ListPorts(ctx)
		if err != nil {
			return err
		}
		s.emit([]outgoing{s.envelope(session, schema.EventSerialPortsList, list)})
		return nil
	case schema.EventRescanSerialPorts:
		list, err := s.RescanPorts(ctx)
		if err != nil {
			return err
		}
		s.emit([]outgoing{s.envelope(session, schema.EventSerialPortsList, list)})
		return nil
	case schema.EventAdminPublishData:
		var snapshot schema.TelemetrySnapshot
		if err := decodeData(envelope, &snapshot); err != nil {
			return err
		}
		if snapshot == nil {
			return fmt.Errorf("%w: snapshot must be an object", schema.ErrInvalidRequest)
		}
		s.PublishTelemetry(snapshot)
		return nil
	}
	return fmt.Errorf("%w: unknown event %q", schema.ErrInvalidRequest, envelope.Event)
}

// PublishTelemetry replaces the latest snapshot and broadcasts it as data_update.
func (s *Service) PublishTelemetry(snapshot schema.TelemetrySnapshot) {
	snapshot = snapshot.Clone()
	if snapshot == nil {
		snapshot = schema.TelemetrySnapshot{}
	}
	s.mu.Lock()
	s.latest = snapshot
	out := make([]outgoing, 0, len(s.order)+1)
	if len(s.order) > 0 {
		env := s.encode(schema.EventDataUpdate, snapshot)
		for _, session := range s.order {
			out = append(out, outgoing{session: session, envelope: env})
		}
	}
	out = append(out, outgoing{telemetry: snapshot})
	s.queueLocked(out)
	s.mu.Unlock()
	s.flush()
}

// Latest returns the last published telemetry snapshot.
func (s *Service) Latest() (schema.TelemetrySnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil, false
	}
	return s.latest.Clone(), true
}

// Clients returns the projections of connected non-admin sessions in connect order.
func (s *Service) Clients() []schema.ClientProjection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectionsLocked()
}

// Record returns the record of a connected session.
func (s *Service) Record(session schema.SessionID) (schema.ClientRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[session]
	if sess == nil {
		return schema.ClientRecord{}, false
	}
	return s.recordLocked(sess), true
}

// ListPorts forwards to the port controller.
func (s *Service) ListPorts(ctx context.Context) (schema.PortList, error) {
	if s.ports == nil {
		return schema.PortList{}, schema.ErrNoPortController
	}
	return s.ports.ListPorts(ctx)
}

// SelectPort forwards to the port controller.
func (s *Service) SelectPort(ctx context.Context, name string) error {
	if s.ports == nil {
		return schema.ErrNoPortController
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: missing port", schema.ErrInvalidRequest)
	}
	if err := s.ports.SelectPort(ctx, name); err != nil {
		return err
	}
	pslog.Ctx(ctx).Info("service port selected", "port", name)
	return nil
}

// RescanPorts forwards to the port controller.
func (s *Service) RescanPorts(ctx context.Context) (schema.PortList, error) {
	if s.ports == nil {
		return schema.PortList{}, schema.ErrNoPortController
	}
	return s.ports.RescanPorts(ctx)
}

func (s *Service) recordLocked(sess *clientSession) schema.ClientRecord {
	record := sess.record
	if set, ok := s.overrides[record.ID]; ok {
		record.Permissions = set
	} else {
		record.Permissions = schema.Global()
	}
	return record
}

func (s *Service) projectionsLocked() []schema.ClientProjection {
	out := make([]schema.ClientProjection, 0, len(s.order))
	for _, session := range s.order {
		sess := s.sessions[session]
		if sess == nil || sess.record.Kind == schema.KindAdmin {
			continue
		}
		out = append(out, s.recordLocked(sess).Project())
	}
	return out
}

func (s *Service) adminSessionsLocked() []schema.SessionID {
	var out []schema.SessionID
	for _, session := range s.order {
		if sess := s.sessions[session]; sess != nil && sess.record.Kind == schema.KindAdmin {
			out = append(out, session)
		}
	}
	return out
}

func (s *Service) clientsUpdateLocked() []outgoing {
	admins := s.adminSessionsLocked()
	if len(admins) == 0 {
		return nil
	}
	env := s.encode(schema.EventClientsUpdate, s.projectionsLocked())
	out := make([]outgoing, 0, len(admins))
	for _, session := range admins {
		out = append(out, outgoing{session: session, envelope: env})
	}
	return out
}

func (s *Service) envelope(session schema.SessionID, event schema.EventName, payload any) outgoing {
	return outgoing{session: session, envelope: s.encode(event, payload)}
}

func (s *Service) encode(event schema.EventName, payload any) schema.Envelope {
	env, err := schema.NewEnvelope(event, payload)
	if err != nil {
		s.logger.Error("service event encode failed", "event", event, "err", err)
		return schema.Envelope{Event: event}
	}
	return env
}

// emit queues replies that do not depend on service state.
func (s *Service) emit(out []outgoing) {
	s.mu.Lock()
	s.queueLocked(out)
	s.mu.Unlock()
	s.flush()
}

// queueLocked appends deliveries in the order the state changes were made.
// Callers hold s.mu and call flush after releasing it.
func (s *Service) queueLocked(out []outgoing) {
	s.outbox = append(s.outbox, out...)
}

// flush delivers the queue in order. One goroutine drains at a time; anything
// queued meanwhile, including by sinks calling back into the service, is
// delivered by that goroutine after the current batch.
func (s *Service) flush() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.outbox) > 0 {
		batch := s.outbox
		s.outbox = nil
		s.mu.Unlock()
		s.deliver(batch)
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

func (s *Service) deliver(batch []outgoing) {
	for _, item := range batch {
		if item.telemetry != nil {
			if s.telemetry != nil {
				s.telemetry.OnTelemetry(item.telemetry)
			}
			continue
		}
		if s.sink != nil {
			s.sink.OnClientEvent(item.session, item.envelope)
		}
	}
}

func isAdminEvent(event schema.EventName) bool {
	switch event {
	case schema.EventGetGlobalWidgets,
		schema.EventUpdateGlobalWidgets,
		schema.EventToggleGlobalWidget,
		schema.EventUpdateClientWidgets,
		schema.EventGetSerialPorts,
		schema.EventSetSerialPort,
		schema.EventRescanSerialPorts,
		schema.EventAdminPublishData:
		return true
	}
	return false
}

func decodeData(envelope schema.Envelope, out any) error {
	if len(envelope.Data) == 0 {
		return fmt.Errorf("%w: %s requires data", schema.ErrInvalidRequest, envelope.Event)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", schema.ErrInvalidRequest, envelope.Event, err)
	}
	return nil
}
