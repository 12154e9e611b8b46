package groundstation

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/groundstation/core"
	"pkt.systems/groundstation/httpapi"
	"pkt.systems/groundstation/internal/catalog"
	"pkt.systems/groundstation/internal/datasource"
	"pkt.systems/groundstation/internal/eventbus"
	"pkt.systems/groundstation/sshserver"
	"pkt.systems/pslog"
)

// Server composes the data source, the HTTP event channel and the SSH viewer
// around one core service.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	Service() *core.Service
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service core.ServiceConfig
	Catalog []catalog.Definition
	HTTP    httpapi.Config
	SSH     sshserver.Config
	Source  datasource.Config
}

// ServerDeps captures optional dependencies. Extra sinks receive events in
// addition to the built-in bus and hub.
type ServerDeps struct {
	Logger        pslog.Logger
	EventSink     core.EventSink
	TelemetrySink core.TelemetrySink
	SourceOptions []datasource.Option
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableHTTP   bool
	enableSSH    bool
	enableSource bool
}

// WithHTTP enables the HTTP event channel and telemetry stream.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// WithSSH enables the read-only SSH viewer.
func WithSSH() ServerOption {
	return func(o *serverOptions) { o.enableSSH = true }
}

// WithSource enables the serial data source and its port controls.
func WithSource() ServerOption {
	return func(o *serverOptions) { o.enableSource = true }
}

// New constructs a composable groundstation server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableHTTP && !options.enableSSH && !options.enableSource {
		return nil, errors.New("no services enabled")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if len(cfg.Service.Catalog) == 0 {
		cfg.Service.Catalog = catalog.Names(cfg.Catalog)
	}

	bus := eventbus.New(logger)
	var hub *httpapi.Hub
	if options.enableHTTP {
		hub = httpapi.NewHub(cfg.HTTP.HistorySize)
	}

	events := []core.EventSink{bus}
	if deps.EventSink != nil {
		events = append(events, deps.EventSink)
	}
	var telemetry []core.TelemetrySink
	if hub != nil {
		telemetry = append(telemetry, hub)
	}
	if deps.TelemetrySink != nil {
		telemetry = append(telemetry, deps.TelemetrySink)
	}

	serviceDeps := core.ServiceDeps{
		EventSink:     eventFanout{sinks: events},
		TelemetrySink: telemetryFanout{sinks: telemetry},
		Logger:        logger,
	}
	var reader *datasource.Reader
	if options.enableSource {
		sourceOpts := append([]datasource.Option{datasource.WithLogger(logger)}, deps.SourceOptions...)
		reader = datasource.NewReader(cfg.Source, sourceOpts...)
		serviceDeps.Ports = reader
	}
	service, err := core.NewService(cfg.Service, serviceDeps)
	if err != nil {
		return nil, err
	}

	var httpSrv *httpapi.Server
	if options.enableHTTP {
		httpSrv = httpapi.NewServer(cfg.HTTP, service, bus, hub, cfg.Catalog)
	}
	var sshSrv *sshserver.Server
	if options.enableSSH {
		sshSrv = &sshserver.Server{
			Addr:               cfg.SSH.Addr,
			HostKeyPath:        cfg.SSH.HostKeyPath,
			AuthorizedKeysPath: cfg.SSH.AuthorizedKeysPath,
			Service:            service,
			EventBus:           bus,
			Catalog:            cfg.Catalog,
		}
	}

	return &compositeServer{
		cfg:     cfg,
		options: options,
		service: service,
		httpSrv: httpSrv,
		sshSrv:  sshSrv,
		reader:  reader,
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	service *core.Service
	httpSrv *httpapi.Server
	sshSrv  *sshserver.Server
	reader  *datasource.Reader
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

func (s *compositeServer) Service() *core.Service {
	return s.service
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 3)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http", s.options.enableHTTP,
		"ssh", s.options.enableSSH,
		"source", s.options.enableSource,
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_path", s.cfg.HTTP.BasePath,
		"ssh_addr", s.cfg.SSH.Addr,
	)
	if s.httpSrv != nil {
		go func() {
			if err := httpapi.ListenAndServe(s.ctx, s.cfg.HTTP, s.httpSrv.Handler()); err != nil {
				log.Error("http server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	if s.sshSrv != nil {
		go func() {
			if err := s.sshSrv.ListenAndServe(s.ctx); err != nil {
				log.Error("ssh server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	if s.reader != nil {
		go func() {
			if err := s.reader.Run(s.ctx, s.service.PublishTelemetry); err != nil {
				log.Error("data source failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested", "clients", len(s.service.Clients()), "admin_held", s.service.AdminHeld())
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-s.ctx.Done():
		log.Info("server stopped")
		return nil
	}
}
