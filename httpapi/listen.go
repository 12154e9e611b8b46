package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"

	"pkt.systems/pslog"
)

// ListenAndServe binds cfg.Addr and serves handler until ctx is cancelled.
func ListenAndServe(ctx context.Context, cfg Config, handler http.Handler) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, cfg, handler)
}

// Serve serves handler on ln. Cancelling ctx stops accepting and gives open
// requests cfg.ShutdownTimeout to finish; event-channel connections are
// closed with the context they were accepted under.
func Serve(ctx context.Context, ln net.Listener, cfg Config, handler http.Handler) error {
	cfg = cfg.withDefaults()
	logger := pslog.Ctx(ctx).With("addr", ln.Addr().String(), "base_path", cfg.BasePath)
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ErrorLog:          pslog.LogLoggerWithLevel(logger, pslog.ErrorLevel),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	logger.Info("http listening", "shutdown_timeout", cfg.ShutdownTimeout)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", "err", err)
			_ = server.Close()
			return nil
		}
		logger.Info("http stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
