package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"pkt.systems/groundstation"
	"pkt.systems/groundstation/core"
	"pkt.systems/groundstation/httpapi"
	"pkt.systems/groundstation/internal/appconfig"
	"pkt.systems/groundstation/internal/datasource"
	"pkt.systems/groundstation/internal/widgets"
	"pkt.systems/groundstation/schema"
	"pkt.systems/groundstation/sshserver"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var port string
	var simulate bool
	var noSSH bool
	var showQR bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			switch {
			case simulate:
				cfg.Source.Port = datasource.SimulatorPort
			case strings.TrimSpace(port) != "":
				cfg.Source.Port = strings.TrimSpace(port)
			}
			if noSSH {
				cfg.SSH.Enabled = false
			}
			serverCfg := toServerConfig(cfg)
			opts := []groundstation.ServerOption{groundstation.WithHTTP(), groundstation.WithSource()}
			if cfg.SSH.Enabled {
				opts = append(opts, groundstation.WithSSH())
			}
			server, err := groundstation.New(serverCfg, groundstation.ServerDeps{Logger: logger}, opts...)
			if err != nil {
				return err
			}
			if showQR {
				printViewerQR(cmd.OutOrStdout(), viewerURL(cfg.HTTP))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("http server listening", "addr", serverCfg.HTTP.Addr, "base_path", serverCfg.HTTP.BasePath)
			if cfg.SSH.Enabled {
				logger.Info("ssh server listening", "addr", serverCfg.SSH.Addr)
			}
			logger.Info("data source selected", "port", serverCfg.Source.Port, "baud", serverCfg.Source.Baud)
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&port, "port", "p", "", "serial port to read telemetry from")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "use the built-in data simulator")
	cmd.Flags().BoolVar(&noSSH, "no-ssh", false, "disable the ssh viewer")
	cmd.Flags().BoolVar(&showQR, "qr", false, "print a QR code of the viewer address")
	return cmd
}

func toServerConfig(cfg appconfig.Config) groundstation.ServerConfig {
	defs := widgets.Catalog()
	var global []schema.WidgetName
	if len(cfg.Permissions.GlobalDefault) > 0 {
		global = toWidgetNames(cfg.Permissions.GlobalDefault)
	}
	return groundstation.ServerConfig{
		Catalog: defs,
		Service: core.ServiceConfig{
			GlobalDefault:     global,
			StateDir:          cfg.StateDir,
			AdminPasswordHash: cfg.Admin.PasswordHash,
			AdminTOTPSecret:   cfg.Admin.TOTPSecret,
		},
		HTTP: httpapi.Config{
			Addr:             cfg.HTTP.Addr,
			BasePath:         cfg.HTTP.BasePath,
			AllowedOrigins:   cfg.HTTP.AllowedOrigins,
			HistorySize:      cfg.HTTP.HistorySize,
			HandshakeTimeout: time.Duration(cfg.HTTP.HandshakeTimeoutSeconds) * time.Second,
			PingInterval:     time.Duration(cfg.HTTP.PingIntervalSeconds) * time.Second,
			ShutdownTimeout:  time.Duration(cfg.HTTP.ShutdownTimeoutSeconds) * time.Second,
		},
		SSH: sshserver.Config{
			Addr:               cfg.SSH.Addr,
			HostKeyPath:        cfg.SSH.HostKeyPath,
			AuthorizedKeysPath: cfg.SSH.AuthorizedKeysPath,
		},
		Source: datasource.Config{
			Port:         cfg.Source.Port,
			Baud:         cfg.Source.Baud,
			Interval:     time.Duration(cfg.Source.IntervalMS) * time.Millisecond,
			ProbeTimeout: time.Duration(cfg.Source.ProbeTimeoutMS) * time.Millisecond,
			RetryDelay:   time.Duration(cfg.Source.RetryDelayMS) * time.Millisecond,
		},
	}
}

func toWidgetNames(values []string) []schema.WidgetName {
	if len(values) == 0 {
		return nil
	}
	out := make([]schema.WidgetName, 0, len(values))
	for _, value := range values {
		out = append(out, schema.WidgetName(value))
	}
	return out
}

// viewerURL is the event-channel address a viewer on this host dials.
func viewerURL(cfg appconfig.HTTPConfig) string {
	host, port, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		host, port = "", strings.TrimPrefix(cfg.Addr, ":")
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	base := strings.Trim(strings.TrimSpace(cfg.BasePath), "/")
	if base != "" {
		base = "/" + base
	}
	return "ws://" + net.JoinHostPort(host, port) + base + "/ws"
}

func printViewerQR(w io.Writer, url string) {
	_, _ = fmt.Fprintf(w, "viewer: %s\n", url)
	qrterminal.GenerateHalfBlock(url, qrterminal.L, w)
}
