package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pkt.systems/groundstation/internal/appconfig"
	"pkt.systems/groundstation/internal/viewer"
	"pkt.systems/groundstation/internal/widgets"
	"pkt.systems/groundstation/internal/wsclient"
	"pkt.systems/groundstation/schema"
	"pkt.systems/pslog"
)

const clearScreen = "\x1b[H\x1b[2J"

func newViewCmd() *cobra.Command {
	var cfgPath string
	var server string
	var width int
	var asAdmin bool
	var promptPassword bool
	var totpCode string
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Show the dashboard in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(server) != "" {
				cfg.Viewer.Server = strings.TrimSpace(server)
			}
			provider, persistent, err := localIdentity(cmd.Context(), cfg.Viewer)
			if err != nil {
				return err
			}
			defer closeStore(persistent)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dash := viewer.New(widgets.Catalog(), persistent,
				viewer.WithIdentity(provider),
				viewer.WithLogger(pslog.Ctx(ctx)),
			)
			auth := dash.Auth()
			if asAdmin {
				auth, err = adminAuth(cmd, provider, promptPassword, totpCode)
				if err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			if width <= 0 {
				width = terminalWidth(out)
			}
			inbox := make(chan schema.Envelope, 64)
			go drawLoop(ctx, out, dash, width, inbox)
			reconnect := time.Duration(cfg.Viewer.ReconnectSeconds) * time.Second
			return runViewer(ctx, dash, cfg.Viewer.Server, auth, reconnect, inbox)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&server, "server", "s", "", "event channel url (ws:// or wss://)")
	cmd.Flags().IntVarP(&width, "width", "w", 0, "render width in columns (default: terminal width)")
	cmd.Flags().BoolVar(&asAdmin, "admin", false, "connect with the local admin session token")
	cmd.Flags().BoolVar(&promptPassword, "password", false, "prompt for the admin password (or set "+adminPasswordEnv+")")
	cmd.Flags().StringVar(&totpCode, "totp", "", "current totp code, when the server requires one")
	return cmd
}

// runViewer keeps one event-channel connection open, redialing after a fixed
// delay whenever it drops, until ctx ends. Dashboard events are forwarded to
// inbox so the dashboard is only touched by the draw loop.
func runViewer(ctx context.Context, dash *viewer.Dashboard, url string, auth schema.ConnectAuth, reconnect time.Duration, inbox chan<- schema.Envelope) error {
	if reconnect <= 0 {
		reconnect = 2 * time.Second
	}
	log := pslog.Ctx(ctx).With("url", url, "client", auth.ID)
	client := wsclient.New(wsclient.WithLogger(log))
	forward := func(env schema.Envelope) {
		select {
		case inbox <- env:
		case <-ctx.Done():
		}
	}
	client.On(schema.EventWidgetPermissions, forward)
	client.On(schema.EventDataUpdate, forward)
	client.On(schema.EventAdminAuthSuccess, func(schema.Envelope) {
		log.Info("viewer admin control granted")
	})
	client.On(schema.EventAdminAuthFailed, func(env schema.Envelope) {
		var reason string
		_ = json.Unmarshal(env.Data, &reason)
		log.Warn("viewer admin control denied", "reason", reason)
	})
	defer func() { _ = client.Close() }()

	for {
		if err := client.Connect(ctx, url, auth); err != nil {
			log.Warn("viewer connect failed", "err", err, "retry", reconnect)
		} else {
			select {
			case <-ctx.Done():
				return nil
			case <-client.Done():
				log.Warn("viewer disconnected", "err", client.Err(), "retry", reconnect)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnect):
		}
	}
}

func drawLoop(ctx context.Context, w io.Writer, dash *viewer.Dashboard, width int, inbox <-chan schema.Envelope) {
	prefix := ""
	if isTerminal(w) {
		prefix = clearScreen
	}
	_, _ = fmt.Fprint(w, prefix+dash.Render(width)+"\n")
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-inbox:
			if dash.Apply(env) {
				_, _ = fmt.Fprint(w, prefix+dash.Render(width)+"\n")
			}
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func terminalWidth(w io.Writer) int {
	const fallback = 100
	f, ok := w.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return fallback
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return fallback
	}
	return width
}
