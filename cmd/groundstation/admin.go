package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/groundstation/internal/appconfig"
	"pkt.systems/groundstation/internal/identity"
	"pkt.systems/groundstation/internal/wsclient"
	"pkt.systems/groundstation/schema"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
)

const adminPasswordEnv = "GROUNDSTATION_ADMIN_PASSWORD"

type adminFlags struct {
	cfgPath        string
	server         string
	totp           string
	promptPassword bool
	timeout        time.Duration
}

// adminSession is an authenticated admin connection.
type adminSession struct {
	client  *wsclient.Client
	clients schema.Envelope
}

func newAdminCmd() *cobra.Command {
	flags := &adminFlags{}
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administer a running server",
	}
	cmd.PersistentFlags().StringVarP(&flags.cfgPath, "config", "c", "", "path to config file")
	cmd.PersistentFlags().StringVarP(&flags.server, "server", "s", "", "event channel url (ws:// or wss://)")
	cmd.PersistentFlags().StringVar(&flags.totp, "totp", "", "current totp code, when the server requires one")
	cmd.PersistentFlags().BoolVar(&flags.promptPassword, "password", false, "prompt for the admin password (or set "+adminPasswordEnv+")")
	cmd.PersistentFlags().DurationVar(&flags.timeout, "timeout", 5*time.Second, "how long to wait for the server")

	cmd.AddCommand(newAdminClientsCmd(flags))
	cmd.AddCommand(newAdminGlobalCmd(flags))
	cmd.AddCommand(newAdminClientCmd(flags))
	cmd.AddCommand(newAdminPortsCmd(flags))
	cmd.AddCommand(newAdminPublishCmd(flags))
	cmd.AddCommand(newAdminLogoutCmd(flags))
	return cmd
}

func withAdmin(cmd *cobra.Command, flags *adminFlags, fn func(ctx context.Context, admin *adminSession) error) error {
	cfg, err := appconfig.Load(flags.cfgPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(flags.server) != "" {
		cfg.Viewer.Server = strings.TrimSpace(flags.server)
	}
	provider, persistent, err := localIdentity(cmd.Context(), cfg.Viewer)
	if err != nil {
		return err
	}
	defer closeStore(persistent)
	auth, err := adminAuth(cmd, provider, flags.promptPassword, flags.totp)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
	defer cancel()
	log := pslog.Ctx(ctx).With("url", cfg.Viewer.Server, "client", auth.ID)
	client := wsclient.New(wsclient.WithLogger(log))
	defer func() { _ = client.Close() }()
	success := client.Expect(schema.EventAdminAuthSuccess)
	failed := client.Expect(schema.EventAdminAuthFailed)
	clients := client.Expect(schema.EventClientsUpdate)
	if err := client.Connect(ctx, cfg.Viewer.Server, auth); err != nil {
		return err
	}
	select {
	case <-success:
	case env := <-failed:
		var reason string
		_ = json.Unmarshal(env.Data, &reason)
		if reason == "" {
			reason = "admin authentication failed"
		}
		return errors.New(reason)
	case <-client.Done():
		return fmt.Errorf("connection closed: %w", client.Err())
	case <-ctx.Done():
		return ctx.Err()
	}
	admin := &adminSession{client: client}
	select {
	case admin.clients = <-clients:
	case <-ctx.Done():
		return ctx.Err()
	}
	return fn(ctx, admin)
}

// adminAuth builds the connect payload for the local admin session token.
func adminAuth(cmd *cobra.Command, provider *identity.Provider, promptPassword bool, totpCode string) (schema.ConnectAuth, error) {
	token, err := provider.SessionToken()
	if err != nil {
		return schema.ConnectAuth{}, err
	}
	password, err := adminPassword(cmd, promptPassword)
	if err != nil {
		return schema.ConnectAuth{}, err
	}
	return schema.ConnectAuth{
		ID:            identity.AdminID(token),
		AdminToken:    token,
		AdminPassword: password,
		TOTP:          strings.TrimSpace(totpCode),
	}, nil
}

func adminPassword(cmd *cobra.Command, prompt bool) (string, error) {
	if value := os.Getenv(adminPasswordEnv); value != "" {
		return value, nil
	}
	if !prompt {
		return "", nil
	}
	passphrase, err := keymgmt.PromptPassphrase(cmd.InOrStdin(), "Admin password: ", cmd.ErrOrStderr())
	if err != nil {
		return "", err
	}
	return string(passphrase), nil
}

func newAdminClientsCmd(flags *adminFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clients",
		Short: "List connected viewers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, flags, func(ctx context.Context, admin *adminSession) error {
				var clients []schema.ClientProjection
				if err := json.Unmarshal(admin.clients.Data, &clients); err != nil {
					return err
				}
				printClients(cmd.OutOrStdout(), clients)
				return nil
			})
		},
	}
}

func newAdminGlobalCmd(flags *adminFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "global",
		Short: "Show or change the global default widget set",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the global default",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return adminRequestWidgets(cmd, flags, schema.EventGetGlobalWidgets, nil)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set [widget...]",
		Short: "Replace the global default",
		RunE: func(cmd *cobra.Command, args []string) error {
			return adminRequestWidgets(cmd, flags, schema.EventUpdateGlobalWidgets, toWidgetNames(args))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "toggle <widget>",
		Short: "Add or remove one widget from the global default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return adminRequestWidgets(cmd, flags, schema.EventToggleGlobalWidget, schema.WidgetName(args[0]))
		},
	})
	return cmd
}

func adminRequestWidgets(cmd *cobra.Command, flags *adminFlags, event schema.EventName, payload any) error {
	if names, ok := payload.([]schema.WidgetName); ok && names == nil {
		payload = []schema.WidgetName{}
	}
	return withAdmin(cmd, flags, func(ctx context.Context, admin *adminSession) error {
		env, err := admin.client.Request(ctx, event, payload, schema.EventGlobalWidgetsUpdate)
		if err != nil {
			return err
		}
		var names []schema.WidgetName
		if err := json.Unmarshal(env.Data, &names); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), joinWidgets(names))
		return nil
	})
}

func newAdminClientCmd(flags *adminFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Change the widget permissions of one client",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <client-id> [widget...]",
		Short: "Give a client an explicit widget set (none hides everything)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := schema.UpdateClientWidgets{
				ClientID: schema.ClientID(args[0]),
				Widgets:  schema.Explicit(toWidgetNames(args[1:])...),
			}
			return adminUpdateClient(cmd, flags, req)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "inherit <client-id>",
		Short: "Make a client follow the global default again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := schema.UpdateClientWidgets{
				ClientID: schema.ClientID(args[0]),
				Widgets:  schema.Global(),
			}
			return adminUpdateClient(cmd, flags, req)
		},
	})
	return cmd
}

func adminUpdateClient(cmd *cobra.Command, flags *adminFlags, req schema.UpdateClientWidgets) error {
	if err := schema.ValidateClientID(req.ClientID); err != nil {
		return err
	}
	return withAdmin(cmd, flags, func(ctx context.Context, admin *adminSession) error {
		env, err := admin.client.Request(ctx, schema.EventUpdateClientWidgets, req, schema.EventClientsUpdate)
		if err != nil {
			return err
		}
		var clients []schema.ClientProjection
		if err := json.Unmarshal(env.Data, &clients); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", req.ClientID, req.Widgets.String())
		printClients(cmd.OutOrStdout(), clients)
		return nil
	})
}

func newAdminPortsCmd(flags *adminFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "Inspect and select the telemetry serial port",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List ports from the last scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return adminRequestPorts(cmd, flags, schema.EventGetSerialPorts, nil)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "select <port>",
		Short: "Switch the data source to a port (SIMULATOR for synthetic data)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return adminRequestPorts(cmd, flags, schema.EventSetSerialPort, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rescan",
		Short: "Probe every port for telemetry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return adminRequestPorts(cmd, flags, schema.EventRescanSerialPorts, nil)
		},
	})
	return cmd
}

func adminRequestPorts(cmd *cobra.Command, flags *adminFlags, event schema.EventName, payload any) error {
	return withAdmin(cmd, flags, func(ctx context.Context, admin *adminSession) error {
		env, err := admin.client.Request(ctx, event, payload, schema.EventSerialPortsList)
		if err != nil {
			return err
		}
		var list schema.PortList
		if err := json.Unmarshal(env.Data, &list); err != nil {
			return err
		}
		printPorts(cmd.OutOrStdout(), list)
		return nil
	})
}

func newAdminPublishCmd(flags *adminFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <json>",
		Short: "Broadcast a telemetry snapshot to every viewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var snapshot schema.TelemetrySnapshot
			if err := json.Unmarshal([]byte(args[0]), &snapshot); err != nil || snapshot == nil {
				return errors.New("snapshot must be a JSON object")
			}
			return withAdmin(cmd, flags, func(ctx context.Context, admin *adminSession) error {
				if _, err := admin.client.Request(ctx, schema.EventAdminPublishData, snapshot, schema.EventDataUpdate); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "published %d fields\n", len(snapshot))
				return nil
			})
		},
	}
}

func newAdminLogoutCmd(flags *adminFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the local admin session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(flags.cfgPath)
			if err != nil {
				return err
			}
			provider, persistent, err := localIdentity(cmd.Context(), cfg.Viewer)
			if err != nil {
				return err
			}
			defer closeStore(persistent)
			if err := provider.EndSession(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "admin session cleared")
			return nil
		},
	}
}

func joinWidgets(names []schema.WidgetName) string {
	if len(names) == 0 {
		return "(none)"
	}
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, string(name))
	}
	return strings.Join(parts, " ")
}

func printClients(w io.Writer, clients []schema.ClientProjection) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTYPE\tIP\tWIDGETS")
	for _, c := range clients {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Type, c.IP, c.Widgets.String())
	}
	_ = tw.Flush()
}

func printPorts(w io.Writer, list schema.PortList) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PORT\tSTATUS\tDESCRIPTION")
	for _, p := range list.Ports {
		marker := ""
		if p.Port == list.Current {
			marker = " *"
		}
		_, _ = fmt.Fprintf(tw, "%s%s\t%s\t%s\n", p.Port, marker, p.Status, p.Description)
	}
	_ = tw.Flush()
}
