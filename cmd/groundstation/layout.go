package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"pkt.systems/groundstation/internal/appconfig"
	"pkt.systems/groundstation/internal/catalog"
	"pkt.systems/groundstation/internal/kv"
	"pkt.systems/groundstation/internal/layout"
	"pkt.systems/groundstation/internal/viewer"
	"pkt.systems/groundstation/internal/widgets"
	"pkt.systems/pslog"
)

func newLayoutCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Inspect and edit the local dashboard layout",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	cmd.AddCommand(newLayoutShowCmd(&cfgPath))
	cmd.AddCommand(newLayoutMoveCmd(&cfgPath))
	cmd.AddCommand(newLayoutResizeCmd(&cfgPath))
	cmd.AddCommand(newLayoutResetCmd(&cfgPath))
	return cmd
}

func withLayout(cmd *cobra.Command, cfgPath string, fn func(*viewer.Dashboard) error) error {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return err
	}
	store, err := kv.Open(cfg.Viewer.StoreBackend, cfg.Viewer.StorePath)
	if err != nil {
		return err
	}
	defer closeStore(store)
	dash := viewer.New(widgets.Catalog(), store, viewer.WithLogger(pslog.Ctx(cmd.Context())))
	return fn(dash)
}

func newLayoutShowCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List widget instances in layout order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLayout(cmd, *cfgPath, func(dash *viewer.Dashboard) error {
				printLayout(cmd.OutOrStdout(), dash.Layout().Instances())
				return nil
			})
		},
	}
}

func newLayoutMoveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "move <instance> <target>",
		Short: "Move an instance to the position of another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLayout(cmd, *cfgPath, func(dash *viewer.Dashboard) error {
				for _, id := range args {
					if _, ok := dash.Layout().Instance(id); !ok {
						return fmt.Errorf("unknown widget instance %q", id)
					}
				}
				dash.Reorder(args[0], args[1])
				printLayout(cmd.OutOrStdout(), dash.Layout().Instances())
				return nil
			})
		},
	}
}

func newLayoutResizeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resize <instance> <span>",
		Short: "Set the column span of an instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			span, err := strconv.Atoi(args[1])
			if err != nil {
				return errors.New("span must be a number")
			}
			return withLayout(cmd, *cfgPath, func(dash *viewer.Dashboard) error {
				if _, ok := dash.Layout().Instance(args[0]); !ok {
					return fmt.Errorf("unknown widget instance %q", args[0])
				}
				got := dash.SetSpan(args[0], catalog.ClampSpan(span))
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s span %d\n", args[0], got)
				return nil
			})
		},
	}
}

func newLayoutResetCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore catalog order and default spans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLayout(cmd, *cfgPath, func(dash *viewer.Dashboard) error {
				printLayout(cmd.OutOrStdout(), dash.Layout().Reset())
				return nil
			})
		},
	}
}

func printLayout(w io.Writer, instances []layout.Instance) {
	for _, inst := range instances {
		_, _ = fmt.Fprintf(w, "%2d  %-16s span %d  %s\n", inst.Order, inst.ID, inst.Span, inst.Definition.Title)
	}
}
