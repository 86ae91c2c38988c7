package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"virtops/cmd/virtops/ui"
	"virtops/platform"
)

func kindsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List entity kinds",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			kinds := platform.Kinds()
			rows := make([][]string, 0, len(kinds))
			for _, k := range kinds {
				rows = append(rows, []string{k.Name, k.Summary})
			}
			fmt.Fprintln(a.out, ui.Table([]string{"KIND", "DESCRIPTION"}, rows))
			return nil
		},
	}
}

func versionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			fmt.Fprintln(a.out, ui.KeyValues("",
				ui.KV("version", version),
				ui.KV("config", a.cfg.Path()),
				ui.KV("store", a.cfg.Store+" "+platform.StorePath(a.cfg)),
			))
			return nil
		},
	}
}
