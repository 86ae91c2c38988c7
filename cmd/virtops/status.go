package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"virtops/cmd/virtops/ui"
)

func statusCmd(a *app) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List tracked entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.engine()
			if err != nil {
				return err
			}
			entries, err := eng.Status(cmd.Context(), kind)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.out, ui.InfoMsg("No entities tracked."))
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				updated := "-"
				if !e.UpdatedAt.IsZero() {
					updated = e.UpdatedAt.Local().Format(time.DateTime)
				}
				rows = append(rows, []string{
					e.Identity.Kind,
					e.Identity.Name,
					ui.Status(e.Current),
					ui.Status(e.Desired),
					ui.Converged(e.Converged()),
					updated,
				})
			}
			fmt.Fprintln(a.out, ui.Table([]string{"KIND", "NAME", "CURRENT", "DESIRED", "CONVERGED", "UPDATED"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Only list entities of this kind")
	return cmd
}
