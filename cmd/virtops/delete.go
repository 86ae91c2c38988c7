package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"virtops/cmd/virtops/ui"
)

func deleteCmd(a *app) *cobra.Command {
	var (
		forget     bool
		noConverge bool
	)
	cmd := &cobra.Command{
		Use:   "delete kind/name...",
		Short: "Request the removal of entities",
		Long: "Clear the desired state of each entity and converge, which destroys it.\n" +
			"With --forget the records are dropped once the entity is gone.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if forget && noConverge {
				return errors.New("--forget needs the entities destroyed, drop --no-converge")
			}
			ids, err := parseIdentities(args)
			if err != nil {
				return err
			}
			eng, err := a.engine()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			for _, id := range ids {
				if err := eng.Delete(ctx, id); err != nil {
					return err
				}
			}
			if noConverge {
				fmt.Fprintln(a.out, ui.SuccessMsg("Deletion of %d entities recorded.", len(ids)))
				return nil
			}
			if err := a.converge(ctx, eng, ids); err != nil {
				return err
			}
			if !forget {
				return nil
			}
			for _, id := range ids {
				if err := eng.Forget(ctx, id); err != nil {
					return err
				}
			}
			fmt.Fprintln(a.out, ui.SuccessMsg("Forgot %d entities.", len(ids)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&forget, "forget", false, "Drop the records after the entities are destroyed")
	cmd.Flags().BoolVar(&noConverge, "no-converge", false, "Only record the deletion request")
	return cmd
}
