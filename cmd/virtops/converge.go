package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"virtops"
	"virtops/cmd/virtops/ui"
	"virtops/platform"
)

func convergeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "converge [kind/name...]",
		Short: "Drive entities to their desired state",
		Long: "Converge the named entities, or every tracked entity when none is named.\n" +
			"At most --parallel entities are converged at once; the command fails when any of them fails.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIdentities(args)
			if err != nil {
				return err
			}
			eng, err := a.engine()
			if err != nil {
				return err
			}
			return a.converge(cmd.Context(), eng, ids)
		},
	}
}

// converge runs ids through eng and prints a one-line summary.
func (a *app) converge(ctx context.Context, eng *platform.Engine, ids []virtops.Identity) error {
	results, err := eng.ConvergeAll(ctx, ids, a.cfg.Parallel)
	if len(results) == 0 {
		if err == nil {
			fmt.Fprintln(a.out, ui.InfoMsg("Nothing to converge."))
		}
		return err
	}
	changed := 0
	for _, res := range results {
		if res.Changed() {
			changed++
		}
	}
	if err != nil {
		fmt.Fprintln(a.out, ui.ErrorMsg("Converged %d of %d entities with errors.", len(results)-countFailed(err), len(results)))
		return err
	}
	fmt.Fprintln(a.out, ui.SuccessMsg("%d entities converged, %d changed.", len(results), changed))
	return nil
}

func countFailed(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}
