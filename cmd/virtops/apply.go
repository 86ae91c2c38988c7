package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"virtops"
	"virtops/cmd/virtops/ui"
	"virtops/manifest"
)

func applyCmd(a *app) *cobra.Command {
	var (
		file       string
		kind       string
		name       string
		noConverge bool
	)
	cmd := &cobra.Command{
		Use:   "apply -f FILE --kind KIND",
		Short: "Record a desired state and converge it",
		Long: "Read a desired-state document (.json, .jsonc, .yaml, .yml or .toml), validate it\n" +
			"and record it. The entity name defaults to the file name without extension.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				name = virtops.NameFromPath(file)
			}
			id := virtops.Identity{Kind: kind, Name: name}
			if err := id.Validate(); err != nil {
				return err
			}
			desired, err := manifest.ReadFile(file)
			if err != nil {
				return err
			}

			eng, err := a.engine()
			if err != nil {
				return err
			}
			if err := eng.Apply(cmd.Context(), id, desired); err != nil {
				return err
			}
			if noConverge {
				fmt.Fprintln(a.out, ui.SuccessMsg("Desired state of %s recorded.", ui.Bold(id.String())))
				return nil
			}
			return a.converge(cmd.Context(), eng, []virtops.Identity{id})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Desired-state document")
	cmd.Flags().StringVar(&kind, "kind", "", "Entity kind, see 'virtops kinds'")
	cmd.Flags().StringVar(&name, "name", "", "Entity name (default: file name without extension)")
	cmd.Flags().BoolVar(&noConverge, "no-converge", false, "Only record the desired state")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}
