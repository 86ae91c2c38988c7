package main

import "github.com/spf13/cobra"

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "virtops",
		Short:         "Declarative management of host networking and KVM guests",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	a.bindFlags(root)

	root.AddCommand(applyCmd(a))
	root.AddCommand(deleteCmd(a))
	root.AddCommand(convergeCmd(a))
	root.AddCommand(statusCmd(a))
	root.AddCommand(kindsCmd(a))
	root.AddCommand(versionCmd(a))
	return root
}
