package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var workspaceFlag string
	var noWorkspace bool

	ctx := newCommandContext(&configFlag, &workspaceFlag, &noWorkspace)

	rootCmd := &cobra.Command{
		Use:           "extendvps",
		Short:         "Renew a free VPS through the control panel",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (overrides the workspace config)")
	rootCmd.PersistentFlags().StringVar(&workspaceFlag, "workspace-dir", "", "Use this directory as the workspace root instead of searching upwards")
	rootCmd.PersistentFlags().BoolVar(&noWorkspace, "no-workspace", false, "Skip .extendvps workspace discovery")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newClassifyCommand(ctx))
	rootCmd.AddCommand(newRoutesCommand(ctx))
	rootCmd.AddCommand(newTraceCommand(ctx))
	rootCmd.AddCommand(newCredsCommand(ctx))
	rootCmd.AddCommand(newInitCommand())

	return rootCmd
}
