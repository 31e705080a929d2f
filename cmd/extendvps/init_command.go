package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"extendvps/internal/config"
)

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "init [dir]",
		Short:       "Create a .extendvps workspace with a template config",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			abs, err := filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("resolve workspace root: %w", err)
			}
			if err := os.MkdirAll(abs, 0o755); err != nil {
				return fmt.Errorf("create workspace root: %w", err)
			}
			if err := config.InitWorkspace(abs); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created %s\n", filepath.Join(abs, config.WorkspaceDirName, config.WorkspaceConfigFile))
			fmt.Fprintln(out, "Run `extendvps creds set --member-id <id>` to store the panel login.")
			return nil
		},
	}
}
