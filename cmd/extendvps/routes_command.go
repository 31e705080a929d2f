package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"extendvps/internal/workflow"
)

func newRoutesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show the path prefix to step table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			classifier, err := loadClassifier(ctx)
			if err != nil {
				return err
			}
			routes := classifier.Routes()
			rows := make([][]string, 0, len(routes))
			for i, r := range routes {
				rows = append(rows, []string{strconv.Itoa(i + 1), r.Prefix, r.Step.String()})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"#", "Prefix", "Step"}, rows, []columnAlignment{alignRight}))
			return nil
		},
	}
}

func newClassifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <url-or-path>...",
		Short: "Show which step handles each URL or path",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classifier, err := loadClassifier(ctx)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(args))
			for _, raw := range args {
				rows = append(rows, []string{raw, classifier.ClassifyURL(raw).String()})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"URL", "Step"}, rows, nil))
			return nil
		},
	}
}

func loadClassifier(ctx *commandContext) (*workflow.Classifier, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, errors.New("configuration unavailable")
	}
	return workflow.NewClassifier(cfg.Site.Routes)
}
