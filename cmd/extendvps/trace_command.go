package main

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"extendvps/internal/recorder"
)

func newTraceCommand(ctx *commandContext) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "trace [name]",
		Short: "Show the events of the newest (or a named) workflow trace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dir := cfg.Recorder.Dir
			out := cmd.OutOrStdout()

			if list {
				traces, err := recorder.List(dir)
				if err != nil && !errors.Is(err, fs.ErrNotExist) {
					return err
				}
				if len(traces) == 0 {
					fmt.Fprintln(out, "No traces recorded")
					return nil
				}
				rows := make([][]string, 0, len(traces))
				for i, t := range traces {
					rows = append(rows, []string{strconv.Itoa(i + 1), t.Name, t.ModTime.Format(time.DateTime)})
				}
				fmt.Fprintln(out, renderTable([]string{"#", "Trace", "Modified"}, rows, []columnAlignment{alignRight}))
				return nil
			}

			var path string
			if len(args) == 1 {
				name := strings.TrimSpace(args[0])
				if filepath.Base(name) != name {
					return fmt.Errorf("invalid trace name %q", name)
				}
				path = filepath.Join(dir, name)
			} else {
				latest, err := recorder.Latest(dir)
				if errors.Is(err, recorder.ErrNoTraces) {
					fmt.Fprintln(out, "No traces recorded")
					return nil
				}
				if err != nil {
					return err
				}
				path = latest.Path
			}

			events, err := recorder.Read(path)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, filepath.Base(path))
			fmt.Fprintln(out, renderTable(
				[]string{"Time", "Event", "Run", "Step", "Outcome", "URL / Detail"},
				traceRows(events),
				nil,
			))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&list, "list", "l", false, "List trace files instead of showing events")
	return cmd
}

func traceRows(events []recorder.Event) [][]string {
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		detail := ev.URL
		if ev.Detail != "" {
			detail = strings.TrimSpace(detail + " " + ev.Detail)
		}
		if ev.Error != "" {
			detail = strings.TrimSpace(detail + " error: " + ev.Error)
		}
		rows = append(rows, []string{
			ev.Timestamp.Format("15:04:05.000"),
			ev.Type,
			shortID(ev.RunID),
			ev.Step,
			ev.Outcome,
			detail,
		})
	}
	return rows
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
