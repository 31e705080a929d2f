package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"extendvps/internal/config"
	"extendvps/internal/runner"
)

const lockFileName = "extendvps.lock"

func newRunCommand(ctx *commandContext) *cobra.Command {
	var keepBrowser bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the renewal workflow once",
		Long: `Run the renewal workflow once.

The command exits 0 when the workflow finished (renewed, or nothing to do)
and 1 on any error or timeout. Only one run may hold the lock at a time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.newLogger(false)

			lock, err := acquireRunLock(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := lock.Unlock(); err != nil {
					logger.Warn("releasing run lock failed", zap.Error(err))
				}
			}()

			svc, err := openServices(cfg, logger)
			if err != nil {
				return err
			}
			defer svc.close(keepBrowser)

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			logger.Info("starting renewal workflow", zap.String("login_url", cfg.Site.LoginURL()))
			res, runErr := svc.runner.Run(signalCtx)
			printResult(cmd.OutOrStdout(), res)
			if runErr != nil {
				if errors.Is(runErr, context.Canceled) {
					return runErr
				}
				return fmt.Errorf("renewal workflow failed: %w", runErr)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepBrowser, "keep-browser", false, "Leave a launched browser running after the workflow ends")
	return cmd
}

// acquireRunLock takes an exclusive lock next to the credential store so two
// schedulers never drive the same profile.
func acquireRunLock(cfg *config.Config) (*flock.Flock, error) {
	dir := filepath.Dir(cfg.Store.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errors.New("another extendvps run is already in progress")
	}
	return lock, nil
}

func printResult(out io.Writer, res runner.Result) {
	if res.WorkflowID == "" && res.Error == "" {
		return
	}
	status := "ok"
	if !res.Succeeded() {
		status = "failed"
	}
	rows := [][]string{
		{"Workflow", valueOrDash(res.WorkflowID)},
		{"Status", status},
		{"Last step", valueOrDash(res.LastStep)},
		{"Outcome", valueOrDash(res.Outcome)},
		{"Documents", strconv.Itoa(res.Runs)},
		{"Duration", duration(res.Started, res.Ended)},
		{"Message", valueOrDash(res.Message)},
		{"Error", valueOrDash(res.Error)},
		{"Trace", valueOrDash(res.Trace)},
	}
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, nil))
}

func valueOrDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func duration(start, end time.Time) string {
	if start.IsZero() || end.IsZero() {
		return "-"
	}
	return end.Sub(start).Round(time.Millisecond).String()
}
