package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	mcpserver "extendvps/internal/mcp"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var ssePort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the workflow as an MCP server (stdio by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if ssePort != 0 {
				cfg.MCP.SSEPort = ssePort
			}
			// stdout carries the protocol in stdio mode.
			logger := ctx.newLogger(cfg.MCP.SSEPort == 0)

			svc, err := openServices(cfg, logger)
			if err != nil {
				return err
			}
			defer svc.close(false)

			server, err := mcpserver.NewServer(*cfg, svc.runner, svc.sessions, logger)
			if err != nil {
				return fmt.Errorf("initialize MCP server: %w", err)
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var startErr error
			if cfg.MCP.SSEPort > 0 {
				logger.Info("starting MCP SSE server", zap.Int("port", cfg.MCP.SSEPort))
				startErr = server.StartSSE(signalCtx, cfg.MCP.SSEPort)
			} else {
				logger.Info("starting MCP stdio server")
				startErr = server.Start(signalCtx)
			}
			if startErr != nil && !errors.Is(startErr, context.Canceled) {
				return fmt.Errorf("server exited with error: %w", startErr)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&ssePort, "sse-port", 0, "Serve over SSE on this port instead of stdio (overrides mcp.sse_port)")
	return cmd
}
