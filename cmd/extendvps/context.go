package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"extendvps/internal/config"
	"extendvps/internal/logging"
)

type commandContext struct {
	configFlag    *string
	workspaceFlag *string
	noWorkspace   *bool

	configOnce sync.Once
	config     *config.Config
	workspace  string
	configErr  error

	logger      *zap.Logger
	undoLogging func()
}

func newCommandContext(configFlag, workspaceFlag *string, noWorkspace *bool) *commandContext {
	return &commandContext{
		configFlag:    configFlag,
		workspaceFlag: workspaceFlag,
		noWorkspace:   noWorkspace,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		opts := config.WorkspaceOptions{}
		if c.noWorkspace != nil {
			opts.Disable = *c.noWorkspace
		}
		if c.workspaceFlag != nil {
			opts.ExplicitDir = strings.TrimSpace(*c.workspaceFlag)
		}
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, ws, err := config.LoadWithWorkspace(path, opts)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = &cfg
		c.workspace = ws
	})
	return c.config, c.configErr
}

// newLogger builds and installs the process logger. Commands that speak a
// protocol on stdout pass quiet to keep the console silent.
func (c *commandContext) newLogger(quiet bool) *zap.Logger {
	if c.logger != nil {
		return c.logger
	}
	cfg, err := c.ensureConfig()
	if err != nil || cfg == nil {
		c.logger = zap.NewNop()
		return c.logger
	}
	c.logger = logging.New(cfg.Logging, logging.Options{DisableConsole: quiet})
	c.undoLogging = logging.Install(c.logger)
	if c.workspace != "" {
		c.logger.Debug("using workspace", zap.String("dir", c.workspace))
	}
	return c.logger
}

func (c *commandContext) close() {
	if c.logger != nil {
		_ = c.logger.Sync()
	}
	if c.undoLogging != nil {
		c.undoLogging()
		c.undoLogging = nil
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
