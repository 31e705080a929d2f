package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"extendvps/internal/browser"
	"extendvps/internal/config"
	"extendvps/internal/recorder"
	"extendvps/internal/runner"
	"extendvps/internal/store"
	"extendvps/internal/workflow"
)

// services are the long-lived pieces a workflow needs.
type services struct {
	store    *store.SQLite
	sessions *browser.SessionManager
	runner   *runner.Runner
	logger   *zap.Logger
}

func openServices(cfg *config.Config, logger *zap.Logger) (*services, error) {
	kv, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	var rec *recorder.Recorder
	if cfg.Recorder.Enable {
		rec, err = recorder.NewRecorder(cfg.Recorder.Dir, cfg.Recorder.Keep)
		if err != nil {
			logger.Warn("trace recording disabled", zap.Error(err))
			rec = nil
		}
	}

	classifier, err := workflow.NewClassifier(cfg.Site.Routes)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	sessions := browser.NewSessionManager(cfg.Browser, logger)
	r, err := runner.New(runner.Options{
		Config:   *cfg,
		Store:    kv,
		Opener:   runner.BrowserOpener(sessions, cfg.Site, classifier, logger),
		Recorder: rec,
		Logger:   logger,
	})
	if err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("build runner: %w", err)
	}

	return &services{store: kv, sessions: sessions, runner: r, logger: logger}, nil
}

// close releases the browser unless keepBrowser is set, then the store.
func (s *services) close(keepBrowser bool) {
	if !keepBrowser {
		if err := s.sessions.Shutdown(context.Background()); err != nil {
			s.logger.Warn("browser shutdown failed", zap.Error(err))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing credential store failed", zap.Error(err))
	}
}
