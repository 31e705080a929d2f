// Package runner assembles one renewal workflow from config: the page, the
// step handlers and their collaborators, the route table and the driver. The
// CLI and the MCP server both start workflows through a Runner.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"extendvps/internal/browser"
	"extendvps/internal/config"
	"extendvps/internal/page"
	"extendvps/internal/recognize"
	"extendvps/internal/recorder"
	"extendvps/internal/status"
	"extendvps/internal/steps"
	"extendvps/internal/waiter"
	"extendvps/internal/workflow"
)

// ErrBusy is returned when a workflow is started while another is running.
var ErrBusy = errors.New("a renewal workflow is already running")

// Target is the page one workflow drives. An empty StartURL means the page
// already shows a workflow page and the driver picks it up as is.
type Target struct {
	Page     page.Page
	StartURL string
	// Release, when set, runs after the workflow ends.
	Release func()
}

// Opener supplies the page for one workflow.
type Opener func(ctx context.Context) (Target, error)

// Options configures a Runner. Config, Store and Opener are required.
type Options struct {
	Config config.Config
	Store  steps.Credentials
	Opener Opener
	// Recognize defaults to an HTTP client for cfg.Recognizer.Endpoint.
	Recognize recognize.Func
	Recorder  *recorder.Recorder
	Logger    *zap.Logger
	Now       func() time.Time
	NewID     func() string
}

// Result summarizes a finished workflow.
type Result struct {
	WorkflowID string    `json:"workflow_id"`
	Started    time.Time `json:"started"`
	Ended      time.Time `json:"ended"`
	Runs       int       `json:"runs"`
	LastStep   string    `json:"last_step,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Error      string    `json:"error,omitempty"`
	// Message is the last text shown in the page's status overlay.
	Message string `json:"message,omitempty"`
	Trace   string `json:"trace,omitempty"`
}

// Succeeded reports whether the workflow ended without error.
func (r Result) Succeeded() bool { return r.Error == "" }

// State is a point-in-time view of the runner.
type State struct {
	Running bool      `json:"running"`
	Since   time.Time `json:"since,omitempty"`
	Last    *Result   `json:"last,omitempty"`
}

// Runner starts at most one workflow at a time.
type Runner struct {
	cfg        config.Config
	creds      steps.Credentials
	opener     Opener
	recognize  recognize.Func
	recorder   *recorder.Recorder
	classifier *workflow.Classifier
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string

	mu      sync.Mutex
	running bool
	since   time.Time
	last    *Result
}

func New(opts Options) (*Runner, error) {
	if opts.Store == nil {
		return nil, errors.New("runner: credential store is required")
	}
	if opts.Opener == nil {
		return nil, errors.New("runner: page opener is required")
	}
	classifier, err := workflow.NewClassifier(opts.Config.Site.Routes)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rec := opts.Recognize
	if rec == nil {
		rec = recognize.NewClient(opts.Config.Recognizer.Endpoint, opts.Config.Recognizer.Timeout()).Recognize
	}
	return &Runner{
		cfg:        opts.Config,
		creds:      opts.Store,
		opener:     opts.Opener,
		recognize:  rec,
		recorder:   opts.Recorder,
		classifier: classifier,
		logger:     logger,
		now:        opts.Now,
		newID:      opts.NewID,
	}, nil
}

// Classifier returns the route table the runner dispatches with.
func (r *Runner) Classifier() *workflow.Classifier { return r.classifier }

// State returns whether a workflow is running and the last result.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := State{Running: r.running, Last: r.last}
	if r.running {
		st.Since = r.since
	}
	return st
}

func (r *Runner) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	r.since = time.Now()
	return true
}

func (r *Runner) end(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.last = &res
}

// Run drives one workflow to completion. The returned error is also recorded
// in Result.Error.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if !r.begin() {
		return Result{}, ErrBusy
	}

	res, err := r.run(ctx)
	if err != nil {
		res.Error = err.Error()
	}
	r.end(res)
	return res, err
}

func (r *Runner) run(ctx context.Context) (Result, error) {
	started := time.Now()
	target, err := r.opener(ctx)
	if err != nil {
		return Result{Started: started, Ended: time.Now()}, fmt.Errorf("open page: %w", err)
	}
	if target.Release != nil {
		defer target.Release()
	}

	w := waiter.New(r.logger)
	reporter := status.New(target.Page, w, r.logger)
	set := steps.New(steps.Deps{
		Page:        target.Page,
		Credentials: r.creds,
		Waiter:      w,
		Recognizer:  recognize.NewCaller(r.recognize, r.logger),
		Status:      reporter,
		Site:        r.cfg.Site,
		Workflow:    r.cfg.Workflow,
		Challenge:   r.cfg.Challenge,
		Recognition: r.cfg.Recognizer,
		Logger:      r.logger,
		Now:         r.now,
	})
	driver := workflow.NewDriver(workflow.DriverOptions{
		Page:       target.Page,
		Classifier: r.classifier,
		Handlers:   workflow.HandlersByStep(set.Handlers()),
		Recorder:   r.recorder,
		Logger:     r.logger,
		Timeout:    r.cfg.Workflow.RunTimeout(),
		NewID:      r.newID,
	})

	sum, err := driver.Run(ctx, target.StartURL)
	res := Result{
		WorkflowID: sum.WorkflowID,
		Started:    sum.Started,
		Ended:      sum.Ended,
		Runs:       sum.Runs,
		Message:    reporter.Last(),
		Trace:      r.recorder.Path(),
	}
	if last, ok := sum.Last(); ok {
		res.LastStep = last.Step.String()
		res.Outcome = last.Outcome.String()
	}
	return res, err
}

// BrowserOpener drives a tab in the managed browser. An open tab that already
// shows a workflow page is reused; otherwise a new tab starts at the login
// page.
func BrowserOpener(sessions *browser.SessionManager, site config.SiteConfig, classifier *workflow.Classifier, logger *zap.Logger) Opener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) (Target, error) {
		if err := sessions.Start(ctx); err != nil {
			return Target{}, err
		}

		sess, p, err := sessions.FindPage(ctx, site.BaseURL)
		if err != nil {
			logger.Warn("listing open tabs failed", zap.Error(err))
		}
		if p != nil {
			start := ""
			if classifier.ClassifyURL(sess.URL) == workflow.Unknown {
				start = site.LoginURL()
			}
			logger.Info("reusing open tab", zap.String("session_id", sess.ID), zap.String("url", sess.URL))
			return Target{Page: page.NewRod(p, logger), StartURL: start}, nil
		}

		sess, p, err = sessions.OpenPage(ctx)
		if err != nil {
			return Target{}, err
		}
		logger.Info("opened tab", zap.String("session_id", sess.ID))
		return Target{Page: page.NewRod(p, logger), StartURL: site.LoginURL()}, nil
	}
}
