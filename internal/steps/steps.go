// Package steps holds one handler per workflow page. Handlers never call each
// other: they end by navigating, by submitting, or by reporting that there is
// nothing left to do.
package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"extendvps/internal/config"
	"extendvps/internal/page"
	"extendvps/internal/recognize"
	"extendvps/internal/status"
	"extendvps/internal/waiter"
)

// ErrNavigation means the next page could not be computed or reached.
var ErrNavigation = errors.New("cannot compute navigation target")

// Outcome tells the driver what a finished handler left behind.
type Outcome int

const (
	// Navigating means the handler triggered a page change; the next
	// document starts a new run.
	Navigating Outcome = iota + 1
	// Finished means the workflow has nothing more to do.
	Finished
)

func (o Outcome) String() string {
	switch o {
	case Navigating:
		return "navigating"
	case Finished:
		return "finished"
	default:
		return "none"
	}
}

// Handler performs one step.
type Handler func(ctx context.Context) (Outcome, error)

// Credentials is the slice of the store the login step needs.
type Credentials interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Deps bundles what the handlers share. Now defaults to time.Now.
type Deps struct {
	Page        page.Page
	Credentials Credentials
	Waiter      *waiter.Waiter
	Recognizer  *recognize.Caller
	Status      *status.Reporter
	Site        config.SiteConfig
	Workflow    config.WorkflowConfig
	Challenge   config.ChallengeConfig
	Recognition config.RecognizerConfig
	Logger      *zap.Logger
	Now         func() time.Time
}

// Set is the handler collection for one page.
type Set struct {
	page   page.Page
	creds  Credentials
	waiter *waiter.Waiter
	caller *recognize.Caller
	status *status.Reporter
	sel    config.SelectorConfig
	flow   config.WorkflowConfig
	chal   config.ChallengeConfig
	recog  config.RecognizerConfig
	logger *zap.Logger
	now    func() time.Time
}

func New(d Deps) *Set {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	w := d.Waiter
	if w == nil {
		w = waiter.New(logger)
	}
	st := d.Status
	if st == nil {
		st = status.New(d.Page, w, logger)
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Set{
		page:   d.Page,
		creds:  d.Credentials,
		waiter: w,
		caller: d.Recognizer,
		status: st,
		sel:    d.Site.Selectors,
		flow:   d.Workflow,
		chal:   d.Challenge,
		recog:  d.Recognition,
		logger: logger.Named("steps"),
		now:    now,
	}
}

// Handlers returns every handler keyed by its configured step name, each
// wrapped in the error boundary.
func (s *Set) Handlers() map[string]Handler {
	return map[string]Handler{
		config.StepLogin:           s.boundary(config.StepLogin, "Automatic login failed. Please log in manually.", s.Login),
		config.StepDashboard:       s.boundary(config.StepDashboard, "Could not check the renewal status. Reload the page to retry.", s.Dashboard),
		config.StepRenewalRequest:  s.boundary(config.StepRenewalRequest, "Could not operate the renewal request page.", s.RenewalRequest),
		config.StepChallengeSubmit: s.boundary(config.StepChallengeSubmit, "CAPTCHA handling failed. Reload the page to retry.", s.ChallengeSubmit),
	}
}

// boundary keeps handler failures inside the run: panics become errors and
// every error except cancellation is shown to the user.
func (s *Set) boundary(name, failMsg string, h Handler) Handler {
	return func(ctx context.Context) (out Outcome, err error) {
		logger := s.logger.With(zap.String("step", name))
		defer func() {
			if r := recover(); r != nil {
				out, err = 0, fmt.Errorf("%s handler panicked: %v", name, r)
				s.status.Fail(ctx, failMsg, err)
			}
		}()

		logger.Debug("handler started")
		out, err = h(ctx)
		switch {
		case err == nil:
			logger.Debug("handler done", zap.Stringer("outcome", out))
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			logger.Debug("handler cancelled", zap.Error(err))
		default:
			s.status.Fail(ctx, describe(err, failMsg), err)
		}
		return out, err
	}
}

// notice carries the message shown to the user for a specific failure.
type notice struct {
	msg string
	err error
}

func withNotice(msg string, err error) error { return &notice{msg: msg, err: err} }

func (n *notice) Error() string { return n.err.Error() }
func (n *notice) Unwrap() error { return n.err }

func describe(err error, fallback string) string {
	var n *notice
	switch {
	case errors.As(err, &n):
		return n.msg
	case errors.Is(err, recognize.ErrInvalidResponse):
		return "CAPTCHA recognition failed. Reload the page to retry."
	case errors.Is(err, waiter.ErrTimeout):
		return "The verification token never appeared. Reload the page to retry."
	case errors.Is(err, ErrNavigation):
		return "Could not determine the renewal page. Reload the page to retry."
	default:
		return fallback
	}
}
