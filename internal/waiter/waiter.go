// Package waiter resolves page conditions by racing independent detection
// strategies against a timeout.
//
// Every participant (each Strategy and the timeout) runs in its own goroutine
// inside an errgroup. A participant signals by returning a *signal error; the
// errgroup keeps only the first one and cancels the shared context, which is
// what stops every other participant. WaitFor returns only after all
// participants have exited, so nothing a losing strategy does can happen
// after the caller has its Result.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Names reported in Result.By for the two built-in participants.
const (
	Immediate   = "immediate"
	TimeoutName = "timeout"
)

// ErrTimeout is for callers that decide a TimedOut result is fatal.
var ErrTimeout = errors.New("wait condition timed out")

// Predicate evaluates the awaited page state.
type Predicate func(ctx context.Context) bool

// Outcome is how a wait ended.
type Outcome int

const (
	Resolved Outcome = iota + 1
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Resolved:
		return "resolved"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Result describes a finished wait.
type Result struct {
	Outcome Outcome
	// By names the participant that won the race.
	By      string
	Elapsed time.Duration
}

// TimedOut reports whether no strategy signalled before the timeout.
func (r Result) TimedOut() bool { return r.Outcome == TimedOut }

// Strategy is one detection technique. Detect blocks until it observes the
// condition (true), gives up (false), or ctx is done. It must return promptly
// once ctx is cancelled.
type Strategy interface {
	Name() string
	Detect(ctx context.Context, check Predicate) (bool, error)
}

// Condition is what WaitFor waits on.
type Condition struct {
	Name       string
	Check      Predicate
	Timeout    time.Duration
	Strategies []Strategy
}

type signal struct {
	by      string
	outcome Outcome
}

func (s *signal) Error() string { return "signalled by " + s.by }

// Waiter runs conditions. The zero value is not usable; call New.
type Waiter struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Waiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Waiter{logger: logger}
}

// WaitFor resolves cond exactly once. A condition that already holds returns
// immediately without starting any strategy or timer. A timeout is reported
// as a TimedOut Result, not as an error; the only errors are an invalid
// condition and cancellation of ctx.
func (w *Waiter) WaitFor(ctx context.Context, cond Condition) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if cond.Timeout <= 0 {
		return Result{}, fmt.Errorf("condition %q: timeout must be positive", cond.Name)
	}

	start := time.Now()
	check := cond.Check
	if check == nil {
		check = func(context.Context) bool { return false }
	} else if check(ctx) {
		w.logger.Debug("condition already satisfied", zap.String("condition", cond.Name))
		return Result{Outcome: Resolved, By: Immediate, Elapsed: time.Since(start)}, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range cond.Strategies {
		s := s
		g.Go(func() error {
			ok, err := s.Detect(gctx, check)
			if ok {
				return &signal{by: s.Name(), outcome: Resolved}
			}
			if err != nil && gctx.Err() == nil {
				w.logger.Debug("strategy stopped early",
					zap.String("condition", cond.Name),
					zap.String("strategy", s.Name()),
					zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		timer := time.NewTimer(cond.Timeout)
		defer timer.Stop()
		select {
		case <-gctx.Done():
			return nil
		case <-timer.C:
			return &signal{by: TimeoutName, outcome: TimedOut}
		}
	})

	err := g.Wait()
	var sig *signal
	if errors.As(err, &sig) {
		res := Result{Outcome: sig.outcome, By: sig.by, Elapsed: time.Since(start)}
		w.logger.Debug("condition finished",
			zap.String("condition", cond.Name),
			zap.Stringer("outcome", res.Outcome),
			zap.String("by", res.By),
			zap.Duration("elapsed", res.Elapsed))
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}
	return Result{}, fmt.Errorf("condition %q: no participant signalled", cond.Name)
}

// Delay blocks for d unless ctx ends first. It is a condition with no
// strategies, so the timeout is the only participant.
func (w *Waiter) Delay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	_, err := w.WaitFor(ctx, Condition{Name: "delay", Timeout: d})
	return err
}
