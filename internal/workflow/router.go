package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"extendvps/internal/steps"
)

// RunGuard lets exactly one dispatch through per document. A new document
// gets a new guard; a guard is never reset.
type RunGuard struct {
	started atomic.Bool
}

// Acquire flips the guard and reports whether this caller won it.
func (g *RunGuard) Acquire() bool {
	return g.started.CompareAndSwap(false, true)
}

// Running reports whether a dispatch already happened.
func (g *RunGuard) Running() bool {
	return g.started.Load()
}

// Report is what a handler left behind.
type Report struct {
	RunID   string
	Step    Step
	Outcome steps.Outcome
	Err     error
	Elapsed time.Duration
}

// Router dispatches at most one handler for one document.
type Router struct {
	runID      string
	classifier *Classifier
	handlers   map[Step]steps.Handler
	guard      *RunGuard
	logger     *zap.Logger

	reports chan Report
	wg      sync.WaitGroup
}

func NewRouter(runID string, classifier *Classifier, handlers map[Step]steps.Handler, guard *RunGuard, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = &RunGuard{}
	}
	return &Router{
		runID:      runID,
		classifier: classifier,
		handlers:   handlers,
		guard:      guard,
		logger:     logger.Named("router").With(zap.String("run_id", runID)),
		reports:    make(chan Report, 1),
	}
}

// HandlersByStep keys a steps.Set handler map by Step, dropping names that
// are not steps.
func HandlersByStep(named map[string]steps.Handler) map[Step]steps.Handler {
	out := make(map[Step]steps.Handler, len(named))
	for name, h := range named {
		if s, ok := ParseStep(name); ok {
			out[s] = h
		}
	}
	return out
}

func (r *Router) RunID() string { return r.runID }

// Classify delegates to the route table.
func (r *Router) Classify(path string) Step {
	return r.classifier.Classify(path)
}

// Dispatch starts the handler for step in its own goroutine and returns true
// once it is started. Unknown steps, steps without a handler, and every call
// after the first successful one are no-ops that return false. Only a started
// handler consumes the guard.
func (r *Router) Dispatch(ctx context.Context, step Step) bool {
	if step == Unknown {
		r.logger.Debug("unsupported page, nothing to do")
		return false
	}
	h, ok := r.handlers[step]
	if !ok {
		r.logger.Warn("no handler registered", zap.Stringer("step", step))
		return false
	}
	if !r.guard.Acquire() {
		r.logger.Debug("already running, ignoring dispatch", zap.Stringer("step", step))
		return false
	}

	r.logger.Info("dispatching", zap.Stringer("step", step))
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		start := time.Now()
		out, err := h(ctx)
		r.reports <- Report{RunID: r.runID, Step: step, Outcome: out, Err: err, Elapsed: time.Since(start)}
	}()
	return true
}

// Reports delivers the single report of the dispatched handler.
func (r *Router) Reports() <-chan Report {
	return r.reports
}

// Wait blocks until a dispatched handler has returned.
func (r *Router) Wait() {
	r.wg.Wait()
}
