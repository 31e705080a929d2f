package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"extendvps/internal/page"
	"extendvps/internal/recorder"
	"extendvps/internal/steps"
)

var (
	// ErrWorkflowTimeout means the whole workflow ran past its deadline.
	ErrWorkflowTimeout = errors.New("workflow timed out")
	// ErrPageClosed means the lifecycle stream ended before the workflow did.
	ErrPageClosed = errors.New("page closed before the workflow finished")
)

const defaultRunTimeout = 5 * time.Minute

// DriverOptions configures a Driver.
type DriverOptions struct {
	Page       page.Page
	Classifier *Classifier
	Handlers   map[Step]steps.Handler
	Recorder   *recorder.Recorder
	Logger     *zap.Logger
	// Timeout bounds the whole workflow (default 5m).
	Timeout time.Duration
	// NewID generates run IDs (default uuid.NewString).
	NewID func() string
}

// Summary describes a finished workflow.
type Summary struct {
	WorkflowID string
	Started    time.Time
	Ended      time.Time
	Runs       int
	Reports    []Report
}

// Last returns the final report, if any.
func (s Summary) Last() (Report, bool) {
	if len(s.Reports) == 0 {
		return Report{}, false
	}
	return s.Reports[len(s.Reports)-1], true
}

// Driver follows one browser page through the workflow. Each committed
// document is a fresh run with its own Router and RunGuard.
type Driver struct {
	page       page.Page
	classifier *Classifier
	handlers   map[Step]steps.Handler
	recorder   *recorder.Recorder
	logger     *zap.Logger
	timeout    time.Duration
	newID      func() string
}

func NewDriver(opts DriverOptions) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Driver{
		page:       opts.Page,
		classifier: opts.Classifier,
		handlers:   opts.Handlers,
		recorder:   opts.Recorder,
		logger:     logger.Named("driver"),
		timeout:    timeout,
		newID:      newID,
	}
}

type run struct {
	id     string
	url    string
	ctx    context.Context
	cancel context.CancelFunc
	router *Router
}

// Run drives the workflow until a handler finishes it, a handler fails, the
// workflow times out, or ctx ends. When startURL is set the driver navigates
// there after subscribing to lifecycle events; otherwise the document that is
// already loaded becomes the first run.
func (d *Driver) Run(ctx context.Context, startURL string) (Summary, error) {
	sum := Summary{WorkflowID: d.newID(), Started: time.Now()}
	if err := d.recorder.Start(sum.WorkflowID); err != nil {
		d.logger.Warn("trace disabled", zap.Error(err))
	}
	d.recorder.Log(recorder.Event{Type: recorder.TypeWorkflowStart, URL: startURL})
	logger := d.logger.With(zap.String("workflow_id", sum.WorkflowID))

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	// Reports from every run funnel into one channel so a terminal report
	// that races with the navigation it caused is not lost.
	reports := make(chan Report)
	var forwarders sync.WaitGroup
	var cur *run
	var runs []*run
	defer func() {
		cancel()
		for _, r := range runs {
			r.cancel()
			r.router.Wait()
		}
		forwarders.Wait()
	}()

	newRun := func(url string) {
		if cur != nil {
			cur.cancel()
		}
		runCtx, runCancel := context.WithCancel(ctx)
		id := d.newID()
		cur = &run{
			id:     id,
			url:    url,
			ctx:    runCtx,
			cancel: runCancel,
			router: NewRouter(id, d.classifier, d.handlers, &RunGuard{}, logger),
		}
		runs = append(runs, cur)
		sum.Runs++

		forwarders.Add(1)
		go func(r *Router) {
			defer forwarders.Done()
			select {
			case rep := <-r.Reports():
				select {
				case reports <- rep:
				case <-ctx.Done():
				}
			case <-ctx.Done():
			}
		}(cur.router)

		d.recorder.Log(recorder.Event{Type: recorder.TypeDocumentChanged, RunID: id, URL: url})
		logger.Debug("new document", zap.String("run_id", id), zap.String("url", url))
	}

	finish := func(err error) (Summary, error) {
		sum.Ended = time.Now()
		ev := recorder.Event{Type: recorder.TypeWorkflowEnd}
		if err != nil {
			ev.Error = err.Error()
		}
		d.recorder.Log(ev)
		if cerr := d.recorder.Close(); cerr != nil {
			logger.Debug("closing trace failed", zap.Error(cerr))
		}
		return sum, err
	}

	events, err := d.page.Lifecycle(ctx)
	if err != nil {
		return finish(fmt.Errorf("subscribe to page lifecycle: %w", err))
	}

	if startURL != "" {
		if err := d.page.Navigate(ctx, startURL); err != nil {
			return finish(fmt.Errorf("open %s: %w", startURL, err))
		}
	} else {
		current, err := d.page.URL(ctx)
		if err != nil {
			return finish(fmt.Errorf("read current url: %w", err))
		}
		newRun(current)
		d.dispatch(cur, current)
	}

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return finish(fmt.Errorf("%w after %s", ErrWorkflowTimeout, d.timeout))
			}
			return finish(ctx.Err())

		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					events = nil
					continue
				}
				return finish(ErrPageClosed)
			}
			switch ev.Kind {
			case page.DocumentChanged:
				newRun(ev.URL)
			case page.DocumentReady:
				if cur == nil {
					newRun(ev.URL)
				}
				url := ev.URL
				if url == "" {
					url = cur.url
				}
				d.dispatch(cur, url)
			}

		case rep := <-reports:
			if ctx.Err() != nil {
				// Deadline or caller cancellation; reported by the Done case.
				continue
			}
			stale := cur == nil || rep.RunID != cur.id
			d.record(rep, stale)
			logger.Info("step finished",
				zap.String("run_id", rep.RunID),
				zap.Stringer("step", rep.Step),
				zap.Stringer("outcome", rep.Outcome),
				zap.Duration("elapsed", rep.Elapsed),
				zap.Bool("superseded", stale),
				zap.Error(rep.Err))

			if stale {
				// A superseded run only matters if it completed the workflow.
				if rep.Err == nil && rep.Outcome == steps.Finished {
					sum.Reports = append(sum.Reports, rep)
					return finish(nil)
				}
				continue
			}
			sum.Reports = append(sum.Reports, rep)
			switch {
			case rep.Err != nil:
				return finish(fmt.Errorf("%s: %w", rep.Step, rep.Err))
			case rep.Outcome == steps.Finished:
				return finish(nil)
			}
			// Navigating: the next DocumentChanged starts the next run.
		}
	}
}

func (d *Driver) dispatch(r *run, url string) {
	step := d.classifier.ClassifyURL(url)
	if r.router.Dispatch(r.ctx, step) {
		d.recorder.Log(recorder.Event{Type: recorder.TypeDispatch, RunID: r.id, Step: step.String(), URL: url})
		return
	}
	reason := "unsupported page"
	if step != Unknown && r.router.guard.Running() {
		reason = "already running"
	}
	d.recorder.Log(recorder.Event{Type: recorder.TypeSkip, RunID: r.id, Step: step.String(), URL: url, Detail: reason})
}

func (d *Driver) record(rep Report, stale bool) {
	ev := recorder.Event{
		Type:    recorder.TypeReport,
		RunID:   rep.RunID,
		Step:    rep.Step.String(),
		Outcome: rep.Outcome.String(),
		Detail:  rep.Elapsed.String(),
	}
	if stale {
		ev.Detail += " superseded"
	}
	if rep.Err != nil {
		ev.Error = rep.Err.Error()
	}
	d.recorder.Log(ev)
}
