package mcp

import (
	"context"
	"errors"
	"fmt"

	"extendvps/internal/config"
	"extendvps/internal/recorder"
	"extendvps/internal/runner"
	"extendvps/internal/workflow"
)

const (
	defaultStatusEvents = 20
	maxStatusEvents     = 200
)

// RunRenewalTool drives one renewal workflow and waits for it to end.
type RunRenewalTool struct {
	runner *runner.Runner
}

func (t *RunRenewalTool) Name() string { return "run-renewal" }
func (t *RunRenewalTool) Description() string {
	return `Run the free VPS renewal workflow once and wait for it to finish.

The runner opens (or reuses) a panel tab, logs in with stored credentials,
checks whether the VPS expires tomorrow and, if so, requests the extension,
solves the image CAPTCHA and submits the form.

Only one workflow runs at a time; a second call while one is running fails.
A failed workflow is not retried automatically.

Returns: {success, result: {workflow_id, runs, last_step, outcome, error, message, trace}}.
The message field is the last text shown to the user in the page.`
}
func (t *RunRenewalTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *RunRenewalTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	res, err := t.runner.Run(ctx)
	if errors.Is(err, runner.ErrBusy) {
		return nil, err
	}
	return map[string]interface{}{
		"success": err == nil,
		"result":  res,
	}, nil
}

// RenewalStatusTool reports whether a workflow is running, the last result
// and the tail of the newest trace.
type RenewalStatusTool struct {
	runner   *runner.Runner
	recorder config.RecorderConfig
}

func (t *RenewalStatusTool) Name() string { return "renewal-status" }
func (t *RenewalStatusTool) Description() string {
	return `Report the renewal runner's state without touching the browser.

Returns:
- running / since: whether a workflow is in progress
- last: the previous run-renewal result in this process, if any
- trace: the newest trace file on disk with its last events
  (document changes, dispatches, skipped pages, step reports)

Use events to control how many trace events come back (default 20, max 200)
and include_trace=false to skip reading the trace.`
}
func (t *RenewalStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"events": map[string]interface{}{
				"type":        "integer",
				"description": "Number of trailing trace events to include (default 20, max 200)",
			},
			"include_trace": map[string]interface{}{
				"type":        "boolean",
				"description": "Include the newest trace (default true)",
			},
		},
	}
}
func (t *RenewalStatusTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	limit := getIntArg(args, "events", defaultStatusEvents)
	if limit <= 0 {
		limit = defaultStatusEvents
	}
	if limit > maxStatusEvents {
		limit = maxStatusEvents
	}

	out := map[string]interface{}{
		"state": t.runner.State(),
	}
	if !t.recorder.Enable || !getBoolArg(args, "include_trace", true) {
		return out, nil
	}

	trace, err := latestTrace(t.recorder.Dir, limit)
	switch {
	case errors.Is(err, recorder.ErrNoTraces):
	case err != nil:
		return nil, err
	default:
		out["trace"] = trace
	}
	return out, nil
}

type traceTail struct {
	Name   string           `json:"name"`
	Path   string           `json:"path"`
	Total  int              `json:"total"`
	Events []recorder.Event `json:"events"`
}

func latestTrace(dir string, limit int) (*traceTail, error) {
	latest, err := recorder.Latest(dir)
	if err != nil {
		return nil, err
	}
	events, err := recorder.Read(latest.Path)
	if err != nil {
		return nil, fmt.Errorf("read trace %s: %w", latest.Name, err)
	}
	tail := events
	if len(tail) > limit {
		tail = tail[len(tail)-limit:]
	}
	return &traceTail{Name: latest.Name, Path: latest.Path, Total: len(events), Events: tail}, nil
}

// ClassifyPathTool shows which step a URL or path would dispatch to.
type ClassifyPathTool struct {
	classifier *workflow.Classifier
}

func (t *ClassifyPathTool) Name() string { return "classify-path" }
func (t *ClassifyPathTool) Description() string {
	return `Show which workflow step handles a URL or path, using the configured route table.

The longest matching prefix wins. Pages that match no
route are "unknown" and are left alone by the workflow.

Returns: {url, step, handled, routes: [{prefix, step}]}.`
}
func (t *ClassifyPathTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Absolute URL or path, e.g. /xapanel/xvps/index",
			},
		},
		"required": []string{"url"},
	}
}
func (t *ClassifyPathTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	raw := getStringArg(args, "url")
	if raw == "" {
		return nil, errors.New("url is required")
	}
	step := t.classifier.ClassifyURL(raw)

	routes := make([]map[string]string, 0, len(t.classifier.Routes()))
	for _, r := range t.classifier.Routes() {
		routes = append(routes, map[string]string{"prefix": r.Prefix, "step": r.Step.String()})
	}
	return map[string]interface{}{
		"url":     raw,
		"step":    step.String(),
		"handled": step != workflow.Unknown,
		"routes":  routes,
	}, nil
}
