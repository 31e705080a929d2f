package mcp

import (
	"context"

	"extendvps/internal/browser"
)

type ListSessionsTool struct {
	sessions *browser.SessionManager
}

func (t *ListSessionsTool) Name() string { return "list-sessions" }
func (t *ListSessionsTool) Description() string {
	return `List the browser tabs the renewal runner has opened or attached to.

WHEN TO USE:
- After run-renewal, to see which tab the workflow drove
- To check whether the browser is still connected

Returns: {connected, control_url, sessions: [{id, target_id, url, status, created_at}]}.`
}
func (t *ListSessionsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ListSessionsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"connected":   t.sessions.IsConnected(),
		"control_url": t.sessions.ControlURL(),
		"sessions":    t.sessions.List(),
	}, nil
}

// ShutdownBrowserTool closes tabs the runner opened and stops a browser it
// launched. An attached browser keeps running.
type ShutdownBrowserTool struct {
	sessions *browser.SessionManager
}

func (t *ShutdownBrowserTool) Name() string { return "shutdown-browser" }
func (t *ShutdownBrowserTool) Description() string {
	return `Release the browser used by the renewal runner.

WHAT IT DOES:
- Closes tabs the runner opened
- Terminates Chrome if the runner launched it
- Leaves an attached browser (browser.debugger_url) running

The next run-renewal call starts or attaches again.`
}
func (t *ShutdownBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ShutdownBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := t.sessions.Shutdown(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status": "stopped",
	}, nil
}
