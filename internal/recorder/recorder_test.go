package recorder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderRotation(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, 3)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Start("wf"))
		r.Log(Event{Type: TypeWorkflowStart})
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, r.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRecorderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, 0)
	require.NoError(t, err)

	require.NoError(t, r.Start("wf-1"))
	r.Log(Event{Type: TypeDispatch, RunID: "run-1", Step: "dashboard", URL: "https://example.test/xapanel/xvps/index"})
	r.Log(Event{Type: TypeReport, RunID: "run-1", Step: "dashboard", Outcome: "finished"})
	path := r.Path()
	require.NoError(t, r.Close())

	latest, err := Latest(dir)
	require.NoError(t, err)
	assert.Equal(t, path, latest.Path)

	events, err := Read(latest.Path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "wf-1", events[0].WorkflowID)
	assert.Equal(t, TypeDispatch, events[0].Type)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, "finished", events[1].Outcome)
}

func TestReadSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace_x_1.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"type\":\"skip\"}\nnot json\n\n{\"type\":\"report\"}\n"), 0o644))

	events, err := Read(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, TypeReport, events[1].Type)
}

func TestLatestWithoutTraces(t *testing.T) {
	_, err := Latest(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNoTraces)

	_, err = Latest(t.TempDir())
	assert.ErrorIs(t, err, ErrNoTraces)
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NoError(t, r.Start("wf"))
	r.Log(Event{Type: TypeSkip})
	assert.Empty(t, r.Path())
	assert.NoError(t, r.Close())
}
