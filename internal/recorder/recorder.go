// Package recorder writes one JSONL trace per workflow invocation so a failed
// renewal can be replayed step by step afterwards.
package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultKeep = 10
	TraceDir    = "data/traces"
	traceExt    = ".jsonl"
)

// Event types written by the workflow driver.
const (
	TypeWorkflowStart   = "workflow_start"
	TypeDocumentChanged = "document_changed"
	TypeDocumentReady   = "document_ready"
	TypeDispatch        = "dispatch"
	TypeSkip            = "skip"
	TypeReport          = "report"
	TypeWorkflowEnd     = "workflow_end"
)

// Event is one trace line.
type Event struct {
	Timestamp  time.Time `json:"ts"`
	Type       string    `json:"type"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	Step       string    `json:"step,omitempty"`
	URL        string    `json:"url,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Error      string    `json:"error,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Recorder manages rotating trace files. A nil *Recorder discards events.
type Recorder struct {
	mu         sync.Mutex
	file       *os.File
	encoder    *json.Encoder
	basePath   string
	keep       int
	workflowID string
	current    string
}

// NewRecorder ensures dir exists. keep <= 0 uses DefaultKeep.
func NewRecorder(dir string, keep int) (*Recorder, error) {
	if dir == "" {
		dir = TraceDir
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	return &Recorder{basePath: dir, keep: keep}, nil
}

// Start opens a new trace file for workflowID, pruning older traces so at
// most keep files remain.
func (r *Recorder) Start(workflowID string) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file, r.encoder = nil, nil
	}
	if err := r.rotate(); err != nil {
		return fmt.Errorf("rotate traces: %w", err)
	}

	name := fmt.Sprintf("trace_%s_%d%s", workflowID, time.Now().UnixMilli(), traceExt)
	path := filepath.Join(r.basePath, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trace: %w", err)
	}
	r.file = f
	r.encoder = json.NewEncoder(f)
	r.workflowID = workflowID
	r.current = path
	return nil
}

// Log stamps and appends ev to the open trace.
func (r *Recorder) Log(ev Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.encoder == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.WorkflowID == "" {
		ev.WorkflowID = r.workflowID
	}
	_ = r.encoder.Encode(ev)
}

// Path returns the open trace file, if any.
func (r *Recorder) Path() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// rotate keeps the newest keep-1 traces to make room for the next one.
func (r *Recorder) rotate() error {
	traces, err := List(r.basePath)
	if err != nil {
		return err
	}
	for i := r.keep - 1; i >= 0 && i < len(traces); i++ {
		_ = os.Remove(traces[i].Path)
	}
	return nil
}

// Close finishes the current trace.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file, r.encoder = nil, nil
	return err
}

// Trace describes a trace file on disk.
type Trace struct {
	Name    string
	Path    string
	ModTime time.Time
}

// List returns the trace files in dir, newest first.
func List(dir string) ([]Trace, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var traces []Trace
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != traceExt {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, Trace{Name: e.Name(), Path: filepath.Join(dir, e.Name()), ModTime: info.ModTime()})
	}
	sort.Slice(traces, func(i, j int) bool {
		if traces[i].ModTime.Equal(traces[j].ModTime) {
			return traces[i].Name > traces[j].Name
		}
		return traces[i].ModTime.After(traces[j].ModTime)
	})
	return traces, nil
}

// ErrNoTraces is returned by Latest when dir holds no traces.
var ErrNoTraces = errors.New("no traces recorded")

// Latest returns the newest trace in dir.
func Latest(dir string) (Trace, error) {
	traces, err := List(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Trace{}, ErrNoTraces
		}
		return Trace{}, err
	}
	if len(traces) == 0 {
		return Trace{}, ErrNoTraces
	}
	return traces[0], nil
}

// Read parses a trace file. Malformed lines are skipped.
func Read(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, sc.Err()
}
