// Package page is the only way the workflow senses and changes the browser
// page. Handlers depend on these interfaces; Rod implements them against a
// live tab and pagetest implements them in memory.
package page

import (
	"context"
	"errors"
	"fmt"
)

// ErrMissingElement means a required element (or page function) is absent.
var ErrMissingElement = errors.New("required page element is missing")

// Missing wraps ErrMissingElement with the selector that was not found.
func Missing(selector string) error {
	return fmt.Errorf("%w: %s", ErrMissingElement, selector)
}

// EventKind distinguishes page lifecycle events.
type EventKind int

const (
	// DocumentChanged fires when the main frame commits a new document.
	DocumentChanged EventKind = iota + 1
	// DocumentReady fires on DOMContentLoaded and again on load.
	DocumentReady
)

func (k EventKind) String() string {
	switch k {
	case DocumentChanged:
		return "document_changed"
	case DocumentReady:
		return "document_ready"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification.
type Event struct {
	Kind EventKind
	URL  string
}

// Reader queries the current document.
type Reader interface {
	URL(ctx context.Context) (string, error)
	Has(ctx context.Context, selector string) (bool, error)
	Text(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector, name string) (string, error)
	Value(ctx context.Context, selector string) (string, error)
	// Evaluate runs a JS expression and returns its value as a string ("" for null/undefined).
	Evaluate(ctx context.Context, expr string) (string, error)
}

// Actuator changes the page.
type Actuator interface {
	SetValue(ctx context.Context, selector, value string) error
	// DispatchInput fires a bubbling "input" event on the element.
	DispatchInput(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	// Call invokes a global page function by name.
	Call(ctx context.Context, function string) error
	Navigate(ctx context.Context, url string) error
}

// Observer streams page changes. Every stream ends, and its channel is
// closed, when ctx is done.
type Observer interface {
	// Observe reports attribute and subtree changes on the first element
	// matching selector. It fails with ErrMissingElement if there is none yet.
	Observe(ctx context.Context, selector string) (<-chan struct{}, error)
	// ObserveAdded reports each time an element matching selector is added
	// somewhere under scope.
	ObserveAdded(ctx context.Context, scope, selector string) (<-chan struct{}, error)
	// CaptureSubmit delivers the named field values the next time form is
	// submitted by a human. Only the first submission is delivered.
	CaptureSubmit(ctx context.Context, form string, fields []string) (<-chan map[string]string, error)
	Lifecycle(ctx context.Context) (<-chan Event, error)
}

// Overlay renders the status element.
type Overlay interface {
	ShowOverlay(ctx context.Context, id, text string) error
	RemoveOverlay(ctx context.Context, id string) error
}

// Page is the full surface the workflow needs.
type Page interface {
	Reader
	Actuator
	Observer
	Overlay
}

// First returns the first selector in order that matches an element.
func First(ctx context.Context, r Reader, selectors ...string) (string, error) {
	for _, sel := range selectors {
		ok, err := r.Has(ctx, sel)
		if err != nil {
			return "", err
		}
		if ok {
			return sel, nil
		}
	}
	return "", Missing(fmt.Sprintf("%q", selectors))
}
