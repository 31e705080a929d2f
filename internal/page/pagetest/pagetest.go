// Package pagetest provides an in-memory page.Page for handler and driver
// tests. Elements are keyed by the exact selector string the code under test
// queries.
package pagetest

import (
	"context"
	"sync"
	"time"

	"extendvps/internal/page"
)

// Element is a fake DOM node.
type Element struct {
	Text  string
	Value string
	Attrs map[string]string
}

// Action kinds recorded by the fake.
const (
	ActionSetValue = "set_value"
	ActionInput    = "input"
	ActionClick    = "click"
	ActionCall     = "call"
	ActionNavigate = "navigate"
)

// Action is one recorded actuation.
type Action struct {
	Kind   string
	Target string
	Value  string
	At     time.Time
}

type stream struct {
	selector string
	scope    string
	added    bool
	ch       chan struct{}
}

type capture struct {
	form   string
	fields []string
	ch     chan map[string]string
}

// Page is a scriptable page.Page. The zero value is not usable; call New.
type Page struct {
	mu        sync.Mutex
	url       string
	elements  map[string]*Element
	funcs     map[string]func(*Page)
	evals     map[string]func() string
	onClick   map[string]func(*Page)
	actions   []Action
	overlays  map[string]string
	overlayed []string
	streams   map[*stream]struct{}
	captures  map[*capture]struct{}
	events    map[chan page.Event]struct{}
}

var _ page.Page = (*Page)(nil)

func New(url string) *Page {
	return &Page{
		url:      url,
		elements: make(map[string]*Element),
		funcs:    make(map[string]func(*Page)),
		evals:    make(map[string]func() string),
		onClick:  make(map[string]func(*Page)),
		overlays: make(map[string]string),
		streams:  make(map[*stream]struct{}),
		captures: make(map[*capture]struct{}),
		events:   make(map[chan page.Event]struct{}),
	}
}

// Put adds or replaces an element and notifies observers.
func (p *Page) Put(selector string, el Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, existed := p.elements[selector]
	cp := el
	p.elements[selector] = &cp
	p.notifyLocked(selector, !existed)
}

// SetText is a convenience for Put with only text.
func (p *Page) SetText(selector, text string) {
	p.Put(selector, Element{Text: text})
}

// Mutate changes an existing element in place and notifies observers.
func (p *Page) Mutate(selector string, fn func(*Element)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[selector]
	if !ok {
		el = &Element{}
		p.elements[selector] = el
	}
	fn(el)
	p.notifyLocked(selector, !ok)
}

// Remove deletes an element and notifies observers.
func (p *Page) Remove(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, selector)
	p.notifyLocked(selector, false)
}

// SetURL changes the reported location without emitting lifecycle events.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
}

// Define installs a global page function for Call.
func (p *Page) Define(name string, fn func(*Page)) {
	p.mu.Lock()
	p.funcs[name] = fn
	p.mu.Unlock()
}

// SetEval fixes the result of Evaluate for an expression.
func (p *Page) SetEval(expr string, fn func() string) {
	p.mu.Lock()
	p.evals[expr] = fn
	p.mu.Unlock()
}

// OnClick runs fn after selector is clicked.
func (p *Page) OnClick(selector string, fn func(*Page)) {
	p.mu.Lock()
	p.onClick[selector] = fn
	p.mu.Unlock()
}

// Submit simulates a human submitting form. It reports whether a capture
// was armed for it.
func (p *Page) Submit(form string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	delivered := false
	for c := range p.captures {
		if c.form != form {
			continue
		}
		values := make(map[string]string, len(c.fields))
		for _, f := range c.fields {
			if el, ok := p.elements[f]; ok {
				values[f] = el.Value
			} else {
				values[f] = ""
			}
		}
		c.ch <- values
		delete(p.captures, c)
		delivered = true
	}
	return delivered
}

// Emit delivers a lifecycle event to every subscriber.
func (p *Page) Emit(ev page.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.Kind == page.DocumentChanged && ev.URL != "" {
		p.url = ev.URL
	}
	for ch := range p.events {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Load emits DocumentChanged followed by two DocumentReady events, the way
// a browser reports a full page load.
func (p *Page) Load(url string) {
	p.Emit(page.Event{Kind: page.DocumentChanged, URL: url})
	p.Emit(page.Event{Kind: page.DocumentReady, URL: url})
	p.Emit(page.Event{Kind: page.DocumentReady, URL: url})
}

// Actions returns a copy of the recorded actions.
func (p *Page) Actions() []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Action(nil), p.actions...)
}

// ActionsOf returns the recorded actions of one kind.
func (p *Page) ActionsOf(kind string) []Action {
	var out []Action
	for _, a := range p.Actions() {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// Overlay returns the current overlay text for id.
func (p *Page) Overlay(id string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	text, ok := p.overlays[id]
	return text, ok
}

// OverlayHistory lists every text shown in any overlay, in order.
func (p *Page) OverlayHistory() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.overlayed...)
}

// Streams reports how many observer streams are open.
func (p *Page) Streams() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}

func (p *Page) notifyLocked(selector string, added bool) {
	for s := range p.streams {
		if s.added && (!added || s.selector != selector) {
			continue
		}
		if !s.added {
			if _, ok := p.elements[s.selector]; !ok && s.selector != selector {
				continue
			}
		}
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
}

func (p *Page) record(kind, target, value string) {
	p.actions = append(p.actions, Action{Kind: kind, Target: target, Value: value, At: time.Now()})
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) Has(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.elements[selector]
	return ok, nil
}

func (p *Page) lookup(ctx context.Context, selector string) (*Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	el, ok := p.elements[selector]
	if !ok {
		return nil, page.Missing(selector)
	}
	return el, nil
}

func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.lookup(ctx, selector)
	if err != nil {
		return "", err
	}
	return el.Text, nil
}

func (p *Page) Attribute(ctx context.Context, selector, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.lookup(ctx, selector)
	if err != nil {
		return "", err
	}
	v, ok := el.Attrs[name]
	if !ok {
		return "", page.Missing(selector + "[" + name + "]")
	}
	return v, nil
}

func (p *Page) Value(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.lookup(ctx, selector)
	if err != nil {
		return "", err
	}
	return el.Value, nil
}

func (p *Page) Evaluate(ctx context.Context, expr string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	fn, ok := p.evals[expr]
	p.mu.Unlock()
	if !ok {
		return "", nil
	}
	return fn(), nil
}

func (p *Page) SetValue(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.lookup(ctx, selector)
	if err != nil {
		return err
	}
	el.Value = value
	p.record(ActionSetValue, selector, value)
	p.notifyLocked(selector, false)
	return nil
}

func (p *Page) DispatchInput(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.lookup(ctx, selector); err != nil {
		return err
	}
	p.record(ActionInput, selector, "")
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	if _, err := p.lookup(ctx, selector); err != nil {
		p.mu.Unlock()
		return err
	}
	p.record(ActionClick, selector, "")
	hook := p.onClick[selector]
	p.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) Call(ctx context.Context, function string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	fn, ok := p.funcs[function]
	if !ok {
		p.mu.Unlock()
		return page.Missing("function " + function)
	}
	p.record(ActionCall, function, "")
	p.mu.Unlock()
	if fn != nil {
		fn(p)
	}
	return nil
}

// Navigate records the target. It does not emit lifecycle events; tests
// drive those with Load.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(ActionNavigate, url, "")
	return nil
}

func (p *Page) openStream(ctx context.Context, s *stream) <-chan struct{} {
	p.streams[s] = struct{}{}
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		delete(p.streams, s)
		close(s.ch)
		p.mu.Unlock()
	}()
	return s.ch
}

func (p *Page) Observe(ctx context.Context, selector string) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.lookup(ctx, selector); err != nil {
		return nil, err
	}
	return p.openStream(ctx, &stream{selector: selector, ch: make(chan struct{}, 1)}), nil
}

func (p *Page) ObserveAdded(ctx context.Context, scope, selector string) (<-chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openStream(ctx, &stream{selector: selector, scope: scope, added: true, ch: make(chan struct{}, 1)}), nil
}

func (p *Page) CaptureSubmit(ctx context.Context, form string, fields []string) (<-chan map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.lookup(ctx, form); err != nil {
		return nil, err
	}
	c := &capture{form: form, fields: append([]string(nil), fields...), ch: make(chan map[string]string, 1)}
	p.captures[c] = struct{}{}
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		if _, pending := p.captures[c]; pending {
			delete(p.captures, c)
			close(c.ch)
		}
		p.mu.Unlock()
	}()
	return c.ch, nil
}

func (p *Page) Lifecycle(ctx context.Context) (<-chan page.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan page.Event, 64)
	p.mu.Lock()
	p.events[ch] = struct{}{}
	p.mu.Unlock()
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		delete(p.events, ch)
		close(ch)
		p.mu.Unlock()
	}()
	return ch, nil
}

func (p *Page) ShowOverlay(ctx context.Context, id, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overlays[id] = text
	p.overlayed = append(p.overlayed, text)
	return nil
}

func (p *Page) RemoveOverlay(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.overlays, id)
	return nil
}
