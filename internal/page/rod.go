package page

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
	"go.uber.org/zap"
)

// cleanupTimeout bounds best-effort teardown calls made after a stream's
// context has already ended.
const cleanupTimeout = 2 * time.Second

var bindingSeq atomic.Int64

// Rod drives a live Chrome tab.
type Rod struct {
	page   *rod.Page
	logger *zap.Logger
}

var _ Page = (*Rod)(nil)

func NewRod(p *rod.Page, logger *zap.Logger) *Rod {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rod{page: p, logger: logger}
}

func (r *Rod) URL(ctx context.Context) (string, error) {
	info, err := r.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

func (r *Rod) Has(ctx context.Context, selector string) (bool, error) {
	has, _, err := r.page.Context(ctx).Has(selector)
	if err != nil {
		return false, fmt.Errorf("query %s: %w", selector, err)
	}
	return has, nil
}

func (r *Rod) element(ctx context.Context, selector string) (*rod.Element, error) {
	has, el, err := r.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", selector, err)
	}
	if !has {
		return nil, Missing(selector)
	}
	return el, nil
}

func (r *Rod) Text(ctx context.Context, selector string) (string, error) {
	el, err := r.element(ctx, selector)
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (r *Rod) Attribute(ctx context.Context, selector, name string) (string, error) {
	el, err := r.element(ctx, selector)
	if err != nil {
		return "", err
	}
	val, err := el.Attribute(name)
	if err != nil {
		return "", fmt.Errorf("attribute %s of %s: %w", name, selector, err)
	}
	if val == nil {
		return "", Missing(fmt.Sprintf("%s[%s]", selector, name))
	}
	return *val, nil
}

func (r *Rod) Value(ctx context.Context, selector string) (string, error) {
	el, err := r.element(ctx, selector)
	if err != nil {
		return "", err
	}
	prop, err := el.Property("value")
	if err != nil {
		return "", fmt.Errorf("value of %s: %w", selector, err)
	}
	if prop.Nil() {
		return "", nil
	}
	return prop.Str(), nil
}

func (r *Rod) Evaluate(ctx context.Context, expr string) (string, error) {
	js := fmt.Sprintf(`() => { const v = (%s); return v == null ? "" : String(v); }`, expr)
	res, err := r.page.Context(ctx).Eval(js)
	if err != nil {
		return "", fmt.Errorf("evaluate: %w", err)
	}
	return res.Value.Str(), nil
}

func (r *Rod) SetValue(ctx context.Context, selector, value string) error {
	el, err := r.element(ctx, selector)
	if err != nil {
		return err
	}
	if _, err := el.Eval(`(v) => { this.value = v; }`, value); err != nil {
		return fmt.Errorf("set value of %s: %w", selector, err)
	}
	return nil
}

func (r *Rod) DispatchInput(ctx context.Context, selector string) error {
	el, err := r.element(ctx, selector)
	if err != nil {
		return err
	}
	if _, err := el.Eval(`() => this.dispatchEvent(new Event("input", { bubbles: true }))`); err != nil {
		return fmt.Errorf("dispatch input on %s: %w", selector, err)
	}
	return nil
}

// Click uses the DOM click() so covered or off-screen buttons still submit.
func (r *Rod) Click(ctx context.Context, selector string) error {
	el, err := r.element(ctx, selector)
	if err != nil {
		return err
	}
	if _, err := el.Eval(`() => this.click()`); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (r *Rod) Call(ctx context.Context, function string) error {
	res, err := r.page.Context(ctx).Eval(`(name) => {
		const fn = window[name];
		if (typeof fn !== "function") return false;
		fn();
		return true;
	}`, function)
	if err != nil {
		return fmt.Errorf("call %s: %w", function, err)
	}
	if !res.Value.Bool() {
		return Missing("function " + function)
	}
	return nil
}

func (r *Rod) Navigate(ctx context.Context, url string) error {
	if err := r.page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// stream exposes a Go binding to the page, runs install to hook it up, and
// tears both down when ctx ends. install returns false when its target does
// not exist.
func (r *Rod) stream(ctx context.Context, install string, args []interface{}, onCall func(gson.JSON)) (string, error) {
	name := fmt.Sprintf("__extendvps_%d", bindingSeq.Add(1))

	stop, err := r.page.Expose(name, func(payload gson.JSON) (interface{}, error) {
		onCall(payload)
		return nil, nil
	})
	if err != nil {
		return "", fmt.Errorf("expose binding: %w", err)
	}

	res, err := r.page.Context(ctx).Eval(install, append([]interface{}{name}, args...)...)
	if err != nil || !res.Value.Bool() {
		_ = stop()
		if err != nil {
			return "", fmt.Errorf("install observer: %w", err)
		}
		return "", nil
	}

	go func() {
		<-ctx.Done()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		_, _ = r.page.Context(cleanupCtx).Eval(`(name) => {
			const off = window[name + "_off"];
			if (typeof off === "function") off();
		}`, name)
		if err := stop(); err != nil {
			r.logger.Debug("binding teardown failed", zap.String("binding", name), zap.Error(err))
		}
	}()
	return name, nil
}

// notifier coalesces binding calls into a 1-buffered channel that is closed
// exactly once.
type notifier struct {
	mu     sync.Mutex
	ch     chan struct{}
	closed bool
}

func (n *notifier) notify(gson.JSON) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		close(n.ch)
	}
}

func (r *Rod) Observe(ctx context.Context, selector string) (<-chan struct{}, error) {
	n := &notifier{ch: make(chan struct{}, 1)}

	name, err := r.stream(ctx, `(name, selector) => {
		const el = document.querySelector(selector);
		if (!el) return false;
		const obs = new MutationObserver(() => window[name]({}));
		obs.observe(el, { attributes: true, childList: true, subtree: true, characterData: true });
		window[name + "_off"] = () => obs.disconnect();
		return true;
	}`, []interface{}{selector}, n.notify)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, Missing(selector)
	}

	go func() {
		<-ctx.Done()
		n.close()
	}()
	return n.ch, nil
}

func (r *Rod) ObserveAdded(ctx context.Context, scope, selector string) (<-chan struct{}, error) {
	n := &notifier{ch: make(chan struct{}, 1)}

	name, err := r.stream(ctx, `(name, scope, selector) => {
		const root = document.querySelector(scope) || document.documentElement;
		if (!root) return false;
		const obs = new MutationObserver((records) => {
			for (const rec of records) {
				for (const node of rec.addedNodes || []) {
					if (node.nodeType !== 1) continue;
					if ((node.matches && node.matches(selector)) || (node.querySelector && node.querySelector(selector))) {
						window[name]({});
						return;
					}
				}
			}
		});
		obs.observe(root, { childList: true, subtree: true });
		window[name + "_off"] = () => obs.disconnect();
		return true;
	}`, []interface{}{scope, selector}, n.notify)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, Missing(scope)
	}

	go func() {
		<-ctx.Done()
		n.close()
	}()
	return n.ch, nil
}

func (r *Rod) CaptureSubmit(ctx context.Context, form string, fields []string) (<-chan map[string]string, error) {
	ch := make(chan map[string]string, 1)
	var fired, closed atomic.Bool
	deliver := func(payload gson.JSON) {
		if closed.Load() || !fired.CompareAndSwap(false, true) {
			return
		}
		values := make(map[string]string, len(fields))
		for k, v := range payload.Map() {
			values[k] = v.Str()
		}
		ch <- values
	}

	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}

	name, err := r.stream(ctx, `(name, form, fields) => {
		const el = document.querySelector(form);
		if (!el) return false;
		const selectors = JSON.parse(fields);
		const onSubmit = () => {
			const out = {};
			for (const sel of selectors) {
				const input = document.querySelector(sel);
				out[sel] = input ? String(input.value || "") : "";
			}
			window[name](out);
		};
		el.addEventListener("submit", onSubmit, { once: true });
		window[name + "_off"] = () => el.removeEventListener("submit", onSubmit);
		return true;
	}`, []interface{}{form, string(fieldsJSON)}, deliver)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, Missing(form)
	}

	go func() {
		<-ctx.Done()
		closed.Store(true)
		if fired.CompareAndSwap(false, true) {
			close(ch)
		}
	}()
	return ch, nil
}

// Lifecycle follows main-frame navigations and document readiness. Ready
// events carry the URL of the last committed main-frame document.
func (r *Rod) Lifecycle(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 8)
	current := ""

	emit := func(ev Event) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}

	wait := r.page.Context(ctx).EachEvent(
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame == nil || ev.Frame.ParentID != "" {
				return
			}
			current = ev.Frame.URL
			emit(Event{Kind: DocumentChanged, URL: current})
		},
		func(*proto.PageDomContentEventFired) {
			emit(Event{Kind: DocumentReady, URL: current})
		},
		func(*proto.PageLoadEventFired) {
			emit(Event{Kind: DocumentReady, URL: current})
		},
	)

	go func() {
		wait()
		close(ch)
	}()
	return ch, nil
}

func (r *Rod) ShowOverlay(ctx context.Context, id, text string) error {
	_, err := r.page.Context(ctx).Eval(`(id, text) => {
		let el = document.getElementById(id);
		if (!el) {
			if (!document.body) return false;
			el = document.createElement("div");
			el.id = id;
			Object.assign(el.style, {
				position: "fixed", top: "10px", right: "10px", zIndex: "10000",
				background: "#333", color: "#fff", padding: "10px 12px",
				borderRadius: "6px", fontSize: "12px", lineHeight: "1.4",
				boxShadow: "0 6px 18px rgba(0,0,0,0.25)", maxWidth: "280px",
				wordBreak: "break-all",
			});
			document.body.appendChild(el);
		}
		el.textContent = text;
		return true;
	}`, id, text)
	if err != nil {
		return fmt.Errorf("show overlay: %w", err)
	}
	return nil
}

func (r *Rod) RemoveOverlay(ctx context.Context, id string) error {
	_, err := r.page.Context(ctx).Eval(`(id) => { const el = document.getElementById(id); if (el) el.remove(); }`, id)
	if err != nil {
		return fmt.Errorf("remove overlay: %w", err)
	}
	return nil
}
