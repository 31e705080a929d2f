package waiter

import (
	"context"
	"time"
)

// Subscribe starts a stream of change notifications that ends when ctx is
// done. Implementations close the channel when the subscription ends.
type Subscribe func(ctx context.Context) (<-chan struct{}, error)

// Getter reads state owned by something other than the DOM, such as a widget
// API. An empty string means "not yet".
type Getter func(ctx context.Context) (string, error)

// MinInterval is the shortest tick Poll and External use; smaller or
// non-positive intervals are raised to it.
const MinInterval = time.Millisecond

func tickInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	return d
}

type pollStrategy struct {
	name     string
	interval time.Duration
}

// Poll re-evaluates the predicate on a fixed interval.
func Poll(interval time.Duration) Strategy {
	return pollStrategy{name: "poll", interval: tickInterval(interval)}
}

func (p pollStrategy) Name() string { return p.name }

func (p pollStrategy) Detect(ctx context.Context, check Predicate) (bool, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
			if check(ctx) {
				return true, nil
			}
		}
	}
}

type observeStrategy struct {
	subscribe Subscribe
}

// Observe re-evaluates the predicate every time the subscription reports a
// structural or attribute change.
func Observe(subscribe Subscribe) Strategy {
	return observeStrategy{subscribe: subscribe}
}

func (o observeStrategy) Name() string { return "observe" }

func (o observeStrategy) Detect(ctx context.Context, check Predicate) (bool, error) {
	changes, err := o.subscribe(ctx)
	if err != nil {
		return false, err
	}
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return false, nil
			}
			if check(ctx) {
				return true, nil
			}
		}
	}
}

type appearStrategy struct {
	appeared Subscribe
	attach   Subscribe
}

// Appear waits for the target to be added to the page. Each time it appears
// the strategy re-checks immediately and (re)attaches an Observe-style
// subscription to it, so later changes to the new node are seen too.
func Appear(appeared, attach Subscribe) Strategy {
	return appearStrategy{appeared: appeared, attach: attach}
}

func (a appearStrategy) Name() string { return "appear" }

func (a appearStrategy) Detect(ctx context.Context, check Predicate) (bool, error) {
	added, err := a.appeared(ctx)
	if err != nil {
		return false, err
	}

	var (
		changes      <-chan struct{}
		cancelAttach context.CancelFunc = func() {}
	)
	defer func() { cancelAttach() }()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case _, ok := <-added:
			if !ok {
				added = nil
				if changes == nil {
					return false, nil
				}
				continue
			}
			if a.attach != nil {
				cancelAttach()
				var attachCtx context.Context
				attachCtx, cancelAttach = context.WithCancel(ctx)
				if changes, err = a.attach(attachCtx); err != nil {
					return false, err
				}
			}
			if check(ctx) {
				return true, nil
			}
		case _, ok := <-changes:
			if !ok {
				changes = nil
				if added == nil {
					return false, nil
				}
				continue
			}
			if check(ctx) {
				return true, nil
			}
		}
	}
}

type externalStrategy struct {
	interval time.Duration
	get      Getter
}

// External polls an out-of-DOM getter on a fixed interval. It signals once
// the getter returns a non-empty value and ignores getter errors, which
// usually mean the widget has not loaded yet.
func External(interval time.Duration, get Getter) Strategy {
	return externalStrategy{interval: tickInterval(interval), get: get}
}

func (e externalStrategy) Name() string { return "external" }

func (e externalStrategy) Detect(ctx context.Context, _ Predicate) (bool, error) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
			v, err := e.get(ctx)
			if err == nil && v != "" {
				return true, nil
			}
		}
	}
}
