package waiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feed is a controllable notification source shaped like a page observer.
type feed struct {
	mu   sync.Mutex
	subs []chan struct{}
	n    atomic.Int32
}

func (f *feed) subscribe(ctx context.Context) (<-chan struct{}, error) {
	f.n.Add(1)
	ch := make(chan struct{}, 8)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, s := range f.subs {
			if s == ch {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}()
	return ch, nil
}

func (f *feed) notify() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		select {
		case s <- struct{}{}:
		default:
		}
	}
}

func (f *feed) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func TestObserveRechecksOnEveryNotification(t *testing.T) {
	src := &feed{}
	var value atomic.Value
	value.Store("")
	var checks atomic.Int32

	check := func(context.Context) bool {
		checks.Add(1)
		return value.Load().(string) != ""
	}

	go func() {
		for src.active() == 0 {
			time.Sleep(time.Millisecond)
		}
		src.notify() // attribute changed but still empty
		time.Sleep(50 * time.Millisecond)
		value.Store("token")
		src.notify()
	}()

	res, err := New(nil).WaitFor(context.Background(), Condition{
		Name:       "token",
		Check:      check,
		Timeout:    2 * time.Second,
		Strategies: []Strategy{Observe(src.subscribe)},
	})
	require.NoError(t, err)
	assert.Equal(t, "observe", res.By)
	assert.GreaterOrEqual(t, checks.Load(), int32(3), "immediate check plus one per notification")
	assert.Eventually(t, func() bool { return src.active() == 0 }, time.Second, 5*time.Millisecond,
		"subscription must be released after resolution")
}

func TestObserveClosedSubscriptionGivesUp(t *testing.T) {
	closed := func(context.Context) (<-chan struct{}, error) {
		ch := make(chan struct{})
		close(ch)
		return ch, nil
	}
	ok, err := Observe(closed).Detect(context.Background(), func(context.Context) bool { return true })
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestAppearAttachesObserverToNewTarget(t *testing.T) {
	added := &feed{}
	changes := &feed{}
	var value atomic.Value
	value.Store("")

	go func() {
		for added.active() == 0 {
			time.Sleep(time.Millisecond)
		}
		added.notify() // hidden input inserted, still empty
		for changes.active() == 0 {
			time.Sleep(time.Millisecond)
		}
		value.Store("token")
		changes.notify()
	}()

	res, err := New(nil).WaitFor(context.Background(), Condition{
		Name:       "late-input",
		Check:      func(context.Context) bool { return value.Load().(string) != "" },
		Timeout:    2 * time.Second,
		Strategies: []Strategy{Appear(added.subscribe, changes.subscribe)},
	})
	require.NoError(t, err)
	assert.Equal(t, "appear", res.By)
	assert.Equal(t, int32(1), changes.n.Load())
	assert.Eventually(t, func() bool { return added.active() == 0 && changes.active() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestAppearRechecksImmediatelyOnAppearance(t *testing.T) {
	added := &feed{}
	var present atomic.Bool

	go func() {
		for added.active() == 0 {
			time.Sleep(time.Millisecond)
		}
		present.Store(true) // inserted with its value already set
		added.notify()
	}()

	res, err := New(nil).WaitFor(context.Background(), Condition{
		Name:       "inserted-with-value",
		Check:      func(context.Context) bool { return present.Load() },
		Timeout:    2 * time.Second,
		Strategies: []Strategy{Appear(added.subscribe, nil)},
	})
	require.NoError(t, err)
	assert.Equal(t, "appear", res.By)
}

func TestAppearSubscribeError(t *testing.T) {
	failing := func(context.Context) (<-chan struct{}, error) { return nil, errors.New("no body") }
	ok, err := Appear(failing, nil).Detect(context.Background(), func(context.Context) bool { return true })
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestExternalPollsGetterIndependently(t *testing.T) {
	var calls atomic.Int32
	get := func(context.Context) (string, error) {
		switch calls.Add(1) {
		case 1:
			return "", errors.New("turnstile not loaded")
		case 2:
			return "", nil
		default:
			return "0.token", nil
		}
	}

	res, err := New(nil).WaitFor(context.Background(), Condition{
		Name:       "widget",
		Check:      func(context.Context) bool { return false },
		Timeout:    2 * time.Second,
		Strategies: []Strategy{External(10*time.Millisecond, get)},
	})
	require.NoError(t, err)
	assert.Equal(t, "external", res.By)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPollStopsOnCancel(t *testing.T) {
	var checks atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	ok, err := Poll(5*time.Millisecond).Detect(ctx, func(context.Context) bool {
		checks.Add(1)
		return false
	})
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	after := checks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, checks.Load(), "poll must not run after cancellation")
}

func TestNonPositiveIntervalsAreClamped(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second, time.Nanosecond} {
		var checks atomic.Int32
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		ok, err := Poll(interval).Detect(ctx, func(context.Context) bool {
			return checks.Add(1) >= 2
		})
		require.NoError(t, err, interval)
		assert.True(t, ok, interval)

		ok, err = External(interval, func(context.Context) (string, error) {
			return "0.token", nil
		}).Detect(ctx, nil)
		cancel()
		require.NoError(t, err, interval)
		assert.True(t, ok, interval)
	}
	assert.Equal(t, MinInterval, Poll(0).(pollStrategy).interval)
	assert.Equal(t, MinInterval, External(-1, nil).(externalStrategy).interval)
}
