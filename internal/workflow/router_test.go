package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"extendvps/internal/steps"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func countingHandler(n *atomic.Int32, out steps.Outcome) steps.Handler {
	return func(context.Context) (steps.Outcome, error) {
		n.Add(1)
		return out, nil
	}
}

func TestDispatchUnknownIsNoop(t *testing.T) {
	var calls atomic.Int32
	guard := &RunGuard{}
	r := NewRouter("run", defaultClassifier(t), map[Step]steps.Handler{
		Dashboard: countingHandler(&calls, steps.Finished),
	}, guard, zap.NewNop())

	step := r.Classify("/somewhere/else")
	assert.Equal(t, Unknown, step)
	assert.False(t, r.Dispatch(context.Background(), step))
	assert.False(t, guard.Running(), "unknown pages do not consume the guard")
	r.Wait()
	assert.Zero(t, calls.Load())

	assert.True(t, r.Dispatch(context.Background(), Dashboard))
	r.Wait()
	assert.EqualValues(t, 1, calls.Load())
}

func TestDispatchWithoutHandlerKeepsGuard(t *testing.T) {
	guard := &RunGuard{}
	r := NewRouter("run", defaultClassifier(t), map[Step]steps.Handler{}, guard, nil)
	assert.False(t, r.Dispatch(context.Background(), Login))
	assert.False(t, guard.Running())
}

func TestDispatchTwiceRunsHandlerOnce(t *testing.T) {
	var calls atomic.Int32
	r := NewRouter("run", defaultClassifier(t), map[Step]steps.Handler{
		Login: countingHandler(&calls, steps.Navigating),
	}, &RunGuard{}, zap.NewNop())

	assert.True(t, r.Dispatch(context.Background(), Login))
	assert.False(t, r.Dispatch(context.Background(), Login))
	r.Wait()
	assert.EqualValues(t, 1, calls.Load())

	rep := <-r.Reports()
	assert.Equal(t, "run", rep.RunID)
	assert.Equal(t, Login, rep.Step)
	assert.Equal(t, steps.Navigating, rep.Outcome)
	assert.NoError(t, rep.Err)
}

func TestDispatchConcurrentCallersStartOneHandler(t *testing.T) {
	var calls atomic.Int32
	r := NewRouter("run", defaultClassifier(t), map[Step]steps.Handler{
		ChallengeSubmit: countingHandler(&calls, steps.Finished),
	}, &RunGuard{}, zap.NewNop())

	var started atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Dispatch(context.Background(), ChallengeSubmit) {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	r.Wait()
	assert.EqualValues(t, 1, started.Load())
	assert.EqualValues(t, 1, calls.Load())
}

func TestDispatchReturnsBeforeHandlerCompletes(t *testing.T) {
	release := make(chan struct{})
	r := NewRouter("run", defaultClassifier(t), map[Step]steps.Handler{
		RenewalRequest: func(ctx context.Context) (steps.Outcome, error) {
			<-release
			return steps.Navigating, nil
		},
	}, &RunGuard{}, zap.NewNop())

	done := make(chan bool, 1)
	go func() { done <- r.Dispatch(context.Background(), RenewalRequest) }()
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on the handler")
	}
	close(release)
	r.Wait()
	rep := <-r.Reports()
	assert.Equal(t, steps.Navigating, rep.Outcome)
}

func TestRunGuardAcquireOnce(t *testing.T) {
	var g RunGuard
	require.False(t, g.Running())
	assert.True(t, g.Acquire())
	assert.False(t, g.Acquire())
	assert.True(t, g.Running())
}

func TestHandlersByStep(t *testing.T) {
	h := func(context.Context) (steps.Outcome, error) { return steps.Finished, nil }
	got := HandlersByStep(map[string]steps.Handler{"login": h, "dashboard": h, "bogus": h})
	assert.Len(t, got, 2)
	assert.Contains(t, got, Login)
	assert.Contains(t, got, Dashboard)
}
