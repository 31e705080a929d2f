package runner

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"extendvps/internal/config"
	"extendvps/internal/page/pagetest"
	"extendvps/internal/recorder"
	"extendvps/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	loginURL     = "https://secure.xserver.ne.jp/xapanel/login/xvps/"
	dashboardURL = "https://secure.xserver.ne.jp/xapanel/xvps/index"
	confirmURL   = "https://secure.xserver.ne.jp/xapanel/xvps/server/freevps/extend/conf"
)

// 20:00 UTC on 5 Sep is 6 Sep in Tokyo, so a VPS expiring on 7 Sep is due.
var now = time.Date(2025, 9, 5, 20, 0, 0, 0, time.UTC)

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Workflow.Timeout = "5s"
	cfg.Workflow.LoginSubmitDelay = "5ms"
	cfg.Workflow.NavigateDelay = "5ms"
	cfg.Workflow.RenewalSettleDelay = "5ms"
	cfg.Workflow.RenewalClickDelay = "5ms"
	cfg.Workflow.SubmitDelay = "5ms"
	cfg.Workflow.StatusRemoveDelay = "5ms"
	cfg.Challenge.CloudflarePoll = "5ms"
	cfg.Challenge.TokenTimeout = "200ms"
	cfg.Challenge.TokenPoll = "5ms"
	return cfg
}

// site wires a fake panel: logging in leads to the dashboard, the extend
// button leads to the confirmation page.
func site(t *testing.T, cfg config.Config, expiry string) *pagetest.Page {
	t.Helper()
	sel := cfg.Site.Selectors
	p := pagetest.New(loginURL)
	p.Put(sel.LoginForm, pagetest.Element{})
	p.Put(sel.MemberID, pagetest.Element{})
	p.Put(sel.Password, pagetest.Element{})
	p.Define(sel.LoginFunction, func(p *pagetest.Page) {
		p.Put(sel.FreeServerRow, pagetest.Element{})
		p.Put(sel.ExpiryDate, pagetest.Element{Text: " " + expiry + " "})
		p.Put(sel.DetailLink, pagetest.Element{Attrs: map[string]string{
			"href": "/xapanel/xvps/server/detail?id=77",
		}})
		p.Load(dashboardURL)
	})
	p.Put(sel.ExtendButton, pagetest.Element{})
	p.OnClick(sel.ExtendButton, func(p *pagetest.Page) {
		p.Put(sel.CaptchaImage[0], pagetest.Element{Attrs: map[string]string{"src": "data:image/png;base64,AAAA"}})
		p.Put(sel.CaptchaInput[1], pagetest.Element{})
		p.Put(sel.TokenField, pagetest.Element{Value: "token"})
		p.Put(sel.SubmitButton, pagetest.Element{})
		p.Load(confirmURL)
	})
	return p
}

// follow plays the browser: every Navigate the workflow issues is loaded.
func follow(t *testing.T, p *pagetest.Page) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		seen := 0
		tick := time.NewTicker(2 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				navs := p.ActionsOf(pagetest.ActionNavigate)
				for ; seen < len(navs); seen++ {
					p.Load(navs[seen].Target)
				}
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func credentials(t *testing.T) *store.Memory {
	t.Helper()
	kv := store.NewMemory()
	require.NoError(t, kv.Set(context.Background(), store.KeyMemberID, "member"))
	require.NoError(t, kv.Set(context.Background(), store.KeyPassword, "secret"))
	return kv
}

func newRunner(t *testing.T, cfg config.Config, p *pagetest.Page, recognize func(context.Context, string) (string, error)) *Runner {
	t.Helper()
	rec, err := recorder.NewRecorder(t.TempDir(), 0)
	require.NoError(t, err)
	r, err := New(Options{
		Config: cfg,
		Store:  credentials(t),
		Opener: func(context.Context) (Target, error) {
			return Target{Page: p}, nil
		},
		Recognize: recognize,
		Recorder:  rec,
		Logger:    zap.NewNop(),
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)
	return r
}

func TestRunStopsWhenNoRenewalIsDue(t *testing.T) {
	cfg := testConfig()
	p := site(t, cfg, "2025-09-30")
	r := newRunner(t, cfg, p, nil)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "dashboard", res.LastStep)
	assert.Equal(t, "finished", res.Outcome)
	assert.Equal(t, 2, res.Runs)
	assert.Empty(t, p.ActionsOf(pagetest.ActionNavigate))

	assert.Equal(t, []string{"member", "secret"}, []string{
		p.ActionsOf(pagetest.ActionSetValue)[0].Value,
		p.ActionsOf(pagetest.ActionSetValue)[1].Value,
	})
	assert.Contains(t, res.Message, "does not need renewal")

	_, err = os.Stat(res.Trace)
	require.NoError(t, err)
	events, err := recorder.Read(res.Trace)
	require.NoError(t, err)
	assert.Equal(t, recorder.TypeWorkflowEnd, events[len(events)-1].Type)
}

func TestRunRenewsDueServer(t *testing.T) {
	cfg := testConfig()
	p := site(t, cfg, "2025-09-07")
	follow(t, p)

	var calls int
	r := newRunner(t, cfg, p, func(_ context.Context, image string) (string, error) {
		calls++
		assert.Equal(t, "data:image/png;base64,AAAA", image)
		return "4821", nil
	})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "challenge_submit", res.LastStep)
	assert.Equal(t, "finished", res.Outcome)
	assert.Equal(t, 1, calls)

	navs := p.ActionsOf(pagetest.ActionNavigate)
	require.Len(t, navs, 1)
	assert.Equal(t, "https://secure.xserver.ne.jp/xapanel/xvps/server/freevps/extend/index?id_vps=77", navs[0].Target)

	clicks := p.ActionsOf(pagetest.ActionClick)
	require.Len(t, clicks, 2)
	assert.Equal(t, cfg.Site.Selectors.ExtendButton, clicks[0].Target)
	assert.Equal(t, cfg.Site.Selectors.SubmitButton, clicks[1].Target)

	var code string
	for _, a := range p.ActionsOf(pagetest.ActionSetValue) {
		if a.Target == cfg.Site.Selectors.CaptchaInput[1] {
			code = a.Value
		}
	}
	assert.Equal(t, "4821", code)
}

func TestRunReportsHandlerFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Recognizer.MaxAttempts = 2
	p := site(t, cfg, "2025-09-07")
	follow(t, p)

	r := newRunner(t, cfg, p, func(context.Context, string) (string, error) {
		return "12", nil
	})

	res, err := r.Run(context.Background())
	require.Error(t, err)
	assert.False(t, res.Succeeded())
	assert.Equal(t, "challenge_submit", res.LastStep)
	assert.Contains(t, res.Message, "CAPTCHA")

	st := r.State()
	assert.False(t, st.Running)
	require.NotNil(t, st.Last)
	assert.Equal(t, res.WorkflowID, st.Last.WorkflowID)
}

func TestRunRejectsConcurrentWorkflow(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	r, err := New(Options{
		Config: testConfig(),
		Store:  store.NewMemory(),
		Opener: func(ctx context.Context) (Target, error) {
			close(entered)
			<-release
			return Target{}, errors.New("no browser")
		},
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background())
		done <- err
	}()
	<-entered

	st := r.State()
	assert.True(t, st.Running)
	assert.False(t, st.Since.IsZero())

	_, err = r.Run(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	err = <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no browser")

	st = r.State()
	assert.False(t, st.Running)
	require.NotNil(t, st.Last)
	assert.Contains(t, st.Last.Error, "no browser")
}

func TestNewValidatesOptions(t *testing.T) {
	opener := func(context.Context) (Target, error) { return Target{}, nil }

	_, err := New(Options{Config: testConfig(), Opener: opener})
	assert.Error(t, err)

	_, err = New(Options{Config: testConfig(), Store: store.NewMemory()})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Site.Routes = []config.RouteConfig{{Prefix: "/x", Step: "nope"}}
	_, err = New(Options{Config: cfg, Store: store.NewMemory(), Opener: opener})
	assert.Error(t, err)

	r, err := New(Options{Config: testConfig(), Store: store.NewMemory(), Opener: opener})
	require.NoError(t, err)
	assert.Equal(t, "dashboard", r.Classifier().ClassifyURL(dashboardURL).String())
}
