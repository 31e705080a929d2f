package browser

import (
	"context"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"extendvps/internal/config"
	"extendvps/internal/page"
)

const liveForm = `<!doctype html><html><body>
<form id="login_area" onsubmit="event.preventDefault()">
  <input id="memberid" value="">
  <input id="user_password" type="password" value="">
  <button id="go" type="submit">go</button>
</form>
<div id="box"><span class="term"> 2025-09-07 </span></div>
<script>window.loginFunc = () => { document.body.dataset.logged = "yes"; };</script>
</body></html>`

// TestLiveRodPage drives page.Rod against a real Chrome. It needs a Chrome
// binary and runs only when EXTENDVPS_LIVE_TESTS is set.
func TestLiveRodPage(t *testing.T) {
	if os.Getenv("EXTENDVPS_LIVE_TESTS") == "" {
		t.Skip("set EXTENDVPS_LIVE_TESTS to run live browser tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	headless := true
	m := NewSessionManager(config.BrowserConfig{Headless: &headless}, zap.NewNop())
	require.NoError(t, m.Start(ctx))
	defer m.Shutdown(context.Background())

	_, rp, err := m.OpenPage(ctx)
	require.NoError(t, err)
	p := page.NewRod(rp, zap.NewNop())

	events, err := p.Lifecycle(ctx)
	require.NoError(t, err)
	target := "data:text/html," + url.PathEscape(liveForm)
	require.NoError(t, p.Navigate(ctx, target))

	var sawChanged, sawReady bool
	deadline := time.After(10 * time.Second)
	for !(sawChanged && sawReady) {
		select {
		case ev := <-events:
			sawChanged = sawChanged || ev.Kind == page.DocumentChanged
			sawReady = sawReady || (sawChanged && ev.Kind == page.DocumentReady)
		case <-deadline:
			t.Fatal("lifecycle events not seen")
		}
	}

	text, err := p.Text(ctx, "#box .term")
	require.NoError(t, err)
	assert.Equal(t, "2025-09-07", strings.TrimSpace(text))

	_, err = p.Text(ctx, "#nope")
	assert.ErrorIs(t, err, page.ErrMissingElement)

	require.NoError(t, p.SetValue(ctx, "#memberid", "alice"))
	require.NoError(t, p.DispatchInput(ctx, "#memberid"))
	v, err := p.Value(ctx, "#memberid")
	require.NoError(t, err)
	assert.Equal(t, "alice", v)

	require.NoError(t, p.Call(ctx, "loginFunc"))
	logged, err := p.Evaluate(ctx, "document.body.dataset.logged")
	require.NoError(t, err)
	assert.Equal(t, "yes", logged)
	assert.ErrorIs(t, p.Call(ctx, "missingFunc"), page.ErrMissingElement)

	obsCtx, obsCancel := context.WithCancel(ctx)
	changes, err := p.Observe(obsCtx, "#box")
	require.NoError(t, err)
	_, err = p.Evaluate(ctx, `document.querySelector("#box").setAttribute("data-x", "1")`)
	require.NoError(t, err)
	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("mutation not observed")
	}
	obsCancel()

	capCtx, capCancel := context.WithCancel(ctx)
	defer capCancel()
	submitted, err := p.CaptureSubmit(capCtx, "#login_area", []string{"#memberid", "#user_password"})
	require.NoError(t, err)
	require.NoError(t, p.SetValue(ctx, "#user_password", "pw"))
	require.NoError(t, p.Click(ctx, "#go"))
	select {
	case values := <-submitted:
		assert.Equal(t, "alice", values["#memberid"])
		assert.Equal(t, "pw", values["#user_password"])
	case <-time.After(5 * time.Second):
		t.Fatal("submit not captured")
	}

	require.NoError(t, p.ShowOverlay(ctx, "vps-renewal-progress", "hello"))
	shown, err := p.Text(ctx, "#vps-renewal-progress")
	require.NoError(t, err)
	assert.Equal(t, "hello", shown)
	require.NoError(t, p.RemoveOverlay(ctx, "vps-renewal-progress"))
	has, err := p.Has(ctx, "#vps-renewal-progress")
	require.NoError(t, err)
	assert.False(t, has)
}
