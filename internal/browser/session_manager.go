// Package browser owns the Chrome instance the workflow runs in: it attaches
// to a running browser or launches one with a persistent profile, and hands
// out tabs as rod pages.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"extendvps/internal/config"
)

// ErrNotConnected is returned by page operations before Start.
var ErrNotConnected = errors.New("browser not connected")

// Session describes a tab the manager tracks.
type Session struct {
	ID        string    `json:"id"`
	TargetID  string    `json:"target_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionRecord struct {
	meta  Session
	page  *rod.Page
	owned bool
}

// SessionManager owns the Chrome connection and tracks open tabs.
type SessionManager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu         sync.RWMutex
	browser    *rod.Browser
	launcher   *launcher.Launcher
	sessions   map[string]*sessionRecord
	controlURL string
}

func NewSessionManager(cfg config.BrowserConfig, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		cfg:      cfg,
		logger:   logger.Named("browser"),
		sessions: make(map[string]*sessionRecord),
	}
}

// Start connects to debugger_url when set, otherwise launches Chrome. A
// healthy existing connection is reused.
func (m *SessionManager) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.logger.Warn("stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		if m.launcher != nil {
			m.launcher.Kill()
			m.launcher = nil
		}
		m.browser = nil
		m.controlURL = ""
		m.sessions = make(map[string]*sessionRecord)
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		l := m.newLauncher()
		url, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		m.launcher = l
		controlURL = url
	}

	// The connection outlives ctx; callers scope individual operations.
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if m.launcher != nil {
			m.launcher.Kill()
			m.launcher = nil
		}
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = b
	m.controlURL = controlURL
	m.logger.Info("browser connected", zap.String("control_url", controlURL), zap.Bool("launched", m.launcher != nil))
	return nil
}

func (m *SessionManager) newLauncher() *launcher.Launcher {
	l := launcher.New().Headless(m.cfg.IsHeadless())
	if len(m.cfg.Launch) > 0 {
		l = l.Bin(m.cfg.Launch[0])
		for name, values := range LaunchFlags(m.cfg.Launch[1:]) {
			l = l.Set(flags.Flag(name), values...)
		}
	}
	if m.cfg.UserDataDir != "" {
		l = l.UserDataDir(m.cfg.UserDataDir)
	}
	return l
}

// LaunchFlags parses "--name=value" and "--name" arguments into launcher flags.
func LaunchFlags(args []string) map[string][]string {
	out := make(map[string][]string, len(args))
	for _, raw := range args {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if name == "" {
			continue
		}
		if hasVal {
			out[name] = append(out[name], val)
		} else if _, ok := out[name]; !ok {
			out[name] = nil
		}
	}
	return out
}

// ControlURL returns the DevTools endpoint of the connected browser.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// OpenPage opens a blank tab in the default browser context so the profile's
// cookies apply. The caller navigates it.
func (m *SessionManager) OpenPage(ctx context.Context) (*Session, *rod.Page, error) {
	m.mu.RLock()
	b := m.browser
	m.mu.RUnlock()
	if b == nil {
		return nil, nil, ErrNotConnected
	}

	p, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, nil, fmt.Errorf("create page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
	}).Call(p); err != nil {
		m.logger.Warn("failed to set viewport", zap.Error(err))
	}
	sess := m.track(p, "active", true)
	detached, _ := m.Page(sess.ID)
	return sess, detached, nil
}

// FindPage returns an already open tab whose URL starts with prefix. It lets
// the workflow pick up a panel tab the user opened in an attached browser.
func (m *SessionManager) FindPage(ctx context.Context, prefix string) (*Session, *rod.Page, error) {
	m.mu.RLock()
	b := m.browser
	m.mu.RUnlock()
	if b == nil {
		return nil, nil, ErrNotConnected
	}

	pages, err := b.Context(ctx).Pages()
	if err != nil {
		return nil, nil, fmt.Errorf("list pages: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil || !strings.HasPrefix(info.URL, prefix) {
			continue
		}
		sess := m.track(p, "attached", false)
		detached, _ := m.Page(sess.ID)
		return sess, detached, nil
	}
	return nil, nil, nil
}

// track detaches p from the caller's context; page operations scope their
// own contexts and Shutdown must still be able to close it.
func (m *SessionManager) track(p *rod.Page, status string, owned bool) *Session {
	p = p.Context(context.Background())
	meta := Session{
		ID:        uuid.NewString(),
		TargetID:  string(p.TargetID),
		Status:    status,
		CreatedAt: time.Now(),
	}
	if info, err := p.Info(); err == nil {
		meta.URL = info.URL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.sessions {
		if rec.meta.TargetID == meta.TargetID {
			rec.meta.URL = meta.URL
			rec.meta.Status = status
			existing := rec.meta
			return &existing
		}
	}
	m.sessions[meta.ID] = &sessionRecord{meta: meta, page: p, owned: owned}
	return &meta
}

// Page returns the rod page for a session.
func (m *SessionManager) Page(sessionID string) (*rod.Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return rec.page, true
}

// List returns metadata for every tracked tab.
func (m *SessionManager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		out = append(out, rec.meta)
	}
	return out
}

// Shutdown closes tabs the manager opened. A browser we launched is closed
// too; an attached browser is left running.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, rec := range m.sessions {
		if rec.owned && rec.page != nil {
			_ = rec.page.Close()
		}
		delete(m.sessions, id)
	}

	var err error
	if m.browser != nil && m.launcher != nil {
		err = m.browser.Close()
		m.launcher.Kill()
		m.launcher = nil
	}
	m.browser = nil
	m.controlURL = ""
	m.logger.Debug("browser shutdown complete")
	return err
}
