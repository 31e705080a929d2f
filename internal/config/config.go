package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level extendvps config.
	WorkspaceDirName = ".extendvps"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// Step names accepted in site.routes.
const (
	StepLogin           = "login"
	StepDashboard       = "dashboard"
	StepRenewalRequest  = "renewal_request"
	StepChallengeSubmit = "challenge_submit"
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the renewal runner.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Browser    BrowserConfig    `yaml:"browser"`
	Site       SiteConfig       `yaml:"site"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Challenge  ChallengeConfig  `yaml:"challenge"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Store      StoreConfig      `yaml:"store"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	MCP        MCPConfig        `yaml:"mcp"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// LoggingConfig drives the zap logger built in internal/logging.
type LoggingConfig struct {
	// Level is a zap level name (debug, info, warn, error).
	Level string `yaml:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format"`
	// LogFile enables a rotated JSON log file in addition to the console.
	LogFile    string `yaml:"log_file"`
	MaxSize    int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command (e.g., ["chromium", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// Headless controls whether Chrome runs in headless mode (default: false so a
	// human can type credentials on first run).
	Headless *bool `yaml:"headless"`
	// UserDataDir keeps cookies between runs when launching Chrome ourselves.
	UserDataDir string `yaml:"user_data_dir"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	ViewportWidth            int    `yaml:"viewport_width"`
	ViewportHeight           int    `yaml:"viewport_height"`
}

// RouteConfig maps a URL path prefix to a workflow step name.
type RouteConfig struct {
	Prefix string `yaml:"prefix"`
	Step   string `yaml:"step"`
}

// SiteConfig holds everything that is specific to the control panel being automated.
type SiteConfig struct {
	BaseURL   string         `yaml:"base_url"`
	LoginPath string         `yaml:"login_path"`
	Routes    []RouteConfig  `yaml:"routes"`
	Selectors SelectorConfig `yaml:"selectors"`
}

// SelectorConfig lists the CSS selectors and page globals the step handlers use.
type SelectorConfig struct {
	LoginError    string `yaml:"login_error"`
	LoginForm     string `yaml:"login_form"`
	MemberID      string `yaml:"member_id"`
	Password      string `yaml:"password"`
	LoginFunction string `yaml:"login_function"`

	FreeServerRow string `yaml:"free_server_row"`
	ExpiryDate    string `yaml:"expiry_date"`
	DetailLink    string `yaml:"detail_link"`

	ExtendButton string `yaml:"extend_button"`

	CloudflareBlocking string   `yaml:"cloudflare_blocking"`
	CaptchaImage       []string `yaml:"captcha_image"`
	CaptchaInput       []string `yaml:"captcha_input"`
	TokenField         string   `yaml:"token_field"`
	TokenScope         string   `yaml:"token_scope"`
	SubmitButton       string   `yaml:"submit_button"`
	SubmitFallback     string   `yaml:"submit_fallback"`
}

// WorkflowConfig holds run-level timing and the reference time zone.
type WorkflowConfig struct {
	Timeout            string `yaml:"timeout"`
	TimeZone           string `yaml:"time_zone"`
	ElementTimeout     string `yaml:"element_timeout"`
	LoginSubmitDelay   string `yaml:"login_submit_delay"`
	NavigateDelay      string `yaml:"navigate_delay"`
	RenewalSettleDelay string `yaml:"renewal_settle_delay"`
	RenewalClickDelay  string `yaml:"renewal_click_delay"`
	SubmitDelay        string `yaml:"submit_delay"`
	StatusRemoveDelay  string `yaml:"status_remove_delay"`
}

// ChallengeConfig tunes the captcha page: Cloudflare wait and token detection.
type ChallengeConfig struct {
	CloudflareTimeout string `yaml:"cloudflare_timeout"`
	CloudflarePoll    string `yaml:"cloudflare_poll"`
	TokenTimeout      string `yaml:"token_timeout"`
	TokenPoll         string `yaml:"token_poll"`
	// TokenGetter is a JS expression returning the widget's token (or "").
	TokenGetter string `yaml:"token_getter"`
	// SubmitOnTokenTimeout submits the form even when no token appeared (default: true).
	SubmitOnTokenTimeout *bool `yaml:"submit_on_token_timeout"`
}

// RecognizerConfig configures the external image-to-text service.
type RecognizerConfig struct {
	Endpoint       string `yaml:"endpoint"`
	MaxAttempts    int    `yaml:"max_attempts"`
	MinLength      int    `yaml:"min_length"`
	RequestTimeout string `yaml:"request_timeout"`
}

// StoreConfig points at the credential database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RecorderConfig controls the per-run JSONL trace.
type RecorderConfig struct {
	Enable bool   `yaml:"enable"`
	Dir    string `yaml:"dir"`
	// Keep is how many trace files survive rotation.
	Keep int `yaml:"keep"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// DefaultConfig provides the settings for the Xserver free VPS panel.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "extendvps",
			Version: "0.3.0",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     14,
		},
		Browser: BrowserConfig{
			DefaultNavigationTimeout: "15s",
			ViewportWidth:            1280,
			ViewportHeight:           900,
		},
		Site: SiteConfig{
			BaseURL:   "https://secure.xserver.ne.jp",
			LoginPath: "/xapanel/login/xvps/",
			Routes: []RouteConfig{
				{Prefix: "/xapanel/login/xvps", Step: StepLogin},
				{Prefix: "/xapanel/xvps/server/freevps/extend/conf", Step: StepChallengeSubmit},
				{Prefix: "/xapanel/xvps/server/freevps/extend/do", Step: StepChallengeSubmit},
				{Prefix: "/xapanel/xvps/server/freevps/extend/index", Step: StepRenewalRequest},
				{Prefix: "/xapanel/xvps/index", Step: StepDashboard},
			},
			Selectors: SelectorConfig{
				LoginError:         ".errorMessage",
				LoginForm:          "#login_area",
				MemberID:           "#memberid",
				Password:           "#user_password",
				LoginFunction:      "loginFunc",
				FreeServerRow:      "tr:has(.freeServerIco)",
				ExpiryDate:         "tr:has(.freeServerIco) .contract__term",
				DetailLink:         `tr:has(.freeServerIco) a[href^="/xapanel/xvps/server/detail?id="]`,
				ExtendButton:       `[formaction="/xapanel/xvps/server/freevps/extend/conf"]`,
				CloudflareBlocking: `#cf-please-wait, #challenge-running, iframe[src*="challenges.cloudflare.com"]`,
				CaptchaImage:       []string{`img[src^="data:image"]`, `img[src^="data:"]`},
				CaptchaInput: []string{
					`[placeholder*="上の画像"]`,
					`[name="authcode"]`,
					`input[type="text"][maxlength="4"]`,
				},
				TokenField:     `[name="cf-turnstile-response"]`,
				TokenScope:     "body",
				SubmitButton:   `#submit_button, [name="submit_button"]`,
				SubmitFallback: `input[type="submit"], button[type="submit"]`,
			},
		},
		Workflow: WorkflowConfig{
			Timeout:            "5m",
			TimeZone:           "Asia/Tokyo",
			ElementTimeout:     "30s",
			LoginSubmitDelay:   "500ms",
			NavigateDelay:      "1s",
			RenewalSettleDelay: "1s",
			RenewalClickDelay:  "800ms",
			SubmitDelay:        "1s",
			StatusRemoveDelay:  "3s",
		},
		Challenge: ChallengeConfig{
			CloudflareTimeout: "60s",
			CloudflarePoll:    "500ms",
			TokenTimeout:      "60s",
			TokenPoll:         "1s",
			TokenGetter:       `(() => { try { const t = window.turnstile && window.turnstile.getResponse && window.turnstile.getResponse(); return typeof t === "string" ? t : ""; } catch (e) { return ""; } })()`,
		},
		Recognizer: RecognizerConfig{
			Endpoint:       "https://captcha-120546510085.asia-northeast1.run.app",
			MaxAttempts:    3,
			MinLength:      4,
			RequestTimeout: "30s",
		},
		Store: StoreConfig{
			Path: "data/credentials.db",
		},
		Recorder: RecorderConfig{
			Enable: true,
			Dir:    "data/traces",
			Keep:   10,
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .extendvps/config.yaml file.
// Returns the workspace root directory (parent of .extendvps/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .extendvps/config.yaml <- explicit --config
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, filepath.Join(wsDir, WorkspaceDirName))
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .extendvps/ directory with a template config at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	if err := os.MkdirAll(filepath.Join(wsDir, "data"), 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", wsDir, err)
	}

	templateConfig := `# extendvps workspace configuration
# Values here override defaults but are overridden by --config.
# Relative paths below resolve against this directory.

# browser:
#   launch: ["chromium"]
#   headless: false
#   user_data_dir: "data/profile"

# workflow:
#   time_zone: "Asia/Tokyo"
#   timeout: "5m"

# challenge:
#   submit_on_token_timeout: true

# logging:
#   level: "debug"
#   log_file: "data/extendvps.log"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0o644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (credentials, traces, browser profile) - do not version control\ndata/\n"
	if err := os.WriteFile(filepath.Join(wsDir, ".gitignore"), []byte(gitignoreContent), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Logging.LogFile = resolve(cfg.Logging.LogFile)
	cfg.Browser.UserDataDir = resolve(cfg.Browser.UserDataDir)
	cfg.Store.Path = resolve(cfg.Store.Path)
	cfg.Recorder.Dir = resolve(cfg.Recorder.Dir)
	return cfg
}

// Validate ensures required fields exist so a run can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	base, err := url.Parse(c.Site.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("site.base_url must be an absolute URL, got %q", c.Site.BaseURL)
	}
	if len(c.Site.Routes) == 0 {
		return errors.New("site.routes must not be empty")
	}
	seen := make(map[string]bool, len(c.Site.Routes))
	for i, r := range c.Site.Routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			return fmt.Errorf("site.routes[%d].prefix must start with '/', got %q", i, r.Prefix)
		}
		if seen[r.Prefix] {
			return fmt.Errorf("site.routes[%d].prefix %q is duplicated", i, r.Prefix)
		}
		seen[r.Prefix] = true
		switch r.Step {
		case StepLogin, StepDashboard, StepRenewalRequest, StepChallengeSubmit:
		default:
			return fmt.Errorf("site.routes[%d].step %q is not a known step", i, r.Step)
		}
	}
	if c.Recognizer.Endpoint == "" {
		return errors.New("recognizer.endpoint is required")
	}
	if c.Recognizer.MaxAttempts < 1 {
		return errors.New("recognizer.max_attempts must be at least 1")
	}
	if _, err := time.LoadLocation(c.Workflow.TimeZone); err != nil {
		return fmt.Errorf("workflow.time_zone: %w", err)
	}
	positive := []struct {
		field string
		raw   string
	}{
		{"workflow.timeout", c.Workflow.Timeout},
		{"workflow.element_timeout", c.Workflow.ElementTimeout},
		{"challenge.cloudflare_timeout", c.Challenge.CloudflareTimeout},
		{"challenge.cloudflare_poll", c.Challenge.CloudflarePoll},
		{"challenge.token_timeout", c.Challenge.TokenTimeout},
		{"challenge.token_poll", c.Challenge.TokenPoll},
		{"recognizer.request_timeout", c.Recognizer.RequestTimeout},
	}
	for _, p := range positive {
		if err := validatePositiveDuration(p.field, p.raw); err != nil {
			return err
		}
	}
	return nil
}

// validatePositiveDuration accepts an empty value (the default applies) or a
// duration greater than zero.
func validatePositiveDuration(field, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %q", field, raw)
	}
	return nil
}

// LoginURL returns the absolute URL the workflow starts from.
func (s SiteConfig) LoginURL() string {
	return strings.TrimRight(s.BaseURL, "/") + s.LoginPath
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 15*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: false).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return false
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1280
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 900
	}
	return b.ViewportHeight
}

// RunTimeout bounds a whole workflow run.
func (w WorkflowConfig) RunTimeout() time.Duration {
	return parseDuration(w.Timeout, 5*time.Minute)
}

// Location returns the reference time zone, falling back to Asia/Tokyo.
func (w WorkflowConfig) Location() *time.Location {
	name := w.TimeZone
	if name == "" {
		name = "Asia/Tokyo"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("JST", 9*60*60)
	}
	return loc
}

func (w WorkflowConfig) ElementWait() time.Duration {
	return parseDuration(w.ElementTimeout, 30*time.Second)
}

func (w WorkflowConfig) LoginSubmit() time.Duration {
	return parseDuration(w.LoginSubmitDelay, 500*time.Millisecond)
}

func (w WorkflowConfig) Navigate() time.Duration {
	return parseDuration(w.NavigateDelay, time.Second)
}

func (w WorkflowConfig) RenewalSettle() time.Duration {
	return parseDuration(w.RenewalSettleDelay, time.Second)
}

func (w WorkflowConfig) RenewalClick() time.Duration {
	return parseDuration(w.RenewalClickDelay, 800*time.Millisecond)
}

func (w WorkflowConfig) Submit() time.Duration {
	return parseDuration(w.SubmitDelay, time.Second)
}

func (w WorkflowConfig) StatusRemove() time.Duration {
	return parseDuration(w.StatusRemoveDelay, 3*time.Second)
}

func (c ChallengeConfig) CloudflareWait() time.Duration {
	return parseDuration(c.CloudflareTimeout, 60*time.Second)
}

func (c ChallengeConfig) CloudflareInterval() time.Duration {
	return parseDuration(c.CloudflarePoll, 500*time.Millisecond)
}

func (c ChallengeConfig) TokenWait() time.Duration {
	return parseDuration(c.TokenTimeout, 60*time.Second)
}

func (c ChallengeConfig) TokenInterval() time.Duration {
	return parseDuration(c.TokenPoll, time.Second)
}

// ForceSubmit reports whether a token-wait timeout still submits the form (default: true).
func (c ChallengeConfig) ForceSubmit() bool {
	if c.SubmitOnTokenTimeout == nil {
		return true
	}
	return *c.SubmitOnTokenTimeout
}

// Timeout returns the per-request timeout for the recognition service.
func (r RecognizerConfig) Timeout() time.Duration {
	return parseDuration(r.RequestTimeout, 30*time.Second)
}
