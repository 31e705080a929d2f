// Package workflow turns page loads into step dispatches: it classifies the
// current path, guards against running a step twice for one document, and
// follows the browser from page to page until the workflow finishes.
package workflow

import (
	"fmt"
	"net/url"
	"strings"

	"extendvps/internal/config"
)

// Step is the workflow stage a page represents.
type Step int

const (
	Unknown Step = iota
	Login
	Dashboard
	RenewalRequest
	ChallengeSubmit
)

var stepNames = map[Step]string{
	Unknown:         "unknown",
	Login:           config.StepLogin,
	Dashboard:       config.StepDashboard,
	RenewalRequest:  config.StepRenewalRequest,
	ChallengeSubmit: config.StepChallengeSubmit,
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// ParseStep maps a configured step name to a Step.
func ParseStep(name string) (Step, bool) {
	for s, n := range stepNames {
		if s != Unknown && n == name {
			return s, true
		}
	}
	return Unknown, false
}

// Route maps a path prefix to a step.
type Route struct {
	Prefix string
	Step   Step
}

// Classifier matches paths against a route table. The longest matching
// prefix wins; table order only breaks ties between equal prefixes.
type Classifier struct {
	routes []Route
}

func NewClassifier(routes []config.RouteConfig) (*Classifier, error) {
	c := &Classifier{routes: make([]Route, 0, len(routes))}
	for _, r := range routes {
		step, ok := ParseStep(r.Step)
		if !ok {
			return nil, fmt.Errorf("route %q: unknown step %q", r.Prefix, r.Step)
		}
		if r.Prefix == "" {
			return nil, fmt.Errorf("route for %q has an empty prefix", r.Step)
		}
		c.routes = append(c.routes, Route{Prefix: r.Prefix, Step: step})
	}
	return c, nil
}

// Classify returns the step for a URL path, or Unknown.
func (c *Classifier) Classify(path string) Step {
	step, best := Unknown, -1
	for _, r := range c.routes {
		if len(r.Prefix) > best && strings.HasPrefix(path, r.Prefix) {
			step, best = r.Step, len(r.Prefix)
		}
	}
	return step
}

// ClassifyURL classifies the path component of a full URL.
func (c *Classifier) ClassifyURL(raw string) Step {
	u, err := url.Parse(raw)
	if err != nil {
		return Unknown
	}
	return c.Classify(u.Path)
}

// Routes returns a copy of the table in configured order.
func (c *Classifier) Routes() []Route {
	return append([]Route(nil), c.routes...)
}
