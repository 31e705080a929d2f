package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extendvps/internal/config"
)

func defaultClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier(config.DefaultConfig().Site.Routes)
	require.NoError(t, err)
	return c
}

func TestClassify(t *testing.T) {
	c := defaultClassifier(t)
	tests := []struct {
		path string
		want Step
	}{
		{"/xapanel/login/xvps/", Login},
		{"/xapanel/login/xvps", Login},
		{"/xapanel/xvps/index", Dashboard},
		{"/xapanel/xvps/server/freevps/extend/index", RenewalRequest},
		{"/xapanel/xvps/server/freevps/extend/conf", ChallengeSubmit},
		{"/xapanel/xvps/server/freevps/extend/do", ChallengeSubmit},
		{"/xapanel/xvps/server/detail", Unknown},
		{"/", Unknown},
		{"", Unknown},
		{"/xapanel/login/xserver/", Unknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Classify(tt.path), tt.path)
	}
}

func TestClassifyURLIgnoresQuery(t *testing.T) {
	c := defaultClassifier(t)
	assert.Equal(t, RenewalRequest, c.ClassifyURL("https://secure.xserver.ne.jp/xapanel/xvps/server/freevps/extend/index?id_vps=12345"))
	assert.Equal(t, Unknown, c.ClassifyURL("https://secure.xserver.ne.jp/?next=/xapanel/xvps/index"))
	assert.Equal(t, Unknown, c.ClassifyURL("::not a url"))
}

func TestClassifierLongestPrefixWins(t *testing.T) {
	tables := map[string][]config.RouteConfig{
		"specific first": {
			{Prefix: "/a/b", Step: config.StepChallengeSubmit},
			{Prefix: "/a", Step: config.StepDashboard},
		},
		"general first": {
			{Prefix: "/a", Step: config.StepDashboard},
			{Prefix: "/a/b", Step: config.StepChallengeSubmit},
		},
	}
	for name, routes := range tables {
		t.Run(name, func(t *testing.T) {
			c, err := NewClassifier(routes)
			require.NoError(t, err)
			assert.Equal(t, ChallengeSubmit, c.Classify("/a/b/c"))
			assert.Equal(t, Dashboard, c.Classify("/a/c"))
			assert.Len(t, c.Routes(), 2)
		})
	}
}

func TestClassifyReorderedPanelRoutes(t *testing.T) {
	c, err := NewClassifier([]config.RouteConfig{
		{Prefix: "/xapanel/xvps", Step: config.StepDashboard},
		{Prefix: "/xapanel/xvps/server/freevps/extend/index", Step: config.StepRenewalRequest},
	})
	require.NoError(t, err)
	assert.Equal(t, RenewalRequest, c.Classify("/xapanel/xvps/server/freevps/extend/index"))
	assert.Equal(t, Dashboard, c.Classify("/xapanel/xvps/index"))
}

func TestClassifyEqualPrefixKeepsTableOrder(t *testing.T) {
	c, err := NewClassifier([]config.RouteConfig{
		{Prefix: "/a", Step: config.StepLogin},
		{Prefix: "/a", Step: config.StepDashboard},
	})
	require.NoError(t, err)
	assert.Equal(t, Login, c.Classify("/a/x"))
}

func TestNewClassifierRejectsBadRoutes(t *testing.T) {
	_, err := NewClassifier([]config.RouteConfig{{Prefix: "/x", Step: "teleport"}})
	assert.Error(t, err)
	_, err = NewClassifier([]config.RouteConfig{{Prefix: "", Step: config.StepLogin}})
	assert.Error(t, err)
}

func TestStepNames(t *testing.T) {
	for _, s := range []Step{Login, Dashboard, RenewalRequest, ChallengeSubmit} {
		got, ok := ParseStep(s.String())
		require.True(t, ok, s.String())
		assert.Equal(t, s, got)
	}
	_, ok := ParseStep("unknown")
	assert.False(t, ok)
	assert.Equal(t, "step(42)", Step(42).String())
}
