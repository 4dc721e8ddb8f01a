package policyengine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatcher_ExactAndPrefixPaths(t *testing.T) {
	m := newMatcher()
	assert.True(t, m.pathMatches("/v1/messages", "/v1/messages"))
	assert.True(t, m.pathMatches("/v1/", "/v1/messages"))
	assert.False(t, m.pathMatches("/v2/", "/v1/messages"))
}

func TestMatcher_GlobPaths(t *testing.T) {
	m := newMatcher()
	assert.True(t, m.pathMatches("/v1/*", "/v1/messages"))
	assert.False(t, m.pathMatches("/v1/*", "/v1/messages/extra"))
}

func TestMatcher_ModelGlobCaseInsensitive(t *testing.T) {
	m := newMatcher()
	assert.True(t, m.modelMatches("claude-*", "claude-3-opus"))
	assert.True(t, m.modelMatches("Claude-*", "claude-3-opus"))
	assert.False(t, m.modelMatches("claude-*", "gpt-4"))
	assert.True(t, m.modelMatches("*", "anything"))
}

func TestMatcher_MethodCaseInsensitive(t *testing.T) {
	assert.True(t, methodMatches([]string{"POST", "get"}, "post"))
	assert.False(t, methodMatches([]string{"POST"}, "DELETE"))
}

func TestMatcher_RejectsTooManyWildcards(t *testing.T) {
	m := newMatcher()
	pattern := "/" + strings.Repeat("*/", 6)
	assert.False(t, m.pathMatches(pattern, "/a/b/c/d/e/f/g"))
}

func TestMatcher_RejectsOverlongPattern(t *testing.T) {
	m := newMatcher()
	pattern := "/" + strings.Repeat("a", 250) + "*"
	assert.False(t, m.pathMatches(pattern, strings.Repeat("a", 250)))
}

func TestMatcher_NilMatchSpecNeverMatches(t *testing.T) {
	m := newMatcher()
	p := Policy{Name: "no-match-block", Enabled: true}
	assert.False(t, m.Matches(p, Request{Path: "/v1/x", Method: "POST", Model: "m"}))
}

func TestMatcher_AbsentCriteriaAreWildcard(t *testing.T) {
	m := newMatcher()
	p := Policy{
		Name:  "paths-only",
		Match: &MatchSpec{Paths: []string{"/v1/"}},
		Enabled: true,
	}
	assert.True(t, m.Matches(p, Request{Path: "/v1/x", Method: "DELETE", Model: "anything"}))
}
