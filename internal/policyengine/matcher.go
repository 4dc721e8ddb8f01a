package policyengine

import (
	"regexp"
	"strings"

	"github.com/vitaliisemenov/llm-key-proxy/internal/ring"
)

// maxWildcards and maxPatternLength are the ReDoS guards from spec.md
// §4.2: patterns past either bound are treated as no-match rather than
// compiled.
const (
	maxWildcards     = 5
	maxPatternLength = 200
)

// regexCacheSize bounds the compiled-pattern cache shared by path and
// model matching, reusing internal/ring's recency map the same way the
// teacher's RouteMatcher reuses its RegexCache.
const regexCacheSize = 1000

// matcher evaluates MatchSpecs against requests, caching compiled glob
// patterns so repeated matches against the same policy set don't
// recompile regexes per request.
type matcher struct {
	cache *ring.LRUMap[string, *regexp.Regexp]
}

func newMatcher() *matcher {
	return &matcher{cache: ring.NewLRUMap[string, *regexp.Regexp](regexCacheSize, nil)}
}

// Matches reports whether policy p's match spec is satisfied by req.
// A nil Match spec never matches (spec.md §4.2: "policies ... without a
// match block are skipped").
func (m *matcher) Matches(p Policy, req Request) bool {
	if p.Match == nil {
		return false
	}
	spec := p.Match

	if len(spec.Paths) > 0 && !m.anyPathMatches(spec.Paths, req.Path) {
		return false
	}
	if len(spec.Methods) > 0 && !methodMatches(spec.Methods, req.Method) {
		return false
	}
	if len(spec.Models) > 0 && !m.anyModelMatches(spec.Models, req.Model) {
		return false
	}
	return true
}

func methodMatches(methods []string, method string) bool {
	method = strings.ToLower(method)
	for _, candidate := range methods {
		if strings.ToLower(candidate) == method {
			return true
		}
	}
	return false
}

func (m *matcher) anyPathMatches(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if m.pathMatches(pattern, path) {
			return true
		}
	}
	return false
}

func (m *matcher) pathMatches(pattern, path string) bool {
	if pattern == path {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return strings.HasPrefix(path, pattern)
	}
	re, ok := m.compileGlob("path:"+pattern, pattern, "[^/]*", false)
	if !ok {
		return false
	}
	return re.MatchString(path)
}

func (m *matcher) anyModelMatches(patterns []string, model string) bool {
	for _, pattern := range patterns {
		if m.modelMatches(pattern, model) {
			return true
		}
	}
	return false
}

func (m *matcher) modelMatches(pattern, model string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return strings.EqualFold(pattern, model)
	}
	re, ok := m.compileGlob("model:"+pattern, pattern, ".*?", true)
	if !ok {
		return false
	}
	return re.MatchString(model)
}

// compileGlob compiles pattern (with '*' rewritten to wildcardExpr) into
// a cached, anchored regex. Returns ok=false if the pattern trips the
// ReDoS guards, which callers treat as a non-match.
func (m *matcher) compileGlob(cacheKey, pattern, wildcardExpr string, caseInsensitive bool) (*regexp.Regexp, bool) {
	if len(pattern) > maxPatternLength || strings.Count(pattern, "*") > maxWildcards {
		return nil, false
	}

	if re, ok := m.cache.Get(cacheKey); ok {
		return re, true
	}

	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	exprBody := strings.Join(parts, wildcardExpr)
	expr := "^" + exprBody + "$"
	if caseInsensitive {
		expr = "(?i)" + expr
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, false
	}
	m.cache.Set(cacheKey, re)
	return re, true
}
