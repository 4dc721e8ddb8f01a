package policyengine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicyFile(t *testing.T, path string, doc Document) {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// TestManager_PathMatching mirrors spec.md §8 end-to-end scenario 2.
func TestManager_PathMatching(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.json")
	writePolicyFile(t, path, Document{Policies: []Policy{
		{
			Name: "claude-v1",
			Match: &MatchSpec{
				Paths:   []string{"/v1/*"},
				Methods: []string{"POST"},
				Models:  []string{"claude-*"},
			},
			RetryBudget: 10,
			Enabled:     true,
			Priority:    5,
		},
	}})

	m := NewManager(path, nil)
	report, err := m.Load()
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, 1, report.PoliciesLoaded)

	matched := m.Match(Request{Path: "/v1/messages", Method: "POST", Model: "claude-3-opus"})
	assert.Equal(t, 10, matched.RetryBudget)
	assert.Equal(t, 30000, matched.MaxQueueTime)

	unmatched := m.Match(Request{Path: "/v2/messages", Method: "POST", Model: "claude-3-opus"})
	assert.Equal(t, 3, unmatched.RetryBudget)
}

func TestManager_PriorityOrderingAndDisabledSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.json")
	writePolicyFile(t, path, Document{Policies: []Policy{
		{Name: "low", Match: &MatchSpec{Paths: []string{"/"}}, Priority: 1, Enabled: true, RetryBudget: 1},
		{Name: "high", Match: &MatchSpec{Paths: []string{"/"}}, Priority: 10, Enabled: true, RetryBudget: 2},
		{Name: "highest-disabled", Match: &MatchSpec{Paths: []string{"/"}}, Priority: 99, Enabled: false, RetryBudget: 3},
	}})

	m := NewManager(path, nil)
	_, err := m.Load()
	require.NoError(t, err)

	matched := m.Match(Request{Path: "/anything", Method: "GET", Model: "m"})
	assert.Equal(t, 2, matched.RetryBudget)
}

func TestManager_AddUpdateRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.json")
	writePolicyFile(t, path, Document{})

	m := NewManager(path, nil)
	_, err := m.Load()
	require.NoError(t, err)

	require.NoError(t, m.Add(Policy{Name: "p1", Match: &MatchSpec{Paths: []string{"/"}}, Enabled: true, Priority: 1}))
	_, ok := m.Get("p1")
	assert.True(t, ok)

	require.NoError(t, m.Add(Policy{Name: "p1", Match: &MatchSpec{Paths: []string{"/"}}, Enabled: true, Priority: 1, RetryBudget: 7}))
	p, _ := m.Get("p1")
	assert.Equal(t, 7, p.RetryBudget)

	assert.True(t, m.Remove("p1"))
	_, ok = m.Get("p1")
	assert.False(t, ok)
	assert.False(t, m.Remove("p1"))
}

func TestManager_LoadMissingFileYieldsEmptySet(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "nonexistent.json"), nil)
	report, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, report.PoliciesLoaded)
}

func TestManager_InvalidPolicyDroppedWithWarning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.json")
	writePolicyFile(t, path, Document{Policies: []Policy{
		{Name: "", Match: &MatchSpec{Paths: []string{"/"}}, Enabled: true}, // missing required name
		{Name: "ok", Match: &MatchSpec{Paths: []string{"/"}}, Enabled: true},
	}})

	m := NewManager(path, nil)
	report, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, report.PoliciesLoaded)
	assert.Len(t, report.Errors, 1)
}

func TestManager_WatchDebouncesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.json")
	writePolicyFile(t, path, Document{})

	m := NewManager(path, nil)
	_, err := m.Load()
	require.NoError(t, err)

	reloads := make(chan ReloadReport, 4)
	require.NoError(t, m.Watch(func(r ReloadReport) { reloads <- r }))
	defer m.Unwatch()

	for i := 0; i < 3; i++ {
		writePolicyFile(t, path, Document{Policies: []Policy{
			{Name: "p", Match: &MatchSpec{Paths: []string{"/"}}, Enabled: true},
		}})
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case report := <-reloads:
		assert.True(t, report.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a debounced reload notification")
	}

	select {
	case extra := <-reloads:
		t.Fatalf("expected only one coalesced reload, got extra: %+v", extra)
	case <-time.After(500 * time.Millisecond):
	}
}
