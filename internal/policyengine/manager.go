package policyengine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow is the hot-reload coalescing window from spec.md §4.2.
const debounceWindow = 300 * time.Millisecond

// Manager owns the current policy set and its optional file watcher.
// Reads (Match) never block writers and vice versa: updates swap an
// immutable snapshot, mirroring the read-mostly registry pattern spec.md
// §5 requires for global registries.
type Manager struct {
	mu       sync.RWMutex
	policies []Policy // sorted descending by priority
	matcher  *matcher
	logger   *slog.Logger

	policyPath string
	watcher    *fsnotify.Watcher
	onReload   func(ReloadReport)

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	stopOnce sync.Once
	done     chan struct{}
}

// NewManager constructs an empty Manager. Call Load to populate it from
// disk, and Watch to enable hot reload.
func NewManager(policyPath string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		matcher:    newMatcher(),
		logger:     logger,
		policyPath: policyPath,
		done:       make(chan struct{}),
	}
}

// Load reads and validates the policy document at m.policyPath. Invalid
// entries are dropped with a warning logged rather than failing the
// whole load, matching the hot-reload tolerance spec.md §4.2 requires.
func (m *Manager) Load() (ReloadReport, error) {
	data, err := os.ReadFile(m.policyPath)
	if err != nil {
		if os.IsNotExist(err) {
			m.setPolicies(nil)
			return ReloadReport{Success: true, PoliciesLoaded: 0}, nil
		}
		return ReloadReport{}, fmt.Errorf("read policy file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return ReloadReport{}, fmt.Errorf("parse policy file: %w", err)
	}

	var valid []Policy
	var errs []string
	for _, p := range doc.Policies {
		if err := validatePolicy(p); err != nil {
			m.logger.Warn("dropping invalid policy", "policy", p.Name, "error", err)
			errs = append(errs, err.Error())
			continue
		}
		valid = append(valid, p)
	}

	m.setPolicies(valid)
	return ReloadReport{Success: true, PoliciesLoaded: len(valid), Errors: errs}, nil
}

func (m *Manager) setPolicies(policies []Policy) {
	sorted := append([]Policy(nil), policies...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	m.mu.Lock()
	m.policies = sorted
	m.mu.Unlock()
}

// Match returns the highest-priority enabled policy matching req,
// deep-merged over the default policy, or the default policy alone if
// nothing matches — spec.md §4.2 and §8 property "match(R) picks a
// policy of highest priority among enabled matching policies, or the
// default."
func (m *Manager) Match(req Request) Policy {
	m.mu.RLock()
	policies := m.policies
	m.mu.RUnlock()

	base := DefaultPolicy()
	for _, p := range policies {
		if !p.Enabled || p.Match == nil {
			continue
		}
		if m.matcher.Matches(p, req) {
			return mergeOver(base, p)
		}
	}
	return base
}

// List returns a snapshot of the current policy set, highest priority
// first.
func (m *Manager) List() []Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Policy(nil), m.policies...)
}

// Get returns a named policy, if present.
func (m *Manager) Get(name string) (Policy, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.policies {
		if p.Name == name {
			return p, true
		}
	}
	return Policy{}, false
}

// Add inserts or replaces a policy by name after validating it.
func (m *Manager) Add(p Policy) error {
	if err := validatePolicy(p); err != nil {
		return err
	}
	m.mu.Lock()
	replaced := false
	next := make([]Policy, 0, len(m.policies)+1)
	for _, existing := range m.policies {
		if existing.Name == p.Name {
			next = append(next, p)
			replaced = true
			continue
		}
		next = append(next, existing)
	}
	if !replaced {
		next = append(next, p)
	}
	m.mu.Unlock()

	m.setPolicies(next)
	return nil
}

// Remove deletes a named policy. Returns false if it did not exist.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	next := make([]Policy, 0, len(m.policies))
	removed := false
	for _, existing := range m.policies {
		if existing.Name == name {
			removed = true
			continue
		}
		next = append(next, existing)
	}
	m.mu.Unlock()

	if removed {
		m.setPolicies(next)
	}
	return removed
}

// Watch starts a filesystem watcher on the policy file's directory and
// debounces reloads by debounceWindow, invoking onReload after each
// attempt. Watch is idempotent; calling it twice is a no-op.
func (m *Manager) Watch(onReload func(ReloadReport)) error {
	m.mu.Lock()
	if m.watcher != nil {
		m.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("create watcher: %w", err)
	}
	m.watcher = watcher
	m.onReload = onReload
	m.mu.Unlock()

	dir := filepath.Dir(m.policyPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}

	go m.watchLoop(watcher)
	return nil
}

func (m *Manager) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.policyPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				m.scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("policy watcher error", "error", err)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) scheduleReload() {
	m.debounceMu.Lock()
	defer m.debounceMu.Unlock()

	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
	}
	m.debounceTimer = time.AfterFunc(debounceWindow, func() {
		report, err := m.Load()
		if err != nil {
			report = ReloadReport{Success: false, Errors: []string{err.Error()}}
		}
		m.mu.RLock()
		cb := m.onReload
		m.mu.RUnlock()
		if cb != nil {
			cb(report)
		}
	})
}

// Unwatch stops the file watcher and any pending debounce timer. It is
// idempotent and safe to call even if Watch was never invoked, matching
// spec.md §5's requirement that every background timer has an
// idempotent stop.
func (m *Manager) Unwatch() error {
	m.stopOnce.Do(func() {
		close(m.done)
	})

	m.debounceMu.Lock()
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
	}
	m.debounceMu.Unlock()

	m.mu.Lock()
	watcher := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	if watcher != nil {
		return watcher.Close()
	}
	return nil
}
