package routingconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Marker is the sidecar file recording the hash of the last-persisted
// normalized config, per spec.md §3 MigrationMarker.
type Marker struct {
	Hash       string    `json:"hash"`
	MigratedAt time.Time `json:"migratedAt"`
}

// Store persists a normalized Config to configPath, guarded by a
// content-hash marker at configPath+".model-routing.migrated" so
// byte-identical writes are skipped (spec.md §4.1 persistence protocol,
// §9 "preserve that literal" on the marker filename).
type Store struct {
	configPath string
	markerPath string
}

// NewStore builds a Store rooted at configPath. The marker filename is
// constructed by literal suffix-append, not a dotfile rename, per
// spec.md §9.
func NewStore(configPath string) *Store {
	return &Store{
		configPath: configPath,
		markerPath: configPath + ".model-routing.migrated",
	}
}

// ComputeHash returns the hex-encoded SHA-256 digest of cfg's canonical
// JSON encoding. encoding/json already sorts map keys and preserves
// struct field declaration order, which is sufficient canonicalization
// for our purposes — no separate canonicalization library is warranted.
func ComputeHash(cfg Config) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// LoadMarker reads the existing marker, if any. A missing marker file is
// not an error; it simply means no prior persisted config is known.
func (s *Store) LoadMarker() (*Marker, error) {
	data, err := os.ReadFile(s.markerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Persist writes cfg and its marker atomically when the newly computed
// hash differs from the stored marker hash; it is a no-op when they
// match. Filesystem failures (read-only mount, missing directory,
// permission denied) are caught and returned as a warning string rather
// than an error — the in-memory config is never affected by a
// persistence failure, per spec.md §4.1.
func (s *Store) Persist(cfg Config, now time.Time) (persisted bool, warning string, err error) {
	hash, err := ComputeHash(cfg)
	if err != nil {
		return false, "", err
	}

	existing, loadErr := s.LoadMarker()
	if loadErr == nil && existing != nil && existing.Hash == hash {
		return false, "", nil
	}

	configData, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return false, "", err
	}
	marker := Marker{Hash: hash, MigratedAt: now}
	markerData, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return false, "", err
	}

	if werr := atomicWrite(s.configPath, configData); werr != nil {
		return false, fmt.Sprintf("persist skipped: %v", werr), nil
	}
	if werr := atomicWrite(s.markerPath, markerData); werr != nil {
		return false, fmt.Sprintf("marker write skipped: %v", werr), nil
	}

	return true, "", nil
}

// atomicWrite writes data to a temp file in the same directory as path
// and renames it into place, so readers never observe a partial write.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
