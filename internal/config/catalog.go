package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// ModelCatalogEntry describes one upstream model: its home tier, cost,
// capability flags, and the key IDs that may serve it. This is the
// engine's own input format, distinct from model-routing.json (which
// only ever names tiers and rule targets, never cost or concurrency).
type ModelCatalogEntry struct {
	ID                string   `json:"id"`
	HomeTier          string   `json:"homeTier"`
	CostInputPerM     float64  `json:"costInputPerM"`
	CostOutputPerM    float64  `json:"costOutputPerM"`
	MaxConcurrency    int      `json:"maxConcurrency"`
	SupportsVision    bool     `json:"supportsVision"`
	SupportsStreaming bool     `json:"supportsStreaming"`
	ContextLength     int      `json:"contextLength"`
	KeyIDs            []string `json:"keyIds"`
}

// KeyCatalogEntry describes one upstream credential's breaker/
// concurrency overrides. Zero-valued fields fall back to
// KeyPoolConfig's pool-wide defaults.
type KeyCatalogEntry struct {
	ID               string `json:"id"`
	MaxConcurrency   int    `json:"maxConcurrency,omitempty"`
	FailureThreshold int    `json:"failureThreshold,omitempty"`
	HalfOpenProbes   int    `json:"halfOpenProbes,omitempty"`
}

// Catalog is the full model/key inventory cmd/proxyserver loads at
// startup to build the Model Router's model table and register the Key
// Manager's keys.
type Catalog struct {
	Models []ModelCatalogEntry `json:"models"`
	Keys   []KeyCatalogEntry   `json:"keys"`
}

// LoadCatalog reads and parses the catalog file at path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}
	return &c, nil
}
