// Package state persists small JSON documents that survive across runs:
// the discovered sitemap set and the coarse run statistics.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Well-known keys.
const (
	KeySitemaps = "SITEMAPS"
	KeyStats    = "STATS"
)

// ErrNotFound is returned by Store.Load when a key has never been saved.
var ErrNotFound = errors.New("state key not found")

// Store is a key-value blob store.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

// RunStats is the coarse run summary persisted under KeyStats.
type RunStats struct {
	RunID      string    `json:"runId"`
	Phase      string    `json:"phase,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
	Seeds      int       `json:"seeds"`
	Sitemaps   int       `json:"sitemaps"`
	Targets    int       `json:"targets"`
	Records    int64     `json:"records"`
	Failed     int64     `json:"failed"`
	Aborted    bool      `json:"aborted,omitempty"`
}

// GetJSON decodes key into dst. It reports false when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	data, err := s.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// PutJSON encodes v and saves it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Save(ctx, key, data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// LoadSitemaps returns the previously persisted sitemap URLs.
func LoadSitemaps(ctx context.Context, s Store) ([]string, error) {
	var urls []string
	if _, err := GetJSON(ctx, s, KeySitemaps, &urls); err != nil {
		return nil, err
	}
	return urls, nil
}

// SaveSitemaps persists the sitemap URLs.
func SaveSitemaps(ctx context.Context, s Store, urls []string) error {
	if urls == nil {
		urls = []string{}
	}
	return PutJSON(ctx, s, KeySitemaps, urls)
}

// SaveStats persists the run summary.
func SaveStats(ctx context.Context, s Store, stats RunStats) error {
	return PutJSON(ctx, s, KeyStats, stats)
}

// LoadStats returns the last persisted run summary, if any.
func LoadStats(ctx context.Context, s Store) (RunStats, bool, error) {
	var stats RunStats
	ok, err := GetJSON(ctx, s, KeyStats, &stats)
	return stats, ok, err
}
