// Package usage implements the hour-bucketed request counter. The on-disk
// JSON history file is the source of truth; Redis, when configured, is only
// ever a write-through mirror so the counters survive even when no cache is
// wired up.
package usage

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/antigravity-core/antigravity-proxy-go/internal/utils"
	"github.com/antigravity-core/antigravity-proxy-go/pkg/redis"
)

// FamilyStats is the per-family bucket within an hour: a subtotal plus a
// breakdown by short model name.
type FamilyStats struct {
	Subtotal int64            `json:"_subtotal"`
	Models   map[string]int64 `json:"models"`
}

// HourlyStats is one hour's worth of request counts.
type HourlyStats struct {
	Total    int64                   `json:"_total"`
	Families map[string]*FamilyStats `json:"families"`
}

// Stats tracks request counts per hour, persisted to a JSON file and
// optionally mirrored to Redis.
type Stats struct {
	mu      sync.Mutex
	path    string
	buckets map[string]*HourlyStats // hour key ("2006-01-02T15") -> stats

	statsStore *redis.StatsStore

	stopChan    chan struct{}
	initialized bool
}

// New creates a Stats tracker backed by the JSON file at path. redisClient
// may be nil.
func New(path string, redisClient *redis.Client) *Stats {
	var store *redis.StatsStore
	if redisClient != nil {
		store = redis.NewStatsStore(redisClient)
	}
	return &Stats{
		path:       path,
		buckets:    make(map[string]*HourlyStats),
		statsStore: store,
		stopChan:   make(chan struct{}),
	}
}

// Load reads the JSON history file. A missing file is not an error.
func (s *Stats) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var buckets map[string]*HourlyStats
	if err := json.Unmarshal(data, &buckets); err != nil {
		return err
	}
	s.buckets = buckets
	return nil
}

// Save writes the JSON history file atomically.
func (s *Stats) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Stats) saveLocked() error {
	if err := utils.EnsureParentDir(s.path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.buckets, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Initialize starts the background hourly-prune loop (30-day retention).
func (s *Stats) Initialize() {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return
	}
	s.initialized = true
	s.mu.Unlock()

	go s.backgroundPrune()
	utils.Info("[UsageStats] module initialized")
}

// Shutdown stops the background prune loop and flushes to disk.
func (s *Stats) Shutdown() {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return
	}
	s.initialized = false
	s.mu.Unlock()

	close(s.stopChan)
	if err := s.Save(); err != nil {
		utils.Warn("[UsageStats] failed to flush on shutdown: %v", err)
	}
	utils.Info("[UsageStats] module shutdown")
}

func (s *Stats) backgroundPrune() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			pruned := s.pruneOlderThan(30 * 24 * time.Hour)
			if pruned > 0 {
				utils.Debug("[UsageStats] pruned %d old entries", pruned)
			}
			if s.statsStore != nil {
				ctx := context.Background()
				if _, err := s.statsStore.PruneOldStats(ctx, 30); err != nil {
					utils.Warn("[UsageStats] failed to prune redis mirror: %v", err)
				}
			}
		}
	}
}

func (s *Stats) pruneOlderThan(age time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-age)
	pruned := 0
	for key := range s.buckets {
		t, err := time.Parse("2006-01-02T15", key)
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			delete(s.buckets, key)
			pruned++
		}
	}
	if pruned > 0 {
		_ = s.saveLocked()
	}
	return pruned
}

// Track records one request for modelID against the current hour bucket.
func (s *Stats) Track(modelID string) {
	family := GetFamily(modelID)
	shortName := GetShortName(modelID, family)

	s.mu.Lock()
	hourKey := time.Now().UTC().Format("2006-01-02T15")
	bucket, ok := s.buckets[hourKey]
	if !ok {
		bucket = &HourlyStats{Families: make(map[string]*FamilyStats)}
		s.buckets[hourKey] = bucket
	}
	bucket.Total++
	fam, ok := bucket.Families[family]
	if !ok {
		fam = &FamilyStats{Models: make(map[string]int64)}
		bucket.Families[family] = fam
	}
	fam.Subtotal++
	fam.Models[shortName]++
	err := s.saveLocked()
	s.mu.Unlock()

	if err != nil {
		utils.Debug("[UsageStats] failed to persist after track: %v", err)
	}

	if s.statsStore != nil {
		ctx := context.Background()
		if err := s.statsStore.RecordRequest(ctx, family, shortName); err != nil {
			utils.Debug("[UsageStats] failed to mirror to redis: %v", err)
		}
	}
}

// GetFamily extracts a model family from a model id.
func GetFamily(modelID string) string {
	lower := strings.ToLower(modelID)
	switch {
	case strings.Contains(lower, "claude"):
		return "claude"
	case strings.Contains(lower, "gemini"):
		return "gemini"
	default:
		return "other"
	}
}

// GetShortName strips the family prefix from a model id, e.g.
// "claude-opus-4-5" with family "claude" becomes "opus-4-5".
func GetShortName(modelID, family string) string {
	if family == "other" {
		return modelID
	}
	prefix := family + "-"
	lower := strings.ToLower(modelID)
	if strings.HasPrefix(lower, prefix) {
		return modelID[len(prefix):]
	}
	return modelID
}

// History returns a copy of all hourly buckets, keyed by hour.
func (s *Stats) History() map[string]*HourlyStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*HourlyStats, len(s.buckets))
	for k, v := range s.buckets {
		out[k] = v
	}
	return out
}

// SortedHistoryKeys returns the bucket hour keys in chronological order.
func (s *Stats) SortedHistoryKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.buckets))
	for k := range s.buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
