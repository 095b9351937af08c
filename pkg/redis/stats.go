package redis

import (
	"context"
	"time"
)

// StatsStore mirrors the Usage Stats hour buckets. Each hour is one hash
// keyed by "antigravity:stats:<hour>", with fields "_total",
// "<family>:_subtotal", and "<family>:<model>" so a whole bucket can be
// bumped with plain HINCRBY calls.
type StatsStore struct {
	client *Client
}

// NewStatsStore wraps a connected client. internal/usage owns the bucket
// layout; this store only translates it into hash operations.
func NewStatsStore(client *Client) *StatsStore {
	return &StatsStore{client: client}
}

// statsTTL keeps mirrored buckets from outliving the on-disk history they
// shadow.
const statsTTL = 30 * 24 * time.Hour

func statsKey(hour string) string {
	return PrefixStats + hour
}

func currentHourKey() string {
	return time.Now().UTC().Format("2006-01-02T15")
}

// RecordRequest bumps the current-hour counters for one request.
func (s *StatsStore) RecordRequest(ctx context.Context, modelFamily, modelShortName string) error {
	key := statsKey(currentHourKey())

	for _, field := range []string{
		"_total",
		modelFamily + ":_subtotal",
		modelFamily + ":" + modelShortName,
	} {
		if _, err := s.client.HIncrBy(ctx, key, field, 1); err != nil {
			return err
		}
	}

	return s.client.Expire(ctx, key, statsTTL)
}

// PruneOldStats deletes mirrored buckets older than the retention window and
// returns how many were removed. Hour keys sort lexicographically, so the
// cutoff is a plain string comparison.
func (s *StatsStore) PruneOldStats(ctx context.Context, days int) (int, error) {
	keys, err := s.client.ScanAll(ctx, PrefixStats+"*")
	if err != nil {
		return 0, err
	}

	cutoff := statsKey(time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02T15"))
	pruned := 0
	for _, key := range keys {
		if key >= cutoff {
			continue
		}
		if err := s.client.Delete(ctx, key); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}
