// Package counters implements the per (scan, space) aggregated
// HIGH/MEDIUM/LOW severity counts. Increment never reads-then-writes in
// application code; it is a single HINCRBY per field, letting Redis
// resolve the race between concurrent orchestrators.
package counters

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/domain"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/redisx"
)

type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Increment adds the given deltas to (scanId, spaceKey)'s counts,
// creating the row on first touch. Negative deltas are rejected before
// any Redis call is made.
func (s *Store) Increment(ctx context.Context, scanID, spaceKey string, deltaHigh, deltaMedium, deltaLow int64) error {
	if deltaHigh < 0 || deltaMedium < 0 || deltaLow < 0 {
		return fmt.Errorf("counters: negative delta rejected (high=%d medium=%d low=%d)", deltaHigh, deltaMedium, deltaLow)
	}

	key := redisx.CounterKey(scanID, spaceKey)
	pipe := s.client.TxPipeline()
	if deltaHigh > 0 {
		pipe.HIncrBy(ctx, key, "high", deltaHigh)
	}
	if deltaMedium > 0 {
		pipe.HIncrBy(ctx, key, "medium", deltaMedium)
	}
	if deltaLow > 0 {
		pipe.HIncrBy(ctx, key, "low", deltaLow)
	}
	pipe.HSetNX(ctx, key, "scanId", scanID)
	pipe.HSetNX(ctx, key, "spaceKey", spaceKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("counters: increment %s/%s: %w", scanID, spaceKey, domain.ErrPersistence)
	}
	return nil
}

// Get returns the current counts for (scanId, spaceKey), zero-valued if
// the pair has never been touched.
func (s *Store) Get(ctx context.Context, scanID, spaceKey string) (domain.SeverityCount, error) {
	fields, err := s.client.HGetAll(ctx, redisx.CounterKey(scanID, spaceKey)).Result()
	if err != nil {
		return domain.SeverityCount{}, fmt.Errorf("counters: get %s/%s: %w", scanID, spaceKey, err)
	}
	return parseCount(scanID, spaceKey, fields), nil
}

// ListByScan returns the counts for every space touched in scanID.
func (s *Store) ListByScan(ctx context.Context, scanID string) ([]domain.SeverityCount, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, redisx.CounterScanPattern(scanID), 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("counters: list by scan %s: %w", scanID, err)
	}

	out := make([]domain.SeverityCount, 0, len(keys))
	for _, key := range keys {
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("counters: read %s: %w", key, err)
		}
		spaceKey := redisx.SpaceKeyFromCounterKey(scanID, key)
		out = append(out, parseCount(scanID, spaceKey, fields))
	}
	return out, nil
}

// DeleteByScan removes every counter row for scanID.
func (s *Store) DeleteByScan(ctx context.Context, scanID string) error {
	var keys []string
	iter := s.client.Scan(ctx, 0, redisx.CounterScanPattern(scanID), 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("counters: delete by scan %s: %w", scanID, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("counters: delete by scan %s: %w", scanID, err)
	}
	return nil
}

func parseCount(scanID, spaceKey string, fields map[string]string) domain.SeverityCount {
	high, _ := strconv.ParseInt(fields["high"], 10, 64)
	medium, _ := strconv.ParseInt(fields["medium"], 10, 64)
	low, _ := strconv.ParseInt(fields["low"], 10, 64)
	return domain.SeverityCount{ScanID: scanID, SpaceKey: spaceKey, High: high, Medium: medium, Low: low}
}
