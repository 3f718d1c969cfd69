// Package checkpoint implements the per (scan, space) resume position and
// status store on top of Redis hashes. The atomic merge-and-validate logic
// is shared, as a Lua script, with internal/redisx's per-item commit path
// so both entry points (the orchestrator's per-item write and this
// package's standalone Upsert) agree on transition legality and
// never-regress semantics.
package checkpoint

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/domain"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/redisx"
)

type Store struct {
	client *redis.Client
	script *redis.Script
}

func New(client *redis.Client) *Store {
	return &Store{client: client, script: redis.NewScript(upsertScript)}
}

// Upsert creates or merges the checkpoint for (scanId, spaceKey). Empty
// string fields preserve the previously stored value; progress nil
// preserves the previous value. Returns domain.ErrIllegalTransition if the
// requested status arc is not allowed.
func (s *Store) Upsert(ctx context.Context, scanID, spaceKey string, lastPageID, lastAttachmentName string, status domain.ScanStatus, progress *float64) error {
	progressArg := "-"
	if progress != nil {
		progressArg = fmt.Sprintf("%.1f", *progress)
	}

	_, err := s.script.Run(ctx, s.client,
		[]string{redisx.CheckpointKey(scanID, spaceKey)},
		scanID, spaceKey, lastPageID, lastAttachmentName, string(status), progressArg, time.Now().UTC().Format(time.RFC3339),
	).Result()
	if err != nil {
		if redisx.IsIllegalTransition(err) {
			return fmt.Errorf("checkpoint: %s/%s: %w: %v", scanID, spaceKey, domain.ErrIllegalTransition, err)
		}
		return fmt.Errorf("checkpoint: upsert %s/%s: %w", scanID, spaceKey, domain.ErrPersistence)
	}
	return nil
}

// FindBy returns the checkpoint for (scanId, spaceKey), or nil if absent.
func (s *Store) FindBy(ctx context.Context, scanID, spaceKey string) (*domain.ScanCheckpoint, error) {
	return s.readHash(ctx, redisx.CheckpointKey(scanID, spaceKey))
}

// FindByScan returns every checkpoint belonging to scanID.
func (s *Store) FindByScan(ctx context.Context, scanID string) ([]domain.ScanCheckpoint, error) {
	keys, err := s.scanKeys(ctx, redisx.CheckpointScanPattern(scanID))
	if err != nil {
		return nil, err
	}
	return s.readHashes(ctx, keys)
}

// FindBySpace returns every checkpoint (across all scans) for spaceKey.
func (s *Store) FindBySpace(ctx context.Context, spaceKey string) ([]domain.ScanCheckpoint, error) {
	keys, err := s.scanKeys(ctx, fmt.Sprintf("checkpoint:*:%s", spaceKey))
	if err != nil {
		return nil, err
	}
	return s.readHashes(ctx, keys)
}

// FindLatestBySpace returns the most recently updated checkpoint for
// spaceKey across all scans, or nil if none exists.
func (s *Store) FindLatestBySpace(ctx context.Context, spaceKey string) (*domain.ScanCheckpoint, error) {
	all, err := s.FindBySpace(ctx, spaceKey)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	latest := all[0]
	for _, cp := range all[1:] {
		if cp.UpdatedAt.After(latest.UpdatedAt) {
			latest = cp
		}
	}
	return &latest, nil
}

// FindRunning returns the single RUNNING checkpoint of scanID, if any.
func (s *Store) FindRunning(ctx context.Context, scanID string) (*domain.ScanCheckpoint, error) {
	checkpoints, err := s.FindByScan(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: find running for scan %s: %w", scanID, err)
	}
	for i := range checkpoints {
		if checkpoints[i].Status == domain.StatusRunning {
			return &checkpoints[i], nil
		}
	}
	return nil, nil
}

// DeleteByScan removes every checkpoint and the running-set marker for scanID.
func (s *Store) DeleteByScan(ctx context.Context, scanID string) error {
	keys, err := s.scanKeys(ctx, redisx.CheckpointScanPattern(scanID))
	if err != nil {
		return err
	}
	keys = append(keys, redisx.RunningSetKey(scanID))
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("checkpoint: delete by scan %s: %w", scanID, err)
	}
	return nil
}

// DeleteActive removes every RUNNING checkpoint across every scan.
func (s *Store) DeleteActive(ctx context.Context) error {
	running, err := s.FindAllRunning(ctx)
	if err != nil {
		return err
	}
	if len(running) == 0 {
		return nil
	}
	keys := make([]string, len(running))
	for i, cp := range running {
		keys[i] = redisx.CheckpointKey(cp.ScanID, cp.SpaceKey)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("checkpoint: delete active: %w", err)
	}
	return nil
}

// FindAllRunning returns every checkpoint across every scan currently in
// RUNNING status, used by the engine's startup sweep to find checkpoints
// orphaned by a process crash that skipped the pause transition.
func (s *Store) FindAllRunning(ctx context.Context) ([]domain.ScanCheckpoint, error) {
	keys, err := s.scanKeys(ctx, "checkpoint:*:*")
	if err != nil {
		return nil, err
	}
	checkpoints, err := s.readHashes(ctx, keys)
	if err != nil {
		return nil, err
	}
	running := checkpoints[:0]
	for _, cp := range checkpoints {
		if cp.Status == domain.StatusRunning {
			running = append(running, cp)
		}
	}
	return running, nil
}

// DeleteActiveForSpaces removes RUNNING checkpoints restricted to spaceKeys.
func (s *Store) DeleteActiveForSpaces(ctx context.Context, spaceKeys []string) error {
	for _, spaceKey := range spaceKeys {
		checkpoints, err := s.FindBySpace(ctx, spaceKey)
		if err != nil {
			return err
		}
		for _, cp := range checkpoints {
			if cp.Status == domain.StatusRunning {
				if err := s.client.Del(ctx, redisx.CheckpointKey(cp.ScanID, cp.SpaceKey)).Err(); err != nil {
					return fmt.Errorf("checkpoint: delete active for space %s: %w", spaceKey, err)
				}
			}
		}
	}
	return nil
}

func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("checkpoint: scan keys %q: %w", pattern, err)
	}
	return keys, nil
}

func (s *Store) readHashes(ctx context.Context, keys []string) ([]domain.ScanCheckpoint, error) {
	out := make([]domain.ScanCheckpoint, 0, len(keys))
	for _, key := range keys {
		cp, err := s.readHash(ctx, key)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			out = append(out, *cp)
		}
	}
	return out, nil
}

func (s *Store) readHash(ctx context.Context, key string) (*domain.ScanCheckpoint, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	progress, _ := strconv.ParseFloat(fields["progressPercentage"], 64)
	updatedAt, _ := time.Parse(time.RFC3339, fields["updatedAt"])

	lastAttachment := fields["lastProcessedAttachmentName"]
	if lastAttachment == redisx.NoAttachmentSentinel {
		lastAttachment = ""
	}

	return &domain.ScanCheckpoint{
		ScanID:                      fields["scanId"],
		SpaceKey:                    fields["spaceKey"],
		LastProcessedPageID:         fields["lastProcessedPageId"],
		LastProcessedAttachmentName: lastAttachment,
		Status:                      domain.ScanStatus(fields["status"]),
		ProgressPercentage:          progress,
		UpdatedAt:                   updatedAt,
	}, nil
}

