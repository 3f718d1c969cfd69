package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/domain"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/redisx"
)

// scanMetaStore persists the Scan record (startedAt, status, spacesCount)
// and the "most recent scanId" pointer the /scans/last family of read
// endpoints and purgeAll key off of. It is engine-internal glue, not a
// separately specified component: the checkpoint and counter stores are
// keyed by (scanId, spaceKey); this record, like the event log, is keyed
// by scanId alone.
type scanMetaStore struct {
	client *redis.Client
}

func newScanMetaStore(client *redis.Client) *scanMetaStore {
	return &scanMetaStore{client: client}
}

func (s *scanMetaStore) create(ctx context.Context, scan domain.Scan) error {
	key := redisx.ScanMetaKey(scan.ScanID)
	if err := s.client.HSet(ctx, key,
		"scanId", scan.ScanID,
		"startedAt", scan.StartedAt.UTC().Format(time.RFC3339),
		"status", string(scan.Status),
		"spacesCount", scan.SpacesCount,
	).Err(); err != nil {
		return fmt.Errorf("engine: create scan meta %s: %w", scan.ScanID, err)
	}
	if err := s.client.Set(ctx, redisx.LastScanKey(), scan.ScanID, 0).Err(); err != nil {
		return fmt.Errorf("engine: set last scan pointer: %w", err)
	}
	return nil
}

func (s *scanMetaStore) updateStatus(ctx context.Context, scanID string, status domain.ScanStatus) error {
	if err := s.client.HSet(ctx, redisx.ScanMetaKey(scanID), "status", string(status)).Err(); err != nil {
		return fmt.Errorf("engine: update scan status %s: %w", scanID, err)
	}
	return nil
}

func (s *scanMetaStore) get(ctx context.Context, scanID string) (*domain.Scan, error) {
	fields, err := s.client.HGetAll(ctx, redisx.ScanMetaKey(scanID)).Result()
	if err != nil {
		return nil, fmt.Errorf("engine: get scan meta %s: %w", scanID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	startedAt, _ := time.Parse(time.RFC3339, fields["startedAt"])
	spacesCount, _ := strconv.Atoi(fields["spacesCount"])
	return &domain.Scan{
		ScanID:      fields["scanId"],
		StartedAt:   startedAt,
		Status:      domain.ScanStatus(fields["status"]),
		SpacesCount: spacesCount,
	}, nil
}

func (s *scanMetaStore) last(ctx context.Context) (*domain.Scan, error) {
	scanID, err := s.client.Get(ctx, redisx.LastScanKey()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("engine: get last scan pointer: %w", err)
	}
	return s.get(ctx, scanID)
}

func (s *scanMetaStore) deleteAll(ctx context.Context, scanID string) error {
	if err := s.client.Del(ctx, redisx.ScanMetaKey(scanID)).Err(); err != nil {
		return fmt.Errorf("engine: delete scan meta %s: %w", scanID, err)
	}
	last, err := s.client.Get(ctx, redisx.LastScanKey()).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("engine: read last scan pointer: %w", err)
	}
	if last == scanID {
		if err := s.client.Del(ctx, redisx.LastScanKey()).Err(); err != nil {
			return fmt.Errorf("engine: clear last scan pointer: %w", err)
		}
	}
	return nil
}
