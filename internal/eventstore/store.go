// Package eventstore implements the durable, append-only scan event log on
// top of Redis Streams. Simple lifecycle events (START, SPACE_START,
// SPACE_COMPLETE, COMPLETE, ERROR, PAUSED, RESUMED) are appended directly
// through Store.Append; per-item events that must commit atomically with a
// checkpoint upsert and counter increment go through
// internal/redisx.Store.CommitItem instead, and are only ever read back
// through this package.
package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/domain"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/redisx"
)

// Store is the Redis-backed implementation of the event store contract.
type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Append writes one event durably and returns its assigned eventSeq. Used
// for scan/space lifecycle events that have no accompanying checkpoint or
// counter update.
func (s *Store) Append(ctx context.Context, event domain.ScanEvent) (int64, error) {
	seq, err := s.client.Incr(ctx, redisx.SeqKey(event.ScanID)).Result()
	if err != nil {
		return 0, fmt.Errorf("eventstore: assign seq for scan %s: %w", event.ScanID, domain.ErrPersistence)
	}

	event.EventSeq = seq
	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("eventstore: marshal event: %w", err)
	}

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: redisx.StreamKey(event.ScanID),
		Values: map[string]any{"seq": seq, "data": string(payload)},
	}).Err(); err != nil {
		return 0, fmt.Errorf("eventstore: append event for scan %s: %w", event.ScanID, domain.ErrPersistence)
	}

	return seq, nil
}

// MaxSeq returns the highest eventSeq stored for scanID, or 0 if the scan
// has no events yet.
func (s *Store) MaxSeq(ctx context.Context, scanID string) (int64, error) {
	val, err := s.client.Get(ctx, redisx.SeqKey(scanID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("eventstore: max seq for scan %s: %w", scanID, err)
	}
	return strconv.ParseInt(val, 10, 64)
}

// ItemFilter narrows ListItems to a subset of a scan's events.
type ItemFilter struct {
	SpaceKey   string // empty matches all spaces
	EventTypes []domain.EventType
}

func (f ItemFilter) matches(e domain.ScanEvent) bool {
	if f.SpaceKey != "" && e.SpaceKey != f.SpaceKey {
		return false
	}
	if len(f.EventTypes) == 0 {
		return true
	}
	for _, t := range f.EventTypes {
		if e.EventType == t {
			return true
		}
	}
	return false
}

// ListItems returns a scan's events in eventSeq order, filtered per
// filter. It pages through the stream with XRange in batches rather than
// requesting the whole log in one round trip.
func (s *Store) ListItems(ctx context.Context, scanID string, filter ItemFilter) ([]domain.ScanEvent, error) {
	const pageSize = 500
	var out []domain.ScanEvent
	cursor := "-"

	for {
		entries, err := s.client.XRangeN(ctx, redisx.StreamKey(scanID), cursor, "+", pageSize).Result()
		if err != nil {
			return nil, fmt.Errorf("eventstore: list items for scan %s: %w", scanID, err)
		}
		if len(entries) == 0 {
			break
		}

		for _, entry := range entries {
			event, err := decodeEntry(entry)
			if err != nil {
				return nil, err
			}
			if filter.matches(event) {
				out = append(out, event)
			}
		}

		if len(entries) < pageSize {
			break
		}
		cursor = "(" + entries[len(entries)-1].ID
	}

	return out, nil
}

// ListForExport streams every event of (scanID, spaceKey) to events,
// closing both channels when done. Used by internal/archive to snapshot a
// completed scan's log to cold storage without holding the whole log in
// memory.
func (s *Store) ListForExport(ctx context.Context, scanID, spaceKey string) (<-chan domain.ScanEvent, <-chan error) {
	events := make(chan domain.ScanEvent)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		const pageSize = 500
		cursor := "-"
		for {
			entries, err := s.client.XRangeN(ctx, redisx.StreamKey(scanID), cursor, "+", pageSize).Result()
			if err != nil {
				errs <- fmt.Errorf("eventstore: export scan %s: %w", scanID, err)
				return
			}
			if len(entries) == 0 {
				return
			}

			for _, entry := range entries {
				event, err := decodeEntry(entry)
				if err != nil {
					errs <- err
					return
				}
				if spaceKey != "" && event.SpaceKey != spaceKey {
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}

			if len(entries) < pageSize {
				return
			}
			cursor = "(" + entries[len(entries)-1].ID
		}
	}()

	return events, errs
}

// DeleteAll purges the entire event log for scanID, including its
// sequence counter. Used by purgeAll before a fresh scan starts.
func (s *Store) DeleteAll(ctx context.Context, scanID string) error {
	if err := s.client.Del(ctx, redisx.StreamKey(scanID), redisx.SeqKey(scanID)).Err(); err != nil {
		return fmt.Errorf("eventstore: delete all for scan %s: %w", scanID, err)
	}
	return nil
}

func decodeEntry(entry redis.XMessage) (domain.ScanEvent, error) {
	raw, ok := entry.Values["data"].(string)
	if !ok {
		return domain.ScanEvent{}, fmt.Errorf("eventstore: malformed stream entry %s", entry.ID)
	}
	var event domain.ScanEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return domain.ScanEvent{}, fmt.Errorf("eventstore: decode event %s: %w", entry.ID, err)
	}
	if seqStr, ok := entry.Values["seq"].(string); ok {
		if seq, err := strconv.ParseInt(seqStr, 10, 64); err == nil {
			event.EventSeq = seq
		}
	}
	return event, nil
}
