package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/domain"
)

// commitItemScript appends one event to a scan's stream, upserts the
// (scanId, spaceKey) checkpoint, and adds the severity deltas — all inside
// a single Redis script invocation, so the three writes commit atomically
// from Redis's point of view with no application-level transaction.
//
// KEYS[1] = seq key
// KEYS[2] = stream key
// KEYS[3] = checkpoint hash key
// KEYS[4] = counters hash key
// KEYS[5] = running-set key
//
// ARGV[1] = event payload JSON (without eventSeq; seq is assigned here)
// ARGV[2] = scanId
// ARGV[3] = spaceKey
// ARGV[4] = lastProcessedPageId ("" = preserve prior value)
// ARGV[5] = lastProcessedAttachmentName ("" = preserve prior value)
// ARGV[6] = new status ("" = preserve prior status, default RUNNING)
// ARGV[7] = progressPercentage (string; "-" = preserve prior value)
// ARGV[8] = updatedAt (RFC3339)
// ARGV[9], ARGV[10], ARGV[11] = deltaHigh, deltaMedium, deltaLow (must be >= 0)
const commitItemScript = `
local seq = redis.call('INCR', KEYS[1])
redis.call('XADD', KEYS[2], '*', 'seq', seq, 'data', ARGV[1])

local curStatus = redis.call('HGET', KEYS[3], 'status')
local curLastPage = redis.call('HGET', KEYS[3], 'lastProcessedPageId')
local curLastAttachment = redis.call('HGET', KEYS[3], 'lastProcessedAttachmentName')
local curProgress = redis.call('HGET', KEYS[3], 'progressPercentage')

local newStatus = ARGV[6]
if newStatus == '' then
  if curStatus then newStatus = curStatus else newStatus = 'RUNNING' end
end

if curStatus and curStatus ~= '' and curStatus ~= newStatus then
  local legal = false
  if curStatus == 'RUNNING' and (newStatus == 'PAUSED' or newStatus == 'COMPLETED' or newStatus == 'FAILED') then
    legal = true
  elseif curStatus == 'PAUSED' and (newStatus == 'RUNNING' or newStatus == 'COMPLETED' or newStatus == 'FAILED') then
    legal = true
  end
  if not legal then
    return redis.error_reply('illegal transition: ' .. curStatus .. '->' .. newStatus)
  end
end

local newLastPage = ARGV[4]
if newLastPage == '' and curLastPage then newLastPage = curLastPage end
local newLastAttachment = ARGV[5]
if newLastAttachment == '' and curLastAttachment then newLastAttachment = curLastAttachment end
local newProgress = ARGV[7]
if newProgress == '-' then
  if curProgress then newProgress = curProgress else newProgress = '0' end
end

redis.call('HSET', KEYS[3],
  'scanId', ARGV[2],
  'spaceKey', ARGV[3],
  'lastProcessedPageId', newLastPage,
  'lastProcessedAttachmentName', newLastAttachment,
  'status', newStatus,
  'progressPercentage', newProgress,
  'updatedAt', ARGV[8])

if newStatus == 'RUNNING' then
  redis.call('SADD', KEYS[5], ARGV[3])
else
  redis.call('SREM', KEYS[5], ARGV[3])
end

local dHigh = tonumber(ARGV[9])
local dMedium = tonumber(ARGV[10])
local dLow = tonumber(ARGV[11])
if dHigh < 0 or dMedium < 0 or dLow < 0 then
  return redis.error_reply('negative severity delta rejected')
end
if dHigh > 0 then redis.call('HINCRBY', KEYS[4], 'high', dHigh) end
if dMedium > 0 then redis.call('HINCRBY', KEYS[4], 'medium', dMedium) end
if dLow > 0 then redis.call('HINCRBY', KEYS[4], 'low', dLow) end

return seq
`

// CheckpointUpdate carries the fields the commit script merges into a
// checkpoint hash. Empty string fields preserve the prior stored value.
type CheckpointUpdate struct {
	LastProcessedPageID         string
	LastProcessedAttachmentName string
	Status                      string // empty preserves prior status
	ProgressPercentage          *float64
	UpdatedAt                   string // RFC3339
}

// SeverityDelta carries the non-negative per-severity increments to add.
type SeverityDelta struct {
	High   int64
	Medium int64
	Low    int64
}

// Store wraps a redis.Client with the commit script pre-loaded.
type Store struct {
	client *redis.Client
	script *redis.Script
}

func New(client *redis.Client) *Store {
	return &Store{client: client, script: redis.NewScript(commitItemScript)}
}

// CommitItem runs the atomic event-append + checkpoint-upsert +
// counter-increment triple for one detection outcome and returns the
// assigned eventSeq.
func (s *Store) CommitItem(ctx context.Context, scanID, spaceKey string, eventPayload any, cp CheckpointUpdate, delta SeverityDelta) (int64, error) {
	payload, err := json.Marshal(eventPayload)
	if err != nil {
		return 0, fmt.Errorf("redisx: marshal event payload: %w", err)
	}

	progress := "-"
	if cp.ProgressPercentage != nil {
		progress = fmt.Sprintf("%.1f", *cp.ProgressPercentage)
	}

	keys := []string{
		SeqKey(scanID),
		StreamKey(scanID),
		CheckpointKey(scanID, spaceKey),
		CounterKey(scanID, spaceKey),
		RunningSetKey(scanID),
	}
	args := []any{
		string(payload),
		scanID,
		spaceKey,
		cp.LastProcessedPageID,
		cp.LastProcessedAttachmentName,
		cp.Status,
		progress,
		cp.UpdatedAt,
		delta.High,
		delta.Medium,
		delta.Low,
	}

	seq, err := s.script.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		// The script rejects two cases by design, not by storage failure:
		// an illegal status transition and a negative severity delta.
		// Those are caller bugs, not transient write failures, so they are
		// surfaced as-is instead of being wrapped as ErrPersistence — a
		// caller must not blindly retry them.
		if IsIllegalTransition(err) || strings.Contains(err.Error(), "negative severity delta") {
			return 0, fmt.Errorf("redisx: commit item: %w", err)
		}
		return 0, fmt.Errorf("redisx: commit item: %w: %w", domain.ErrPersistence, err)
	}
	return seq, nil
}

// IsIllegalTransition reports whether err was raised by the commit or
// checkpoint-upsert Lua script rejecting a disallowed status arc.
func IsIllegalTransition(err error) bool {
	return err != nil && strings.Contains(err.Error(), "illegal transition")
}
