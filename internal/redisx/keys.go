// Package redisx holds the Redis key-naming conventions and the single Lua
// script that gives the scan orchestrator's per-item write its atomicity,
// shared by internal/eventstore, internal/checkpoint, and internal/counters
// so all three agree on where a scan's state lives.
package redisx

import "fmt"

func SeqKey(scanID string) string {
	return fmt.Sprintf("scan:%s:seq", scanID)
}

func StreamKey(scanID string) string {
	return fmt.Sprintf("scan:%s:events", scanID)
}

func CheckpointKey(scanID, spaceKey string) string {
	return fmt.Sprintf("checkpoint:%s:%s", scanID, spaceKey)
}

func CheckpointScanPattern(scanID string) string {
	return fmt.Sprintf("checkpoint:%s:*", scanID)
}

func CounterKey(scanID, spaceKey string) string {
	return fmt.Sprintf("counters:%s:%s", scanID, spaceKey)
}

func CounterScanPattern(scanID string) string {
	return fmt.Sprintf("counters:%s:*", scanID)
}

func RunningSetKey(scanID string) string {
	return fmt.Sprintf("checkpoints:running:%s", scanID)
}

// ScanMetaKey is the hash holding one Scan record's startedAt/status/spacesCount.
func ScanMetaKey(scanID string) string {
	return fmt.Sprintf("scan:%s:meta", scanID)
}

// LastScanKey points at the scanId of the most recently started scan, the
// anchor for the /scans/last family of read endpoints and for purgeAll.
func LastScanKey() string {
	return "scan:last"
}

// NoAttachmentSentinel is written as lastProcessedAttachmentName when a
// committed item is a page body, not an attachment. The commit script
// treats an empty string as "preserve the prior value" for never-regress
// merging; page-body items need the opposite — an explicit "no attachment
// completed yet for this page" — so they write this sentinel instead of
// "". checkpoint.Store translates it back to "" before handing a
// ScanCheckpoint to callers.
const NoAttachmentSentinel = "<none>"

// SpaceKeyFromCheckpointKey extracts the spaceKey suffix from a full
// checkpoint:{scanId}:{spaceKey} key, used when scanning keys with KEYS/SCAN.
func SpaceKeyFromCheckpointKey(scanID, key string) string {
	prefix := fmt.Sprintf("checkpoint:%s:", scanID)
	if len(key) <= len(prefix) {
		return ""
	}
	return key[len(prefix):]
}

func SpaceKeyFromCounterKey(scanID, key string) string {
	prefix := fmt.Sprintf("counters:%s:", scanID)
	if len(key) <= len(prefix) {
		return ""
	}
	return key[len(prefix):]
}
