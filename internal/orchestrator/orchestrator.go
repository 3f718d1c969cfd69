// Package orchestrator implements handleDetection: the single atomic
// operation that turns one detection outcome into a persisted event,
// an updated checkpoint, incremented severity counters, and — once all
// three have committed — a live bus notification.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/bus"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/crypto"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/detection"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/domain"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/redisx"
)

// Item identifies the page or attachment a detection outcome belongs to.
type Item struct {
	PageID         string
	PageTitle      string
	AttachmentName string
	AttachmentType string
}

// IsAttachment reports whether this item is an attachment rather than a page body.
func (i Item) IsAttachment() bool { return i.AttachmentName != "" }

// Progress carries the values needed to compute and merge checkpoint progress.
type Progress struct {
	Processed int
	Planned   int
}

// Percentage implements the formula from spec §4.9: 100 * processed /
// planned, planned floored at 1, rounded to one decimal.
func (p Progress) Percentage() float64 {
	planned := p.Planned
	if planned < 1 {
		planned = 1
	}
	pct := 100 * float64(p.Processed) / float64(planned)
	return roundTo1Decimal(pct)
}

func roundTo1Decimal(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

// committer is the subset of *redisx.Store that HandleDetection depends
// on, narrowed to an interface so the persistence-retry path can be
// exercised against a fake instead of a real Redis instance.
type committer interface {
	CommitItem(ctx context.Context, scanID, spaceKey string, eventPayload any, cp redisx.CheckpointUpdate, delta redisx.SeverityDelta) (int64, error)
}

// Orchestrator ties the storage layer and the live bus together behind
// the single handleDetection entry point.
type Orchestrator struct {
	commits committer
	crypto  *crypto.Service
	bus     *bus.Bus
}

func New(commits *redisx.Store, cryptoSvc *crypto.Service, eventBus *bus.Bus) *Orchestrator {
	return &Orchestrator{commits: commits, crypto: cryptoSvc, bus: eventBus}
}

// HandleDetection consumes one detection outcome for item in scanID/spaceKey,
// atomically persisting the resulting event, checkpoint update, and severity
// deltas, then publishing to the live bus strictly after that commit succeeds.
func (o *Orchestrator) HandleDetection(
	ctx context.Context,
	scanID, spaceKey string,
	item Item,
	sourceText string,
	result detection.Result,
	progress Progress,
) (domain.ScanEvent, error) {
	masked := buildMaskedContext(sourceText, result.Entities)

	entities := make([]domain.DetectedEntity, 0, len(result.Entities))
	var delta redisx.SeverityDelta
	for _, e := range result.Entities {
		severity := severityFor(e.Type)
		switch severity {
		case domain.SeverityHigh:
			delta.High++
		case domain.SeverityMedium:
			delta.Medium++
		default:
			delta.Low++
		}

		meta := crypto.Metadata{PiiType: e.Type, PositionBegin: e.Start, PositionEnd: e.End}
		valueToken, err := o.crypto.Encrypt(e.Text, meta)
		if err != nil {
			return domain.ScanEvent{}, fmt.Errorf("encrypt sensitive value: %w", err)
		}
		contextToken, err := o.crypto.Encrypt(sourceText, meta)
		if err != nil {
			return domain.ScanEvent{}, fmt.Errorf("encrypt sensitive context: %w", err)
		}

		entities = append(entities, domain.DetectedEntity{
			StartPosition:    e.Start,
			EndPosition:      e.End,
			PiiType:          e.Type,
			Confidence:       e.Score,
			Severity:         severity,
			SensitiveValue:   valueToken,
			SensitiveContext: contextToken,
			MaskedContext:    masked,
		})
	}

	eventType := domain.EventItem
	if item.IsAttachment() {
		eventType = domain.EventAttachmentItem
	}

	now := time.Now().UTC()
	payload := map[string]any{
		"pageId":         item.PageID,
		"pageTitle":      item.PageTitle,
		"attachmentName": item.AttachmentName,
		"attachmentType": item.AttachmentType,
		"entities":       entities,
		"maskedContext":  masked,
		"severity": map[string]int64{
			"high":   delta.High,
			"medium": delta.Medium,
			"low":    delta.Low,
		},
	}

	// A page-body item must record that no attachment has been completed
	// for this page yet; an empty string would instead make the commit
	// script preserve whatever attachment name a prior page left behind.
	attachmentForCheckpoint := item.AttachmentName
	if !item.IsAttachment() {
		attachmentForCheckpoint = redisx.NoAttachmentSentinel
	}

	pct := progress.Percentage()
	update := redisx.CheckpointUpdate{
		LastProcessedPageID:         item.PageID,
		LastProcessedAttachmentName: attachmentForCheckpoint,
		Status:                      string(domain.StatusRunning),
		ProgressPercentage:          &pct,
		UpdatedAt:                   now.Format(time.RFC3339),
	}

	// The commit script persists whatever we hand it verbatim as the
	// stream entry's JSON body, so it must be the full envelope
	// (scanId/eventType/spaceKey and friends), not just the inner
	// payload map — otherwise a reader decoding the stream back into a
	// domain.ScanEvent would see every top-level field zeroed out.
	event := domain.ScanEvent{
		ScanID:         scanID,
		SpaceKey:       spaceKey,
		EventType:      eventType,
		Timestamp:      now,
		PageID:         item.PageID,
		PageTitle:      item.PageTitle,
		AttachmentName: item.AttachmentName,
		AttachmentType: item.AttachmentType,
		Payload:        payload,
	}

	// Per spec §7, a storage write failure is retried once before being
	// surfaced as a scan ERROR event. The commit script is not idempotent:
	// if the failed attempt did reach Redis, the retry appends a second
	// event and adds the severity deltas again.
	seq, err := o.commits.CommitItem(ctx, scanID, spaceKey, event, update, delta)
	if err != nil && errors.Is(err, domain.ErrPersistence) {
		seq, err = o.commits.CommitItem(ctx, scanID, spaceKey, event, update, delta)
	}
	if err != nil {
		return domain.ScanEvent{}, fmt.Errorf("commit detection outcome: %w", err)
	}
	event.EventSeq = seq

	o.bus.Publish(scanID, event)
	return event, nil
}
