// Package engine implements the top-level scan driver: startAll,
// resumeAll, pause, cancel, purgeAll. It pulls spaces and items from the
// content accessor, feeds text through extraction and detection, and
// hands every outcome to the orchestrator, which is the only component
// allowed to write the event store, checkpoint store, and counters.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/bus"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/checkpoint"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/content"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/counters"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/detection"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/domain"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/eventstore"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/extraction"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/orchestrator"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/pconfig"
)

var tracer = otel.Tracer("ai-sentinel-sub004/engine")

// Detector is the subset of *detection.Client the engine depends on,
// narrowed to an interface so a scan can be driven end to end against a
// fake in tests without a live gRPC server.
type Detector interface {
	Analyze(ctx context.Context, text string, threshold float64, timeout time.Duration) (detection.Result, error)
}

// Archiver is the subset of *archive.Archiver the engine depends on. Left
// nil, cold-storage export is disabled and a scan's event log lives in
// Redis only.
type Archiver interface {
	ExportScan(ctx context.Context, scanID string) error
}

// Deps bundles every collaborator the engine pulls work from or writes
// through. All fields are required except Archiver (optional) and
// Parallelism (defaulted).
type Deps struct {
	Redis        *redis.Client
	Content      *content.Accessor
	Extraction   *extraction.Registry
	Detection    Detector
	Orchestrator *orchestrator.Orchestrator
	Checkpoints  *checkpoint.Store
	Events       *eventstore.Store
	Counters     *counters.Store
	PConfig      *pconfig.Store
	Bus          *bus.Bus
	Logger       *logrus.Logger

	// Archiver snapshots a scan's event log to cold storage once it
	// completes. Optional; nil disables the export entirely.
	Archiver Archiver

	// Parallelism bounds how many spaces of one scan run concurrently.
	// <= 0 defaults to 1.
	Parallelism int

	// DetectionTimeout is the per-call deadline passed to the detection client.
	DetectionTimeout time.Duration
}

// Engine drives scans end to end. A single Engine serves the whole
// process; only one scan is ever active at a time (spec's single
// RUNNING-or-PAUSED scan invariant), tracked via runningScan.
type Engine struct {
	deps Deps
	meta *scanMetaStore

	mu          sync.Mutex
	runningScan *run
}

// run tracks the in-flight state of one active scan so pause/cancel can
// reach its cooperating goroutines.
type run struct {
	scanID    string
	cancel    context.CancelFunc
	paused    chan struct{} // closed once, by pause()
	pauseOnce sync.Once
	done      chan struct{}
}

func New(deps Deps) *Engine {
	if deps.Parallelism <= 0 {
		deps.Parallelism = 1
	}
	return &Engine{deps: deps, meta: newScanMetaStore(deps.Redis)}
}

// SweepOrphanedRunning auto-transitions every checkpoint left RUNNING by a
// crashed process to PAUSED, so a resume is always possible after a crash
// that skipped the pause transition (spec's Open Question (a), resolved
// in favor of resumability over silent abandonment).
func (e *Engine) SweepOrphanedRunning(ctx context.Context) error {
	orphaned, err := e.deps.Checkpoints.FindAllRunning(ctx)
	if err != nil {
		return fmt.Errorf("engine: sweep orphaned checkpoints: %w", err)
	}
	for _, cp := range orphaned {
		if err := e.deps.Checkpoints.Upsert(ctx, cp.ScanID, cp.SpaceKey, "", "", domain.StatusPaused, nil); err != nil {
			e.deps.Logger.WithError(err).WithFields(logrus.Fields{"scanId": cp.ScanID, "spaceKey": cp.SpaceKey}).
				Warn("engine: failed to pause orphaned checkpoint at startup")
		}
	}
	if len(orphaned) > 0 {
		e.deps.Logger.WithField("count", len(orphaned)).Info("engine: paused orphaned RUNNING checkpoints from a prior crash")
	}
	return nil
}

// StartAll allocates a fresh scanId and drives discovery and per-space
// execution across every space the content accessor currently knows
// about. It returns immediately with the new scanId; the scan itself
// runs on a background goroutine and is observed via the bus.
func (e *Engine) StartAll(ctx context.Context) (string, error) {
	e.mu.Lock()
	if e.runningScan != nil {
		e.mu.Unlock()
		return "", fmt.Errorf("engine: a scan is already active: %s", e.runningScan.scanID)
	}
	e.mu.Unlock()

	// Starting over a prior scan that never reached COMPLETED requires an
	// explicit purge first; otherwise its checkpoints and events would be
	// silently orphaned underneath the new scanId.
	last, err := e.meta.last(ctx)
	if err != nil {
		return "", err
	}
	if last != nil && last.Status != domain.StatusCompleted {
		return "", fmt.Errorf("engine: prior scan %s is %s, not completed: purge before starting a new scan", last.ScanID, last.Status)
	}

	scanID, err := newScanID()
	if err != nil {
		return "", fmt.Errorf("engine: allocate scan id: %w", err)
	}

	spaces := e.deps.Content.ListSpaces()
	scan := domain.Scan{ScanID: scanID, StartedAt: time.Now().UTC(), Status: domain.StatusRunning, SpacesCount: len(spaces)}
	if err := e.meta.create(ctx, scan); err != nil {
		return "", err
	}

	e.runScan(scanID, spaces, false)
	return scanID, nil
}

// ResumeAll resumes a previously paused scan, continuing every
// non-COMPLETED space from strictly after its last processed item.
func (e *Engine) ResumeAll(ctx context.Context, scanID string) error {
	e.mu.Lock()
	if e.runningScan != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: a scan is already active: %s", e.runningScan.scanID)
	}
	e.mu.Unlock()

	checkpoints, err := e.deps.Checkpoints.FindByScan(ctx, scanID)
	if err != nil {
		return fmt.Errorf("engine: resume: load checkpoints: %w", err)
	}
	spaceKeys := make(map[string]bool, len(checkpoints))
	for _, cp := range checkpoints {
		spaceKeys[cp.SpaceKey] = true
	}
	spaces := e.deps.Content.ListSpaces()
	filtered := spaces[:0]
	for _, s := range spaces {
		if spaceKeys[s.Key] {
			filtered = append(filtered, s)
		}
	}

	if err := e.meta.updateStatus(ctx, scanID, domain.StatusRunning); err != nil {
		return err
	}
	e.runScan(scanID, filtered, true)
	return nil
}

// Pause transitions the scan's single RUNNING checkpoint to PAUSED and
// signals the in-flight producer to stop at the next safe point.
func (e *Engine) Pause(ctx context.Context, scanID string) error {
	e.mu.Lock()
	r := e.runningScan
	e.mu.Unlock()
	if r == nil || r.scanID != scanID {
		return fmt.Errorf("engine: no active run for scan %s", scanID)
	}

	cp, err := e.deps.Checkpoints.FindRunning(ctx, scanID)
	if err != nil {
		return fmt.Errorf("engine: pause: find running checkpoint: %w", err)
	}
	if cp != nil {
		if err := e.deps.Checkpoints.Upsert(ctx, scanID, cp.SpaceKey, "", "", domain.StatusPaused, nil); err != nil {
			return fmt.Errorf("engine: pause: upsert checkpoint: %w", err)
		}
	}
	r.pauseOnce.Do(func() { close(r.paused) })
	return e.meta.updateStatus(ctx, scanID, domain.StatusPaused)
}

// Cancel stops the scan's producer context. When failed is true every
// active checkpoint transitions to FAILED and a COMPLETE event with a
// failure marker is emitted; a clean (non-error) cancel leaves state as
// it was, since it represents a transient subscriber disconnect rather
// than an operator- or error-driven stop.
func (e *Engine) Cancel(ctx context.Context, scanID string, failed bool) error {
	e.mu.Lock()
	r := e.runningScan
	e.mu.Unlock()
	if r == nil || r.scanID != scanID {
		return fmt.Errorf("engine: no active run for scan %s", scanID)
	}
	r.cancel()

	if !failed {
		return nil
	}

	checkpoints, err := e.deps.Checkpoints.FindByScan(ctx, scanID)
	if err != nil {
		return fmt.Errorf("engine: cancel: load checkpoints: %w", err)
	}
	for _, cp := range checkpoints {
		if cp.Status == domain.StatusRunning || cp.Status == domain.StatusPaused {
			if err := e.deps.Checkpoints.Upsert(ctx, scanID, cp.SpaceKey, "", "", domain.StatusFailed, nil); err != nil {
				e.deps.Logger.WithError(err).Warn("engine: cancel: failed to mark checkpoint FAILED")
			}
		}
	}
	if err := e.meta.updateStatus(ctx, scanID, domain.StatusFailed); err != nil {
		e.deps.Logger.WithError(err).Warn("engine: cancel: failed to mark scan FAILED")
	}
	e.appendLifecycle(ctx, scanID, "", domain.EventComplete, map[string]any{"failed": true})
	return nil
}

// PurgeAll deletes all artifacts (events, checkpoints, counters, scan
// metadata) of the most recently started scan, per spec.md's single
// active-scan model. It first cancels any in-flight run.
func (e *Engine) PurgeAll(ctx context.Context) error {
	e.mu.Lock()
	r := e.runningScan
	e.mu.Unlock()
	if r != nil {
		r.cancel()
		<-r.done
	}

	last, err := e.meta.last(ctx)
	if err != nil {
		return err
	}
	if last == nil {
		return nil
	}

	if err := e.deps.Events.DeleteAll(ctx, last.ScanID); err != nil {
		return err
	}
	if err := e.deps.Checkpoints.DeleteByScan(ctx, last.ScanID); err != nil {
		return err
	}
	if err := e.deps.Counters.DeleteByScan(ctx, last.ScanID); err != nil {
		return err
	}
	return e.meta.deleteAll(ctx, last.ScanID)
}

// LastScan returns the most recently started scan's metadata, or nil if
// no scan has ever been started.
func (e *Engine) LastScan(ctx context.Context) (*domain.Scan, error) {
	return e.meta.last(ctx)
}

// runScan launches the scan's producer goroutine and registers it as the
// active run so Pause/Cancel/PurgeAll can reach it.
func (e *Engine) runScan(scanID string, spaces []content.Space, resuming bool) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{scanID: scanID, cancel: cancel, paused: make(chan struct{}), done: make(chan struct{})}

	e.mu.Lock()
	e.runningScan = r
	e.mu.Unlock()

	go func() {
		defer close(r.done)
		defer func() {
			e.mu.Lock()
			if e.runningScan == r {
				e.runningScan = nil
			}
			e.mu.Unlock()
		}()
		e.driveScan(ctx, r, scanID, spaces, resuming)
	}()
}

func (e *Engine) driveScan(ctx context.Context, r *run, scanID string, spaces []content.Space, resuming bool) {
	ctx, span := tracer.Start(ctx, "scan", trace.WithAttributes(attribute.String("scan.id", scanID)))
	defer span.End()

	if !resuming {
		e.appendLifecycle(ctx, scanID, "", domain.EventStart, map[string]any{"spacesCount": len(spaces)})
	} else {
		e.appendLifecycle(ctx, scanID, "", domain.EventResumed, nil)
	}

	sort.Slice(spaces, func(i, j int) bool { return spaces[i].Key < spaces[j].Key })

	sem := make(chan struct{}, e.deps.Parallelism)
	var wg sync.WaitGroup
	for _, space := range spaces {
		select {
		case <-r.paused:
			goto finish
		case <-ctx.Done():
			goto finish
		default:
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			goto finish
		case <-r.paused:
			goto finish
		}

		wg.Add(1)
		go func(space content.Space) {
			defer wg.Done()
			defer func() { <-sem }()
			e.driveSpace(ctx, r, scanID, space)
		}(space)
	}

finish:
	wg.Wait()

	select {
	case <-r.paused:
		return
	case <-ctx.Done():
		return
	default:
	}

	e.finishIfComplete(ctx, scanID)
}

func (e *Engine) finishIfComplete(ctx context.Context, scanID string) {
	checkpoints, err := e.deps.Checkpoints.FindByScan(ctx, scanID)
	if err != nil {
		e.deps.Logger.WithError(err).Warn("engine: finishIfComplete: load checkpoints")
		return
	}
	for _, cp := range checkpoints {
		if cp.Status != domain.StatusCompleted {
			return
		}
	}
	if err := e.meta.updateStatus(ctx, scanID, domain.StatusCompleted); err != nil {
		e.deps.Logger.WithError(err).Warn("engine: finishIfComplete: update scan status")
	}
	e.appendLifecycle(ctx, scanID, "", domain.EventComplete, nil)

	if e.deps.Archiver != nil {
		go func() {
			exportCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := e.deps.Archiver.ExportScan(exportCtx, scanID); err != nil {
				e.deps.Logger.WithError(err).WithField("scanId", scanID).Warn("engine: cold-storage export failed")
			}
		}()
	}
}

// driveSpace processes one space's pages and attachments in canonical
// order, resuming from the checkpoint's last processed position when one
// exists.
func (e *Engine) driveSpace(ctx context.Context, r *run, scanID string, space content.Space) {
	ctx, span := tracer.Start(ctx, "scan.space", trace.WithAttributes(attribute.String("space.key", space.Key)))
	defer span.End()

	cp, err := e.deps.Checkpoints.FindBy(ctx, scanID, space.Key)
	if err != nil {
		e.deps.Logger.WithError(err).Warn("engine: load checkpoint")
		return
	}
	if cp != nil && cp.Status == domain.StatusCompleted {
		return
	}

	pages, err := e.deps.Content.ListPages(ctx, space.Key)
	if err != nil {
		e.appendLifecycle(ctx, scanID, space.Key, domain.EventError, map[string]any{"message": err.Error()})
		return
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].ID < pages[j].ID })

	planned, err := e.plannedTotal(ctx, space.Key, pages)
	if err != nil {
		e.deps.Logger.WithError(err).Warn("engine: compute planned total")
	}

	resumeFromPage, resumeFromAttachment, analyzedOffset := resumePosition(pages, cp, func(pageID string) []content.Attachment {
		atts, _ := e.deps.Content.ListAttachments(ctx, space.Key, pageID)
		sort.Slice(atts, func(i, j int) bool { return atts[i].Name < atts[j].Name })
		return atts
	})

	if cp == nil {
		e.appendLifecycle(ctx, scanID, space.Key, domain.EventSpaceStart, nil)
	}

	processed := analyzedOffset
	for _, page := range pages {
		if page.ID < resumeFromPage {
			continue
		}

		select {
		case <-r.paused:
			return
		case <-ctx.Done():
			return
		default:
		}

		skipBody := page.ID == resumeFromPage && resumeFromAttachment != resumedBodyPending
		if !skipBody {
			e.processPageBody(ctx, scanID, space.Key, page, orchestrator.Progress{Processed: processed + 1, Planned: planned})
			processed++
		}

		attachments, err := e.deps.Content.ListAttachments(ctx, space.Key, page.ID)
		if err != nil {
			e.appendLifecycle(ctx, scanID, space.Key, domain.EventError, map[string]any{"pageId": page.ID, "message": err.Error()})
			continue
		}
		sort.Slice(attachments, func(i, j int) bool { return attachments[i].Name < attachments[j].Name })

		for _, att := range attachments {
			if page.ID == resumeFromPage && resumeFromAttachment != "" && resumeFromAttachment != resumedBodyPending && att.Name <= resumeFromAttachment {
				continue
			}

			select {
			case <-r.paused:
				return
			case <-ctx.Done():
				return
			default:
			}

			e.processAttachment(ctx, scanID, space.Key, page, att, orchestrator.Progress{Processed: processed + 1, Planned: planned})
			processed++
		}
	}

	if err := e.deps.Checkpoints.Upsert(ctx, scanID, space.Key, "", "", domain.StatusCompleted, floatPtr(100)); err != nil {
		e.deps.Logger.WithError(err).Warn("engine: complete space checkpoint")
	}
	e.appendLifecycle(ctx, scanID, space.Key, domain.EventSpaceComplete, map[string]any{"progress": 100})
}

// resumedBodyPending marks "the resume page's own body has not been
// processed yet" (a fresh start) so driveSpace can tell "page body not yet done"
// from "page body done, no attachment done yet" (redisx.NoAttachmentSentinel).
const resumedBodyPending = "\x00pending"

func resumePosition(pages []content.Page, cp *domain.ScanCheckpoint, listAttachments func(string) []content.Attachment) (resumeFromPage, resumeFromAttachment string, analyzedOffset int) {
	if cp == nil || cp.LastProcessedPageID == "" {
		if len(pages) == 0 {
			return "", "", 0
		}
		return pages[0].ID, resumedBodyPending, 0
	}

	offset := 0
	for _, p := range pages {
		if p.ID >= cp.LastProcessedPageID {
			break
		}
		offset++ // page body
		offset += len(listAttachments(p.ID))
	}

	// Reaching this checkpoint at all means the checkpointed page's own
	// body was already committed, whether or not any of its attachments
	// were reached yet.
	offset++
	if cp.LastProcessedAttachmentName != "" {
		for _, att := range listAttachments(cp.LastProcessedPageID) {
			if att.Name <= cp.LastProcessedAttachmentName {
				offset++
			}
		}
	}

	idx := sort.Search(len(pages), func(i int) bool { return pages[i].ID >= cp.LastProcessedPageID })
	if idx >= len(pages) {
		return "", "", offset
	}
	return pages[idx].ID, cp.LastProcessedAttachmentName, offset
}

func (e *Engine) plannedTotal(ctx context.Context, spaceKey string, pages []content.Page) (int, error) {
	total := len(pages)
	for _, p := range pages {
		atts, err := e.deps.Content.ListAttachments(ctx, spaceKey, p.ID)
		if err != nil {
			return total, err
		}
		total += len(atts)
	}
	return total, nil
}

func (e *Engine) processPageBody(ctx context.Context, scanID, spaceKey string, page content.Page, progress orchestrator.Progress) {
	ctx, span := tracer.Start(ctx, "scan.item", trace.WithAttributes(attribute.String("page.id", page.ID)))
	defer span.End()

	text, err := e.deps.Extraction.Extract(extraction.Info{ContentType: "text/plain", FileName: page.Title}, []byte(page.Body))
	if err != nil {
		if errors.Is(err, extraction.ErrUnsupported) || errors.Is(err, extraction.ErrLowQuality) {
			text = ""
		} else {
			e.appendLifecycle(ctx, scanID, spaceKey, domain.EventError, map[string]any{"pageId": page.ID, "message": err.Error()})
			return
		}
	}

	result, err := e.analyze(ctx, text)
	if err != nil {
		e.appendLifecycle(ctx, scanID, spaceKey, domain.EventError, map[string]any{"pageId": page.ID, "message": err.Error()})
		if upErr := e.deps.Checkpoints.Upsert(ctx, scanID, spaceKey, page.ID, "", domain.StatusRunning, floatPtr(progress.Percentage())); upErr != nil {
			e.deps.Logger.WithError(upErr).Warn("engine: advance checkpoint past errored item")
		}
		return
	}

	item := orchestrator.Item{PageID: page.ID, PageTitle: page.Title}
	if _, err := e.deps.Orchestrator.HandleDetection(ctx, scanID, spaceKey, item, text, result, progress); err != nil {
		e.deps.Logger.WithError(err).WithField("pageId", page.ID).Warn("engine: handleDetection failed for page")
	}
}

func (e *Engine) processAttachment(ctx context.Context, scanID, spaceKey string, page content.Page, att content.Attachment, progress orchestrator.Progress) {
	ctx, span := tracer.Start(ctx, "scan.item", trace.WithAttributes(attribute.String("attachment.name", att.Name)))
	defer span.End()

	data, err := e.deps.Content.DownloadAttachment(ctx, spaceKey, page.ID, att.Name)
	if err != nil {
		e.appendLifecycle(ctx, scanID, spaceKey, domain.EventError, map[string]any{"pageId": page.ID, "message": err.Error()})
		return
	}

	text, err := e.deps.Extraction.Extract(extraction.Info{ContentType: att.ContentType, FileName: att.Name}, data)
	item := orchestrator.Item{PageID: page.ID, PageTitle: page.Title, AttachmentName: att.Name, AttachmentType: att.ContentType}
	if err != nil {
		if errors.Is(err, extraction.ErrUnsupported) || errors.Is(err, extraction.ErrLowQuality) {
			// No usable text: commit an ATTACHMENT_ITEM with no entities and
			// no detection call, per the insufficient-text seed scenario.
			if _, hErr := e.deps.Orchestrator.HandleDetection(ctx, scanID, spaceKey, item, "", detection.Result{PerTypeCounts: detection.PerTypeCounts{}}, progress); hErr != nil {
				e.deps.Logger.WithError(hErr).Warn("engine: commit low-quality attachment item")
			}
			return
		}
		e.appendLifecycle(ctx, scanID, spaceKey, domain.EventError, map[string]any{"pageId": page.ID, "attachmentName": att.Name, "message": err.Error()})
		return
	}

	result, err := e.analyze(ctx, text)
	if err != nil {
		e.appendLifecycle(ctx, scanID, spaceKey, domain.EventError, map[string]any{"pageId": page.ID, "attachmentName": att.Name, "message": err.Error()})
		if upErr := e.deps.Checkpoints.Upsert(ctx, scanID, spaceKey, page.ID, att.Name, domain.StatusRunning, floatPtr(progress.Percentage())); upErr != nil {
			e.deps.Logger.WithError(upErr).Warn("engine: advance checkpoint past errored attachment")
		}
		return
	}

	if _, err := e.deps.Orchestrator.HandleDetection(ctx, scanID, spaceKey, item, text, result, progress); err != nil {
		e.deps.Logger.WithError(err).WithField("attachmentName", att.Name).Warn("engine: handleDetection failed for attachment")
	}
}

func (e *Engine) analyze(ctx context.Context, text string) (detection.Result, error) {
	threshold := e.deps.PConfig.DetectionConfig().DefaultThreshold
	return e.deps.Detection.Analyze(ctx, text, threshold, e.deps.DetectionTimeout)
}

func (e *Engine) appendLifecycle(ctx context.Context, scanID, spaceKey string, eventType domain.EventType, payload map[string]any) {
	event := domain.ScanEvent{
		ScanID:    scanID,
		SpaceKey:  spaceKey,
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	seq, err := e.deps.Events.Append(ctx, event)
	if err != nil {
		e.deps.Logger.WithError(err).WithField("eventType", eventType).Warn("engine: append lifecycle event")
		return
	}
	event.EventSeq = seq
	e.deps.Bus.Publish(scanID, event)
}

func floatPtr(v float64) *float64 { return &v }

func newScanID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
