// Package archive snapshots a completed scan's event log to an
// S3-compatible bucket for long-term retention. It is strictly additive:
// Redis (internal/eventstore) remains the source of truth for every
// read served by the API, and a failed or skipped archive never blocks
// or rewinds a scan. internal/engine fires one export per scan after it
// reaches COMPLETED; the event log is read back out through
// eventstore.Store.ListForExport rather than held in memory as it grows.
package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/eventstore"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/s3"
)

// Config is the archive backend's connection and addressing settings,
// populated from internal/config.ArchiveConfig.
type Config struct {
	Provider  string
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Archiver exports completed scans' event logs as newline-delimited JSON
// objects in a single S3-compatible bucket, one object per (scanId,
// spaceKey).
type Archiver struct {
	client s3.Client
	bucket string
	events *eventstore.Store
	logger *logrus.Logger
}

// New validates cfg against its provider's known defaults/addressing style
// and constructs an Archiver. events is the store ExportScan reads the
// scan's log back from.
func New(cfg Config, events *eventstore.Store, logger *logrus.Logger) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}

	endpoint, region, err := s3.ValidateProviderConfig(cfg.Endpoint, cfg.Provider, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	client, err := s3.NewClient(&s3.BackendConfig{
		Provider:  cfg.Provider,
		Endpoint:  endpoint,
		Region:    region,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: construct s3 client: %w", err)
	}

	return &Archiver{client: client, bucket: cfg.Bucket, events: events, logger: logger}, nil
}

// ExportScan streams scanID's full event log (every space) from Redis and
// writes it as one newline-delimited-JSON object per space under
// scans/{scanId}/{spaceKey}.ndjson. A space failing to export is logged
// and skipped; it does not abort the export of the scan's other spaces.
func (a *Archiver) ExportScan(ctx context.Context, scanID string) error {
	checkpoints, err := a.spaceKeysOf(ctx, scanID)
	if err != nil {
		return fmt.Errorf("archive: list spaces for scan %s: %w", scanID, err)
	}

	var lastErr error
	for _, spaceKey := range checkpoints {
		if err := a.exportSpace(ctx, scanID, spaceKey); err != nil {
			a.logger.WithError(err).WithFields(logrus.Fields{
				"scanId":   scanID,
				"spaceKey": spaceKey,
			}).Warn("archive: export space failed")
			lastErr = err
		}
	}
	return lastErr
}

// spaceKeysOf discovers which space keys a scan touched by reading its
// full unfiltered event log once; archive runs once per completed scan,
// so this extra pass is not on any hot path.
func (a *Archiver) spaceKeysOf(ctx context.Context, scanID string) ([]string, error) {
	events, errs := a.events.ListForExport(ctx, scanID, "")
	seen := make(map[string]struct{})
	var keys []string
	for event := range events {
		if event.SpaceKey == "" {
			continue
		}
		if _, ok := seen[event.SpaceKey]; !ok {
			seen[event.SpaceKey] = struct{}{}
			keys = append(keys, event.SpaceKey)
		}
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	return keys, nil
}

func (a *Archiver) exportSpace(ctx context.Context, scanID, spaceKey string) error {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	events, errs := a.events.ListForExport(ctx, scanID, spaceKey)
	enc := json.NewEncoder(w)
	for event := range events {
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("encode event seq %d: %w", event.EventSeq, err)
		}
	}
	if err := <-errs; err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}

	key := fmt.Sprintf("scans/%s/%s.ndjson", scanID, spaceKey)
	metadata := map[string]string{
		"scan-id":      scanID,
		"space-key":    spaceKey,
		"archived-at":  time.Now().UTC().Format(time.RFC3339),
		"content-type": "application/x-ndjson",
	}
	if err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(buf.Bytes()), metadata); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}
