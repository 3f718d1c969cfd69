// Package domain holds the persisted and in-flight record types shared by
// every component of the scan engine: the event store, checkpoint store,
// severity counters, orchestrator, engine, bus, audit log, and detection
// configuration service all exchange these types rather than their own
// local structs.
package domain

import "time"

// ScanStatus is the lifecycle state of a Scan or ScanCheckpoint.
type ScanStatus string

const (
	StatusRunning   ScanStatus = "RUNNING"
	StatusPaused    ScanStatus = "PAUSED"
	StatusCompleted ScanStatus = "COMPLETED"
	StatusFailed    ScanStatus = "FAILED"
)

// Scan is the top-level record for one discovery run across all spaces.
type Scan struct {
	ScanID      string     `json:"scanId"`
	StartedAt   time.Time  `json:"startedAt"`
	Status      ScanStatus `json:"status"`
	SpacesCount int        `json:"spacesCount"`
}

// ScanCheckpoint is the durable resume position and status for one
// (scanId, spaceKey) pair. Upsert never regresses LastProcessedPageID or
// LastProcessedAttachmentName, and ProgressPercentage is monotonic except
// when recomputed on resume.
type ScanCheckpoint struct {
	ScanID                      string     `json:"scanId"`
	SpaceKey                    string     `json:"spaceKey"`
	LastProcessedPageID         string     `json:"lastProcessedPageId,omitempty"`
	LastProcessedAttachmentName string     `json:"lastProcessedAttachmentName,omitempty"`
	Status                      ScanStatus `json:"status"`
	ProgressPercentage          float64    `json:"progressPercentage"`
	UpdatedAt                   time.Time  `json:"updatedAt"`
}

// EventType enumerates the sum type of live/persisted scan events.
type EventType string

const (
	EventStart          EventType = "START"
	EventSpaceStart     EventType = "SPACE_START"
	EventItem           EventType = "ITEM"
	EventAttachmentItem EventType = "ATTACHMENT_ITEM"
	EventProgress       EventType = "PROGRESS"
	EventSpaceComplete  EventType = "SPACE_COMPLETE"
	EventComplete       EventType = "COMPLETE"
	EventError          EventType = "ERROR"
	EventPaused         EventType = "PAUSED"
	EventResumed        EventType = "RESUMED"
)

// ScanEvent is one append-only row of the event log. EventSeq is strictly
// monotonic per ScanID starting at 1. Payload shape varies by EventType;
// it is carried as a generic map so the event store need not know every
// kind's schema.
type ScanEvent struct {
	ScanID         string                 `json:"scanId"`
	EventSeq       int64                  `json:"eventSeq"`
	SpaceKey       string                 `json:"spaceKey,omitempty"`
	EventType      EventType              `json:"eventType"`
	Timestamp      time.Time              `json:"ts"`
	PageID         string                 `json:"pageId,omitempty"`
	PageTitle      string                 `json:"pageTitle,omitempty"`
	AttachmentName string                 `json:"attachmentName,omitempty"`
	AttachmentType string                 `json:"attachmentType,omitempty"`
	Payload        map[string]any         `json:"payload,omitempty"`
}

// SeverityCount is the per (scanId, spaceKey) aggregate of detections by
// severity tier. Only ever modified by atomic add; never overwritten.
type SeverityCount struct {
	ScanID   string `json:"scanId"`
	SpaceKey string `json:"spaceKey"`
	High     int64  `json:"high"`
	Medium   int64  `json:"medium"`
	Low      int64  `json:"low"`
}

// Sum returns High+Medium+Low, used by the "entities accounted for"
// testable property.
func (s SeverityCount) Sum() int64 {
	return s.High + s.Medium + s.Low
}

// Severity is the fixed HIGH/MEDIUM/LOW classification assigned to a
// DetectedEntity from its PiiType.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// DetectedEntity is one PII finding within a page or attachment's text.
// SensitiveValue and SensitiveContext are ciphertext (ENC:v1:...) once
// persisted; MaskedContext is always plaintext, with entity spans replaced.
type DetectedEntity struct {
	StartPosition     int      `json:"startPosition"`
	EndPosition       int      `json:"endPosition"`
	PiiType           string   `json:"piiType"`
	Confidence        float64  `json:"confidence"`
	Severity          Severity `json:"severity"`
	SensitiveValue    string   `json:"sensitiveValue"`
	SensitiveContext  string   `json:"sensitiveContext"`
	MaskedContext     string   `json:"maskedContext"`
}

// DetectionConfig is the singleton set of detector-level toggles and the
// default confidence threshold scans run with absent per-type overrides.
type DetectionConfig struct {
	GlinerEnabled    bool    `yaml:"glinerEnabled" json:"glinerEnabled"`
	PresidioEnabled  bool    `yaml:"presidioEnabled" json:"presidioEnabled"`
	RegexEnabled     bool    `yaml:"regexEnabled" json:"regexEnabled"`
	DefaultThreshold float64 `yaml:"defaultThreshold" json:"defaultThreshold"`
	LabelsPerBatch   int     `yaml:"labelsPerBatch" json:"labelsPerBatch"`
}

// AtLeastOneDetectorEnabled is the DetectionConfig invariant from spec §3.
func (c DetectionConfig) AtLeastOneDetectorEnabled() bool {
	return c.GlinerEnabled || c.PresidioEnabled || c.RegexEnabled
}

// Detector enumerates the detector kinds a PiiTypeConfig can belong to.
type Detector string

const (
	DetectorGliner   Detector = "GLINER"
	DetectorPresidio Detector = "PRESIDIO"
	DetectorRegex    Detector = "REGEX"
)

// PiiTypeConfig is the per (detector, piiType) override: whether it is
// enabled, its confidence threshold, and display metadata for the
// dashboard and configuration UI.
type PiiTypeConfig struct {
	Detector      Detector `yaml:"detector" json:"detector"`
	PiiType       string   `yaml:"piiType" json:"piiType"`
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	Threshold     float64  `yaml:"threshold" json:"threshold"`
	Category      string   `yaml:"category" json:"category"`
	CountryCode   string   `yaml:"countryCode,omitempty" json:"countryCode,omitempty"`
	DisplayName   string   `yaml:"displayName" json:"displayName"`
	DetectorLabel string   `yaml:"detectorLabel" json:"detectorLabel"`
}

// AuditRecord is created on every reveal of plaintext PII through the
// reveal-page endpoint, and purged once RetentionUntil has passed.
type AuditRecord struct {
	ID               string    `json:"id"`
	ScanID           string    `json:"scanId"`
	SpaceKey         string    `json:"spaceKey,omitempty"`
	PageID           string    `json:"pageId,omitempty"`
	AccessedAt       time.Time `json:"accessedAt"`
	RetentionUntil   time.Time `json:"retentionUntil"`
	Purpose          string    `json:"purpose"`
	PiiEntitiesCount int       `json:"piiEntitiesCount"`
}
