// Package api exposes the scan engine over HTTP: scan lifecycle control,
// live event streaming over SSE, the read-side dashboard views, the
// PII-reveal endpoint, and detection-configuration management — the
// full surface from spec's external-interfaces table.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/audit"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/bus"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/checkpoint"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/counters"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/crypto"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/domain"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/engine"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/eventstore"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/metrics"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/pconfig"
)

// Handler serves the scan engine's HTTP surface.
type Handler struct {
	engine      *engine.Engine
	bus         *bus.Bus
	checkpoints *checkpoint.Store
	counters    *counters.Store
	events      *eventstore.Store
	crypto      *crypto.Service
	audit       audit.Logger
	pconfig     *pconfig.Store
	logger      *logrus.Logger
	metrics     *metrics.Metrics

	allowSecretReveal  bool
	auditRetentionDays int
}

// Config bundles the collaborators and feature flags Handler needs.
type Config struct {
	Engine            *engine.Engine
	Bus               *bus.Bus
	Checkpoints       *checkpoint.Store
	Counters          *counters.Store
	Events            *eventstore.Store
	Crypto            *crypto.Service
	Audit             audit.Logger
	PConfig           *pconfig.Store
	Logger             *logrus.Logger
	Metrics            *metrics.Metrics
	AllowSecretReveal  bool
	AuditRetentionDays int
}

func NewHandler(cfg Config) *Handler {
	return &Handler{
		engine:            cfg.Engine,
		bus:               cfg.Bus,
		checkpoints:       cfg.Checkpoints,
		counters:          cfg.Counters,
		events:            cfg.Events,
		crypto:            cfg.Crypto,
		audit:             cfg.Audit,
		pconfig:           cfg.PConfig,
		logger:            cfg.Logger,
		metrics:            cfg.Metrics,
		allowSecretReveal:  cfg.AllowSecretReveal,
		auditRetentionDays: cfg.AuditRetentionDays,
	}
}

// RegisterRoutes wires every endpoint from spec's external-interfaces table.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.wrap("GET", "/health", metrics.HealthHandler())).Methods("GET")
	r.HandleFunc("/ready", h.wrap("GET", "/ready", metrics.ReadinessHandler())).Methods("GET")
	r.HandleFunc("/live", h.wrap("GET", "/live", metrics.LivenessHandler())).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/scans/purge", h.handlePurge).Methods("POST")
	api.HandleFunc("/scans/stream", h.handleStreamNew).Methods("GET")
	api.HandleFunc("/scans/{scanId}/stream", h.handleStreamExisting).Methods("GET")
	api.HandleFunc("/scans/{scanId}/pause", h.handlePause).Methods("POST")
	api.HandleFunc("/scans/{scanId}/resume", h.handleResume).Methods("POST")
	api.HandleFunc("/scans/last", h.handleLastScan).Methods("GET")
	api.HandleFunc("/scans/last/spaces", h.handleLastScanSpaces).Methods("GET")
	api.HandleFunc("/scans/dashboard/spaces-summary", h.handleDashboardSpacesSummary).Methods("GET")
	api.HandleFunc("/pii/reveal-page", h.handleRevealPage).Methods("POST")
	api.HandleFunc("/pii-detection/config", h.handleDetectionConfig).Methods("GET", "PUT")
	api.PathPrefix("/pii-detection/pii-types").HandlerFunc(h.handlePiiTypes).Methods("GET", "PUT")
}

// wrap records the request/response cycle's duration and status against
// the shared HTTP metrics, mirroring the teacher's per-handler metrics
// instrumentation without repeating it in every method below.
func (h *Handler) wrap(method, path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		h.metrics.RecordHTTPRequest(r.Context(), method, path, rec.status, time.Since(start), rec.written)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.written += int64(n)
	return n, err
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Warn("api: failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handlePurge purges the most recently started scan's data (events,
// checkpoints, counters, scan metadata) via Engine.PurgeAll, per spec's
// idempotence requirement that a new scan cannot start over an
// incomplete one. Data of earlier scans is not deleted.
func (h *Handler) handlePurge(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.PurgeAll(r.Context()); err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleStreamNew starts a new scan, if none is running, and streams its
// events over SSE from the beginning.
func (h *Handler) handleStreamNew(w http.ResponseWriter, r *http.Request) {
	scanID, err := h.engine.StartAll(r.Context())
	if err != nil {
		h.writeError(w, http.StatusConflict, err)
		return
	}
	h.streamSSE(w, r, scanID, true)
}

// handleStreamExisting attaches to the live stream of an existing scan,
// optionally replaying its buffered history first.
func (h *Handler) handleStreamExisting(w http.ResponseWriter, r *http.Request) {
	scanID := mux.Vars(r)["scanId"]
	replay := r.URL.Query().Get("replay") != "false"
	h.streamSSE(w, r, scanID, replay)
}

func (h *Handler) streamSSE(w http.ResponseWriter, r *http.Request, scanID string, replay bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, fmt.Errorf("api: streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	sub := h.bus.Subscribe(ctx, scanID, replay)
	defer sub.Close()

	for {
		select {
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.WithError(err).Warn("api: failed to marshal SSE event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, payload)
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// handlePause transitions a scan's running checkpoint to PAUSED.
func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	scanID := mux.Vars(r)["scanId"]
	if err := h.engine.Pause(r.Context(), scanID); err != nil {
		h.writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleResume resumes a paused scan. Idempotent: a scan already running
// or already completed is a no-op success, not an error, since the
// actual event delivery is driven by an SSE reattach to /stream.
func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	scanID := mux.Vars(r)["scanId"]
	if err := h.engine.ResumeAll(r.Context(), scanID); err != nil {
		h.logger.WithError(err).WithField("scanId", scanID).Warn("api: resume request could not be started")
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleLastScan returns metadata for the most recently started scan.
func (h *Handler) handleLastScan(w http.ResponseWriter, r *http.Request) {
	scan, err := h.engine.LastScan(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if scan == nil {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("no scan has been started yet"))
		return
	}
	h.writeJSON(w, http.StatusOK, scan)
}

// handleLastScanSpaces returns the per-space checkpoint status list of
// the most recently started scan.
func (h *Handler) handleLastScanSpaces(w http.ResponseWriter, r *http.Request) {
	scan, err := h.engine.LastScan(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if scan == nil {
		h.writeJSON(w, http.StatusOK, []domain.ScanCheckpoint{})
		return
	}
	checkpoints, err := h.checkpoints.FindByScan(r.Context(), scan.ScanID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, checkpoints)
}

type spaceSummary struct {
	domain.ScanCheckpoint
	Severity domain.SeverityCount `json:"severity"`
}

// handleDashboardSpacesSummary combines the latest scan's per-space
// checkpoints with their aggregated severity counters into one view.
func (h *Handler) handleDashboardSpacesSummary(w http.ResponseWriter, r *http.Request) {
	scan, err := h.engine.LastScan(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if scan == nil {
		h.writeJSON(w, http.StatusOK, []spaceSummary{})
		return
	}

	checkpoints, err := h.checkpoints.FindByScan(r.Context(), scan.ScanID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	severities, err := h.counters.ListByScan(r.Context(), scan.ScanID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	bySpace := make(map[string]domain.SeverityCount, len(severities))
	for _, sc := range severities {
		bySpace[sc.SpaceKey] = sc
	}

	summaries := make([]spaceSummary, 0, len(checkpoints))
	for _, cp := range checkpoints {
		summaries = append(summaries, spaceSummary{ScanCheckpoint: cp, Severity: bySpace[cp.SpaceKey]})
	}
	h.writeJSON(w, http.StatusOK, summaries)
}

type revealPageRequest struct {
	ScanID      string `json:"scanId"`
	SpaceKey    string `json:"spaceKey"`
	PageID      string `json:"pageId"`
	RequestedBy string `json:"requestedBy"`
	RequestID   string `json:"requestId"`
}

type revealedEntity struct {
	PiiType        string `json:"piiType"`
	SensitiveValue string `json:"sensitiveValue"`
}

// handleRevealPage decrypts every entity recorded for one page, subject
// to the pii.allowSecretReveal gate, and always logs the attempt —
// granted or denied — to the audit trail.
func (h *Handler) handleRevealPage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req revealPageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if !h.allowSecretReveal {
		h.audit.LogRevealDenied(req.ScanID, req.SpaceKey, req.PageID, req.RequestedBy, req.RequestID, "pii.allowSecretReveal is disabled")
		h.writeError(w, http.StatusForbidden, fmt.Errorf("reveal is disabled by configuration"))
		return
	}

	items, err := h.events.ListItems(r.Context(), req.ScanID, eventstore.ItemFilter{
		SpaceKey:   req.SpaceKey,
		EventTypes: []domain.EventType{domain.EventItem, domain.EventAttachmentItem},
	})
	if err != nil {
		h.audit.LogReveal(req.ScanID, req.SpaceKey, req.PageID, req.RequestedBy, req.RequestID, 0, time.Time{}, false, err, time.Since(start))
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	revealed := make([]revealedEntity, 0)
	for _, item := range items {
		if item.PageID != req.PageID {
			continue
		}
		entities, _ := item.Payload["entities"].([]any)
		for _, raw := range entities {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			piiType, _ := entry["piiType"].(string)
			token, _ := entry["sensitiveValue"].(string)
			begin, _ := entry["startPosition"].(float64)
			end, _ := entry["endPosition"].(float64)

			plaintext, err := h.crypto.Decrypt(token, crypto.Metadata{PiiType: piiType, PositionBegin: int(begin), PositionEnd: int(end)})
			if err != nil {
				h.logger.WithError(err).WithField("pageId", req.PageID).Warn("api: failed to decrypt entity during reveal")
				continue
			}
			revealed = append(revealed, revealedEntity{PiiType: piiType, SensitiveValue: plaintext})
		}
	}

	retentionDays := h.auditRetentionDays
	if retentionDays <= 0 {
		retentionDays = 90
	}
	retentionUntil := time.Now().AddDate(0, 0, retentionDays)
	h.audit.LogReveal(req.ScanID, req.SpaceKey, req.PageID, req.RequestedBy, req.RequestID, len(revealed), retentionUntil, true, nil, time.Since(start))
	h.writeJSON(w, http.StatusOK, map[string]any{"entities": revealed})
}

// handleDetectionConfig reads or replaces the singleton detection
// configuration (which detectors are enabled, default threshold).
func (h *Handler) handleDetectionConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		h.writeJSON(w, http.StatusOK, h.pconfig.DetectionConfig())
		return
	}

	var cfg domain.DetectionConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if !cfg.AtLeastOneDetectorEnabled() {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: at least one detector must remain enabled", domain.ErrConfigInvalid))
		return
	}
	if err := h.pconfig.Update(cfg, h.pconfig.PiiTypes()); err != nil {
		h.writeError(w, statusForConfigError(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, cfg)
}

// statusForConfigError maps a pconfig.Store.Update failure to its HTTP
// status: an invalid-configuration rejection (bad threshold, no detector
// enabled) is a client error, anything else (e.g. a disk write failure) is not.
func statusForConfigError(err error) int {
	if errors.Is(err, domain.ErrConfigInvalid) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// handlePiiTypes reads or replaces the per-PII-type override list, or a
// single type's override when the path carries a trailing segment.
func (h *Handler) handlePiiTypes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/pii-detection/pii-types")
	rest = strings.Trim(rest, "/")

	if r.Method == http.MethodGet {
		types := h.pconfig.PiiTypes()
		if rest == "" {
			h.writeJSON(w, http.StatusOK, types)
			return
		}
		for _, t := range types {
			if t.PiiType == rest {
				h.writeJSON(w, http.StatusOK, t)
				return
			}
		}
		h.writeError(w, http.StatusNotFound, fmt.Errorf("unknown pii type %q", rest))
		return
	}

	var types []domain.PiiTypeConfig
	if err := json.NewDecoder(r.Body).Decode(&types); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.pconfig.Update(h.pconfig.DetectionConfig(), types); err != nil {
		h.writeError(w, statusForConfigError(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, types)
}
