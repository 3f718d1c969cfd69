// Package pconfig holds the mutable detection configuration: which
// detectors are enabled, per-PII-type thresholds, and scope glob
// patterns — persisted as YAML and hot-reloaded on file change so an
// operator edit takes effect without a restart.
package pconfig

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ryanuber/go-glob"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/domain"
)

type fileDoc struct {
	Detection domain.DetectionConfig  `yaml:"detection"`
	PiiTypes  []domain.PiiTypeConfig  `yaml:"piiTypes"`
}

// Store holds the current DetectionConfig and PiiTypeConfig set, kept
// in sync with a YAML file on disk via fsnotify.
type Store struct {
	path   string
	logger *logrus.Logger

	mu       sync.RWMutex
	doc      fileDoc

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Load reads path once and starts watching it for changes. Callers
// should defer Close to stop the watcher goroutine.
func Load(path string, logger *logrus.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger, done: make(chan struct{})}
	if err := s.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("pconfig: new watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("pconfig: watch %s: %w", path, err)
	}
	s.watcher = watcher
	go s.watchLoop()
	return s, nil
}

func (s *Store) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Store) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.reload(); err != nil {
				s.logger.WithError(err).Warn("pconfig: reload after change failed, keeping previous config")
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("pconfig: watcher error")
		case <-s.done:
			return
		}
	}
}

func (s *Store) reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("pconfig: read %s: %w", s.path, err)
	}

	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("pconfig: parse %s: %w", s.path, err)
	}
	if !doc.Detection.AtLeastOneDetectorEnabled() {
		return fmt.Errorf("%w: at least one detector must be enabled", domain.ErrConfigInvalid)
	}
	if err := validateThresholds(doc.Detection, doc.PiiTypes); err != nil {
		return err
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

// DetectionConfig returns the current global detection toggles.
func (s *Store) DetectionConfig() domain.DetectionConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Detection
}

// PiiTypes returns a copy of the current per-type configuration list.
func (s *Store) PiiTypes() []domain.PiiTypeConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PiiTypeConfig, len(s.doc.PiiTypes))
	copy(out, s.doc.PiiTypes)
	return out
}

// ThresholdFor returns the configured threshold and enabled flag for
// piiType. A type with no specific entry gets the global default and
// enabled=true; a disabled entry returns its own threshold with
// enabled=false.
func (s *Store) ThresholdFor(piiType string) (threshold float64, enabled bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.doc.PiiTypes {
		if t.PiiType == piiType {
			return t.Threshold, t.Enabled
		}
	}
	return s.doc.Detection.DefaultThreshold, true
}

// Update replaces the in-memory config and persists it back to disk,
// so operator edits via the REST API survive a restart and don't race
// the next fsnotify-triggered reload.
func (s *Store) Update(detection domain.DetectionConfig, piiTypes []domain.PiiTypeConfig) error {
	if !detection.AtLeastOneDetectorEnabled() {
		return fmt.Errorf("%w: at least one detector must be enabled", domain.ErrConfigInvalid)
	}
	if err := validateThresholds(detection, piiTypes); err != nil {
		return err
	}

	doc := fileDoc{Detection: detection, PiiTypes: piiTypes}
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("pconfig: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("pconfig: write %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

// validateThresholds enforces spec §8's boundary rule: 0.0 and 1.0 are
// valid confidence thresholds, anything outside [0, 1] is not.
func validateThresholds(detection domain.DetectionConfig, piiTypes []domain.PiiTypeConfig) error {
	if detection.DefaultThreshold < 0 || detection.DefaultThreshold > 1 {
		return fmt.Errorf("%w: defaultThreshold %.4f out of range [0,1]", domain.ErrConfigInvalid, detection.DefaultThreshold)
	}
	for _, t := range piiTypes {
		if t.Threshold < 0 || t.Threshold > 1 {
			return fmt.Errorf("%w: piiType %s threshold %.4f out of range [0,1]", domain.ErrConfigInvalid, t.PiiType, t.Threshold)
		}
	}
	return nil
}

// MatchesScope reports whether spaceKey matches a glob scope pattern
// (e.g. "ENG-*"), used to restrict a PiiTypeConfig override to a
// subset of spaces.
func MatchesScope(pattern, spaceKey string) bool {
	if pattern == "" {
		return true
	}
	return glob.Glob(pattern, spaceKey)
}
