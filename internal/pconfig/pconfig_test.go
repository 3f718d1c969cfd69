package pconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
detection:
  glinerEnabled: true
  presidioEnabled: false
  regexEnabled: true
  defaultThreshold: 0.5
  labelsPerBatch: 10
piiTypes:
  - detector: REGEX
    piiType: EMAIL
    enabled: true
    threshold: 0.6
    category: contact
    displayName: Email
    detectorLabel: EMAIL
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "detection-rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_ParsesDetectionAndPiiTypes(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	store, err := Load(path, logrus.New())
	require.NoError(t, err)
	defer store.Close()

	require.True(t, store.DetectionConfig().GlinerEnabled)
	require.Len(t, store.PiiTypes(), 1)

	threshold, enabled := store.ThresholdFor("EMAIL")
	require.True(t, enabled)
	require.Equal(t, 0.6, threshold)
}

func TestLoad_RejectsAllDetectorsDisabled(t *testing.T) {
	path := writeConfig(t, "detection:\n  glinerEnabled: false\n  presidioEnabled: false\n  regexEnabled: false\n")
	_, err := Load(path, logrus.New())
	require.Error(t, err)
}

func TestThresholdFor_FallsBackToDefaultForUnknownType(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	store, err := Load(path, logrus.New())
	require.NoError(t, err)
	defer store.Close()

	threshold, enabled := store.ThresholdFor("PHONE")
	require.True(t, enabled)
	require.Equal(t, 0.5, threshold)
}

func TestStore_ReloadsOnFileWrite(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	store, err := Load(path, logrus.New())
	require.NoError(t, err)
	defer store.Close()

	updated := sampleYAML + "\n"
	require.NoError(t, os.WriteFile(path, []byte(
		`
detection:
  glinerEnabled: true
  presidioEnabled: false
  regexEnabled: true
  defaultThreshold: 0.9
  labelsPerBatch: 10
`), 0o644))
	_ = updated

	require.Eventually(t, func() bool {
		return store.DetectionConfig().DefaultThreshold == 0.9
	}, time.Second, 10*time.Millisecond)
}

func TestLoad_ThresholdBoundaries(t *testing.T) {
	cases := []struct {
		name      string
		threshold string
		wantErr   bool
	}{
		{"zero accepted", "0.0", false},
		{"one accepted", "1.0", false},
		{"below zero rejected", "-0.01", true},
		{"above one rejected", "1.01", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := "detection:\n  glinerEnabled: true\n  regexEnabled: true\n  defaultThreshold: " + tc.threshold + "\n"
			path := writeConfig(t, body)
			store, err := Load(path, logrus.New())
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			store.Close()
		})
	}
}

func TestUpdate_RejectsThresholdOutOfRange(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	store, err := Load(path, logrus.New())
	require.NoError(t, err)
	defer store.Close()

	detection := store.DetectionConfig()

	detection.DefaultThreshold = 1.01
	require.Error(t, store.Update(detection, store.PiiTypes()))

	detection.DefaultThreshold = -0.01
	require.Error(t, store.Update(detection, store.PiiTypes()))

	detection.DefaultThreshold = 1.0
	require.NoError(t, store.Update(detection, store.PiiTypes()))

	piiTypes := store.PiiTypes()
	piiTypes[0].Threshold = 1.5
	require.Error(t, store.Update(detection, piiTypes), "per-type threshold out of range must also be rejected")
}

func TestMatchesScope_GlobPattern(t *testing.T) {
	require.True(t, MatchesScope("ENG-*", "ENG-PLATFORM"))
	require.False(t, MatchesScope("ENG-*", "HR-POLICY"))
	require.True(t, MatchesScope("", "anything"))
}

func TestUpdate_PersistsAndReplacesInMemoryConfig(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	store, err := Load(path, logrus.New())
	require.NoError(t, err)
	defer store.Close()

	detection := store.DetectionConfig()
	detection.DefaultThreshold = 0.75
	err = store.Update(detection, store.PiiTypes())
	require.NoError(t, err)

	threshold, _ := store.ThresholdFor("PHONE")
	require.Equal(t, 0.75, threshold)

	persisted, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(persisted), "0.75")
}
