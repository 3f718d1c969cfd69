package metrics

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSanitizePathLabel(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/", "/"},
		{"/metrics", "/metrics"},
		{"/health", "/health"},
		{"/bucket/key", "/bucket/*"},
		{"/bucket/key/with/more/segments", "/bucket/*"},
		{"/bucket", "/bucket"}, // Edge case: treated as segment, maybe should be /bucket? Code says: if len(segs) <= 1 return / + segs[0]
		{"/bucket?query=param", "/bucket"},
		{"", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			result := sanitizePathLabel(tt.path)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRecordHTTPRequest_Cardinality(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	// Record requests with high cardinality paths
	m.RecordHTTPRequest(context.Background(), "GET", "/mybucket/obj1", http.StatusOK, time.Millisecond, 100)
	m.RecordHTTPRequest(context.Background(), "GET", "/mybucket/obj2", http.StatusOK, time.Millisecond, 100)
	m.RecordHTTPRequest(context.Background(), "GET", "/otherbucket/obj1", http.StatusOK, time.Millisecond, 100)

	// Check that we have collapsed paths
	// We expect /mybucket/* and /otherbucket/*
	
	// Verify /mybucket/* count is 2
	countMyBucket := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/mybucket/*", "OK"))
	assert.Equal(t, 2.0, countMyBucket)

	// Verify /otherbucket/* count is 1
	countOtherBucket := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/otherbucket/*", "OK"))
	assert.Equal(t, 1.0, countOtherBucket)
}

func TestRecordScanItem_DisableSpaceLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := Config{EnableSpaceLabel: false}
	m := newMetricsWithRegistry(reg, cfg)

	m.RecordScanItem(context.Background(), "scan-1", "SPACE-A", "page", time.Millisecond)
	m.RecordScanItem(context.Background(), "scan-2", "SPACE-B", "page", time.Millisecond)

	// Should align to scan_id="*", space_key="*"
	count := testutil.ToFloat64(m.scanItemsTotal.WithLabelValues("*", "*", "page"))
	assert.Equal(t, 2.0, count)
}

func TestRecordScanError_DisableSpaceLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := Config{EnableSpaceLabel: false}
	m := newMetricsWithRegistry(reg, cfg)

	m.RecordScanError("scan-1", "Timeout")
	m.RecordScanError("scan-2", "Timeout")

	count := testutil.ToFloat64(m.scanErrorsTotal.WithLabelValues("*", "Timeout"))
	assert.Equal(t, 2.0, count)
}

