package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/detection"
)

func TestBuildMaskedContext_ReplacesSortedSpans(t *testing.T) {
	source := "contact a@b.com or 555-1234 now"
	entities := []detection.Entity{
		{Type: "PHONE", Start: 19, End: 27},
		{Type: "EMAIL", Start: 8, End: 15},
	}
	got := buildMaskedContext(source, entities)
	require.Equal(t, "contact [EMAIL] or [PHONE] now", got)
}

func TestBuildMaskedContext_ClampsOutOfRangePositions(t *testing.T) {
	source := "short"
	entities := []detection.Entity{{Type: "EMAIL", Start: -5, End: 1000}}
	got := buildMaskedContext(source, entities)
	require.Equal(t, "[EMAIL]", got)
}

func TestBuildMaskedContext_TruncatesWithEllipsisAtLimit(t *testing.T) {
	source := strings.Repeat("a", 6000)
	got := buildMaskedContext(source, nil)
	require.LessOrEqual(t, len([]rune(got)), maskedContextLimit+1)
	require.True(t, strings.HasSuffix(got, "…"))
}

func TestBuildMaskedContext_NoEllipsisWhenUnderLimit(t *testing.T) {
	source := "short text"
	got := buildMaskedContext(source, nil)
	require.Equal(t, source, got)
	require.False(t, strings.HasSuffix(got, "…"))
}

func TestBuildMaskedContext_SkipsOverlappingEntityAfterEarlierSpanConsumedIt(t *testing.T) {
	source := "abcdefgh"
	entities := []detection.Entity{
		{Type: "A", Start: 0, End: 5},
		{Type: "B", Start: 2, End: 4},
	}
	got := buildMaskedContext(source, entities)
	require.Equal(t, "[A]fgh", got)
}
