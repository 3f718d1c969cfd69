package extraction

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_ExtractDispatchesToFirstSupportingStrategy(t *testing.T) {
	r := NewRegistry(DefaultQualityThresholds())
	r.Register(PlainTextStrategy{})

	text, err := r.Extract(Info{ContentType: "text/plain"}, []byte("hello world, this has letters"))
	require.NoError(t, err)
	require.Equal(t, "hello world, this has letters", text)
}

func TestRegistry_ExtractReturnsErrUnsupportedWhenNoStrategyMatches(t *testing.T) {
	r := NewRegistry(DefaultQualityThresholds())
	_, err := r.Extract(Info{ContentType: "application/octet-stream"}, []byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestRegistry_ExtractRejectsLowQualityText(t *testing.T) {
	r := NewRegistry(DefaultQualityThresholds())
	r.Register(PlainTextStrategy{})

	_, err := r.Extract(Info{ContentType: "text/plain"}, []byte("\x01\x02\x03\x04\x05"))
	require.ErrorIs(t, err, ErrLowQuality)
}

func TestMeetsQuality_RespectsThresholds(t *testing.T) {
	t1 := QualityThresholds{MinLength: 5, MinAlnumRatio: 0.5, MinPrintableRatio: 0.9}
	require.True(t, meetsQuality("hello world", t1))
	require.False(t, meetsQuality("....", t1))
}
