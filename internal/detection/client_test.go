package detection

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestDecodeResult_EmptyStructYieldsEmptyResult(t *testing.T) {
	result := decodeResult(&structpb.Struct{})
	require.Empty(t, result.Entities)
	require.Empty(t, result.PerTypeCounts)
}

func TestDecodeResult_NilStructYieldsEmptyResult(t *testing.T) {
	result := decodeResult(nil)
	require.Empty(t, result.Entities)
	require.NotNil(t, result.PerTypeCounts)
}

func TestDecodeResult_ParsesEntitiesAndCounts(t *testing.T) {
	req, err := structpb.NewStruct(map[string]any{
		"entities": []any{
			map[string]any{"type": "EMAIL", "start": 0.0, "end": 10.0, "score": 0.95, "text": "a@b.com"},
			map[string]any{"type": "EMAIL", "start": 20.0, "end": 30.0, "score": 0.8, "text": "c@d.com"},
			map[string]any{"type": "PHONE", "start": 40.0, "end": 50.0, "score": 0.7, "text": "555-1234"},
		},
	})
	require.NoError(t, err)

	result := decodeResult(req)
	require.Len(t, result.Entities, 3)
	require.Equal(t, 2, result.PerTypeCounts["EMAIL"])
	require.Equal(t, 1, result.PerTypeCounts["PHONE"])
	require.Equal(t, 0, result.Entities[0].Start)
	require.Equal(t, 10, result.Entities[0].End)
}
