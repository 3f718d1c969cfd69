package orchestrator

import (
	"sort"

	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/detection"
)

const maskedContextLimit = 5000

// buildMaskedContext replaces each entity span in source with [TYPE],
// processing entities in start-position order and clamping positions
// to the source's bounds so a token still appears even when the
// detector returned an out-of-range span. The result is truncated to
// maskedContextLimit chars with a trailing ellipsis when it would
// otherwise exceed that bound.
func buildMaskedContext(source string, entities []detection.Entity) string {
	runes := []rune(source)

	sorted := make([]detection.Entity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var out []rune
	cursor := 0
	for _, e := range sorted {
		start := clamp(e.Start, 0, len(runes))
		end := clamp(e.End, start, len(runes))
		if start < cursor {
			continue
		}
		out = append(out, runes[cursor:start]...)
		out = append(out, []rune("["+e.Type+"]")...)
		cursor = end
	}
	out = append(out, runes[cursor:]...)

	if len(out) > maskedContextLimit {
		out = append(out[:maskedContextLimit], []rune("…")...)
	}
	return string(out)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
