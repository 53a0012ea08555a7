package script

import (
	"sort"
	"strings"

	"github.com/replaykit/replaykit/internal/segment"
	"github.com/replaykit/replaykit/internal/typing"
)

// LabelResolver maps a tap target to an accessibility label when one is
// confidently resolvable from the frame-derived element list. Scripts prefer
// labels over raw coordinates because labels survive layout changes.
type LabelResolver func(p segment.Point, tMS int64) (string, bool)

// Element is one on-screen element as reported by the device at a point in
// time.
type Element struct {
	Label  string      `yaml:"label" json:"label"`
	Bounds typing.Rect `yaml:"bounds" json:"bounds"`
}

// ElementSnapshot is the element list captured at one timestamp.
type ElementSnapshot struct {
	TimestampMS int64     `yaml:"t_ms" json:"t_ms"`
	Elements    []Element `yaml:"elements" json:"elements"`
}

// NewElementResolver builds a LabelResolver over timestamped element
// snapshots. Lookups use the latest snapshot at or before t-leadMS (the
// pre-touch screen state) and resolve only when exactly one labeled element
// contains the point; anything ambiguous falls back to coordinates.
func NewElementResolver(snapshots []ElementSnapshot, leadMS int64) LabelResolver {
	sorted := make([]ElementSnapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TimestampMS < sorted[j].TimestampMS })

	return func(p segment.Point, tMS int64) (string, bool) {
		snap, ok := snapshotBefore(sorted, tMS-leadMS)
		if !ok {
			return "", false
		}
		var match string
		for _, el := range snap.Elements {
			label := strings.TrimSpace(el.Label)
			if label == "" || !el.Bounds.Contains(p) {
				continue
			}
			if match != "" && match != label {
				return "", false // ambiguous hit
			}
			match = label
		}
		return match, match != ""
	}
}

func snapshotBefore(sorted []ElementSnapshot, target int64) (ElementSnapshot, bool) {
	i := sort.Search(len(sorted), func(i int) bool {
		return sorted[i].TimestampMS > target
	})
	if i == 0 {
		return ElementSnapshot{}, false
	}
	return sorted[i-1], true
}
