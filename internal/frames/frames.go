// Package frames indexes the screen frames extracted from a recording and
// answers timestamp queries against them. Frame extraction itself happens on
// the capture side; this package only reads its output.
package frames

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/replaykit/replaykit/internal/touch"
)

// ErrClockSkew signals that the touch and frame streams disagree about time
// beyond the configured tolerance. Checkpoint anchoring cannot be trusted in
// that case, so the whole compile must abort rather than emit misplaced
// verifications.
var ErrClockSkew = errors.New("frames: touch and frame clocks are misaligned")

// Frame is one extracted screen image addressable by capture timestamp.
type Frame struct {
	TimestampMS int64
	Path        string
}

// Ref returns the stable reference persisted into checkpoint artifacts.
func (f Frame) Ref() string {
	return filepath.Base(f.Path)
}

// Image decodes the frame from disk.
func (f Frame) Image() (image.Image, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("frames: open %s: %w", f.Path, err)
	}
	defer file.Close()
	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("frames: decode %s: %w", f.Path, err)
	}
	return img, nil
}

// Index holds the frame sequence sorted by timestamp.
type Index struct {
	frames []Frame
}

// LoadDir scans a directory for frame_<t_ms>.(png|jpg) files. Files that do
// not match the naming convention are ignored.
func LoadDir(dir string) (*Index, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("frames: read %s: %w", dir, err)
	}
	var frames []Frame
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ts, ok := parseFrameName(entry.Name())
		if !ok {
			continue
		}
		frames = append(frames, Frame{TimestampMS: ts, Path: filepath.Join(dir, entry.Name())})
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("frames: no frame_<t_ms> images under %s", dir)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].TimestampMS < frames[j].TimestampMS })
	return &Index{frames: frames}, nil
}

// NewIndex builds an index from an explicit frame list (primarily for tests).
func NewIndex(list []Frame) *Index {
	sorted := make([]Frame, len(list))
	copy(sorted, list)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TimestampMS < sorted[j].TimestampMS })
	return &Index{frames: sorted}
}

// Frames returns the indexed frames in timestamp order.
func (ix *Index) Frames() []Frame {
	return ix.frames
}

// Len returns the number of indexed frames.
func (ix *Index) Len() int {
	return len(ix.frames)
}

// Nearest returns the frame whose timestamp is closest to tMS.
func (ix *Index) Nearest(tMS int64) (Frame, bool) {
	if len(ix.frames) == 0 {
		return Frame{}, false
	}
	i := sort.Search(len(ix.frames), func(i int) bool {
		return ix.frames[i].TimestampMS >= tMS
	})
	if i == 0 {
		return ix.frames[0], true
	}
	if i == len(ix.frames) {
		return ix.frames[len(ix.frames)-1], true
	}
	before, after := ix.frames[i-1], ix.frames[i]
	if tMS-before.TimestampMS <= after.TimestampMS-tMS {
		return before, true
	}
	return after, true
}

// Before returns the latest frame at or before tMS-leadMS. Visual analysis of
// a touch wants the pre-touch screen state, so callers pass the configured
// frame lead here.
func (ix *Index) Before(tMS, leadMS int64) (Frame, bool) {
	target := tMS - leadMS
	i := sort.Search(len(ix.frames), func(i int) bool {
		return ix.frames[i].TimestampMS > target
	})
	if i == 0 {
		return Frame{}, false
	}
	return ix.frames[i-1], true
}

// CheckAlignment verifies that the frame stream covers the touch span within
// the skew tolerance. Both producers timestamp against the same monotonic
// clock; if the spans do not line up the clocks were not shared and every
// frame-to-event anchor downstream would be wrong.
func (ix *Index) CheckAlignment(samples []touch.Sample, toleranceMS int64) error {
	if len(samples) == 0 || len(ix.frames) == 0 {
		return nil
	}
	touchStart := samples[0].TimestampMS
	touchEnd := samples[len(samples)-1].TimestampMS
	frameStart := ix.frames[0].TimestampMS
	frameEnd := ix.frames[len(ix.frames)-1].TimestampMS

	if frameStart > touchStart+toleranceMS {
		return fmt.Errorf("%w: frames start %dms after the first touch (tolerance %dms)",
			ErrClockSkew, frameStart-touchStart, toleranceMS)
	}
	if frameEnd < touchEnd-toleranceMS {
		return fmt.Errorf("%w: frames end %dms before the last touch (tolerance %dms)",
			ErrClockSkew, touchEnd-frameEnd, toleranceMS)
	}
	return nil
}

func parseFrameName(name string) (int64, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if !strings.HasPrefix(base, "frame_") {
		return 0, false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
	default:
		return 0, false
	}
	ts, err := strconv.ParseInt(strings.TrimPrefix(base, "frame_"), 10, 64)
	if err != nil || ts < 0 {
		return 0, false
	}
	return ts, true
}
