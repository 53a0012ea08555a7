// Package typing scans the segmented event stream for runs of taps that look
// like on-screen keyboard entry. Detected sequences are candidates only: the
// interview step must attach the actual typed text before synthesis.
package typing

import (
	"fmt"

	"github.com/replaykit/replaykit/internal/config"
	"github.com/replaykit/replaykit/internal/segment"
	"github.com/replaykit/replaykit/internal/touch"
)

// submitKeyBandFraction is how far right a bottom-band tap must sit to read
// as the Enter/Search key when no element label is available.
const submitKeyBandFraction = 0.85

// Rect is an axis-aligned bounding box in device pixels.
type Rect struct {
	MinX float64 `yaml:"min_x" json:"min_x"`
	MinY float64 `yaml:"min_y" json:"min_y"`
	MaxX float64 `yaml:"max_x" json:"max_x"`
	MaxY float64 `yaml:"max_y" json:"max_y"`
}

// Contains reports whether the point lies inside the box.
func (r Rect) Contains(p segment.Point) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

// Sequence is one candidate keyboard-entry span. InferredText stays nil until
// the interview fills it; a nil text at synthesis time is a hard error.
type Sequence struct {
	Index        int             `yaml:"index" json:"index"`
	Events       []segment.Event `yaml:"events" json:"events"`
	Region       Rect            `yaml:"region" json:"region"`
	InferredText *string         `yaml:"inferred_text,omitempty" json:"inferred_text,omitempty"`
	Submitted    bool            `yaml:"submitted" json:"submitted"`

	// FrameRef names the screen as captured just before the first tap, for
	// display during annotation. Empty for touch-only captures.
	FrameRef string `yaml:"frame_ref,omitempty" json:"frame_ref,omitempty"`
}

// StartMS returns the sequence's first tap timestamp.
func (s Sequence) StartMS() int64 {
	if len(s.Events) == 0 {
		return 0
	}
	return s.Events[0].StartMS
}

// EndMS returns the sequence's last tap end timestamp.
func (s Sequence) EndMS() int64 {
	if len(s.Events) == 0 {
		return 0
	}
	return s.Events[len(s.Events)-1].EndMS
}

// Covers reports whether the event's time range falls inside the sequence.
func (s Sequence) Covers(ev segment.Event) bool {
	return ev.StartMS >= s.StartMS() && ev.EndMS <= s.EndMS()
}

// Validate enforces structural soundness of a detected sequence.
func (s Sequence) Validate(minTaps int) error {
	if len(s.Events) < minTaps {
		return fmt.Errorf("typing: sequence %d has %d taps, need at least %d", s.Index, len(s.Events), minTaps)
	}
	return nil
}

// Detector finds keyboard-entry candidates in the event stream.
type Detector struct {
	h config.Heuristics
}

// New builds a Detector with the given tuning.
func New(h config.Heuristics) *Detector {
	return &Detector{h: h}
}

// Detect scans events in order and emits zero or more non-overlapping typing
// sequences. A run qualifies when it has at least TypingMinTaps consecutive
// taps, every origin in the bottom screen band, and every start-to-start gap
// under TypingMaxGapMS. Runs extend greedily and never merge across an
// interruption. A terminal tap in the rightmost part of the band closes the
// run as submitted.
func (d *Detector) Detect(events []segment.Event, screen touch.Screen) []Sequence {
	if !screen.Known() {
		// Without the screen height there is no bottom band to test against.
		return nil
	}
	bandTop := screen.Height * (1 - d.h.TypingBandFraction)

	var sequences []Sequence
	i := 0
	for i < len(events) {
		if !d.qualifies(events[i], bandTop) {
			i++
			continue
		}
		run := []segment.Event{events[i]}
		submitted := false
		j := i + 1
		for j < len(events) {
			next := events[j]
			if !d.qualifies(next, bandTop) {
				break
			}
			if next.StartMS-events[j-1].StartMS >= d.h.TypingMaxGapMS {
				break
			}
			run = append(run, next)
			j++
			if d.isSubmitKey(next, bandTop, screen) {
				submitted = true
				break
			}
		}
		if len(run) >= d.h.TypingMinTaps {
			sequences = append(sequences, Sequence{
				Index:     len(sequences),
				Events:    run,
				Region:    regionOf(run),
				Submitted: submitted,
			})
		}
		// Scanning resumes after the run; interrupted runs are never merged
		// back into a later cluster.
		i = j
	}
	return sequences
}

// qualifies reports whether the event can participate in a typing run.
func (d *Detector) qualifies(ev segment.Event, bandTop float64) bool {
	if ev.Kind != segment.KindTap {
		return false
	}
	return ev.Origin.Y >= bandTop
}

// isSubmitKey applies the positional Enter/Search heuristic: the rightmost
// key region of the bottom band.
func (d *Detector) isSubmitKey(ev segment.Event, bandTop float64, screen touch.Screen) bool {
	return ev.Origin.Y >= bandTop && ev.Origin.X >= screen.Width*submitKeyBandFraction
}

func regionOf(run []segment.Event) Rect {
	r := Rect{
		MinX: run[0].Origin.X, MaxX: run[0].Origin.X,
		MinY: run[0].Origin.Y, MaxY: run[0].Origin.Y,
	}
	for _, ev := range run[1:] {
		if ev.Origin.X < r.MinX {
			r.MinX = ev.Origin.X
		}
		if ev.Origin.X > r.MaxX {
			r.MaxX = ev.Origin.X
		}
		if ev.Origin.Y < r.MinY {
			r.MinY = ev.Origin.Y
		}
		if ev.Origin.Y > r.MaxY {
			r.MaxY = ev.Origin.Y
		}
	}
	return r
}
