// Package segment turns the raw touch stream into discrete interaction
// events. This is the first compiler stage: everything downstream (typing
// detection, checkpoint anchoring, script synthesis) works on its output.
package segment

import (
	"fmt"
	"math"

	"github.com/replaykit/replaykit/internal/config"
	"github.com/replaykit/replaykit/internal/logbook"
	"github.com/replaykit/replaykit/internal/touch"
)

// Kind classifies one segmented gesture.
type Kind string

const (
	KindTap       Kind = "tap"
	KindLongPress Kind = "long_press"
	KindSwipe     Kind = "swipe"
	KindMultiTap  Kind = "multi_tap"
	// KindPress represents a hardware/system key event injected into the
	// event stream by the capture side (e.g. the Android back button).
	KindPress Kind = "press"
)

// Direction is the dominant axis of a swipe.
type Direction string

const (
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// Point is a device-pixel coordinate.
type Point struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

// Dist returns the Euclidean distance to other.
func (p Point) Dist(other Point) float64 {
	return math.Hypot(other.X-p.X, other.Y-p.Y)
}

// Event is one segmented gesture, derived deterministically from a
// contiguous run of samples sharing a pointer session.
type Event struct {
	Kind        Kind      `yaml:"kind" json:"kind"`
	StartMS     int64     `yaml:"start_ms" json:"start_ms"`
	EndMS       int64     `yaml:"end_ms" json:"end_ms"`
	Origin      Point     `yaml:"origin" json:"origin"`
	End         Point     `yaml:"end,omitempty" json:"end,omitempty"`
	Direction   Direction `yaml:"direction,omitempty" json:"direction,omitempty"`
	Distance    float64   `yaml:"distance,omitempty" json:"distance,omitempty"`
	RepeatCount int       `yaml:"repeat_count,omitempty" json:"repeat_count,omitempty"`
	// Label carries the key name for press events ("back", "home").
	Label string `yaml:"label,omitempty" json:"label,omitempty"`
}

// Duration returns the event span in milliseconds.
func (e Event) DurationMS() int64 {
	return e.EndMS - e.StartMS
}

// Validate enforces the per-event invariant.
func (e Event) Validate() error {
	if e.EndMS < e.StartMS {
		return fmt.Errorf("segment: event ends (%dms) before it starts (%dms)", e.EndMS, e.StartMS)
	}
	return nil
}

// Segmenter groups raw touch samples into interaction events using the
// configured time/distance thresholds.
type Segmenter struct {
	h    config.Heuristics
	book *logbook.Logbook
}

// Option customizes the segmenter.
type Option func(*Segmenter)

// WithLogbook attaches a session journal for non-fatal warnings.
func WithLogbook(book *logbook.Logbook) Option {
	return func(s *Segmenter) {
		s.book = book
	}
}

// New builds a Segmenter with the given tuning.
func New(h config.Heuristics, opts ...Option) *Segmenter {
	s := &Segmenter{h: h}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// openRun tracks one in-flight pointer session (down .. up).
type openRun struct {
	pointerID int
	samples   []touch.Sample
}

// Segment reduces the ordered sample stream to an ordered event sequence.
// A pointer session with no up sample before capture end is discarded with a
// logged warning, never silently promoted to a tap.
func (s *Segmenter) Segment(samples []touch.Sample) ([]Event, error) {
	if err := touch.ValidateOrdering(samples); err != nil {
		return nil, err
	}

	open := map[int]*openRun{}
	var events []Event
	for i, sample := range samples {
		if err := sample.Validate(); err != nil {
			return nil, fmt.Errorf("segment: sample %d: %w", i, err)
		}
		run := open[sample.PointerID]
		switch sample.Phase {
		case touch.PhaseDown:
			if run != nil {
				// A second down without an up means the capture lost the
				// release; drop the stale run and start over.
				s.warnf("pointer %d: down at %dms while a session was open; discarding stale session", sample.PointerID, sample.TimestampMS)
			}
			open[sample.PointerID] = &openRun{pointerID: sample.PointerID, samples: []touch.Sample{sample}}
		case touch.PhaseMove:
			if run == nil {
				s.warnf("pointer %d: move at %dms with no open session; ignoring", sample.PointerID, sample.TimestampMS)
				continue
			}
			run.samples = append(run.samples, sample)
		case touch.PhaseUp:
			if run == nil {
				s.warnf("pointer %d: up at %dms with no open session; ignoring", sample.PointerID, sample.TimestampMS)
				continue
			}
			run.samples = append(run.samples, sample)
			events = append(events, s.classify(run))
			delete(open, sample.PointerID)
		}
	}

	for _, run := range open {
		first := run.samples[0]
		s.warnf("pointer %d: session starting at %dms never saw an up sample; discarding (capture truncation)", run.pointerID, first.TimestampMS)
	}

	events = s.collapseMultiTaps(events)
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// classify decides the gesture kind for a closed pointer session.
func (s *Segmenter) classify(run *openRun) Event {
	first := run.samples[0]
	last := run.samples[len(run.samples)-1]
	origin := Point{X: first.X, Y: first.Y}
	end := Point{X: last.X, Y: last.Y}
	duration := last.TimestampMS - first.TimestampMS
	displacement := origin.Dist(end)

	ev := Event{
		StartMS: first.TimestampMS,
		EndMS:   last.TimestampMS,
		Origin:  origin,
		End:     end,
	}

	switch {
	case displacement >= s.h.SwipeRadiusPX:
		ev.Kind = KindSwipe
		ev.Direction = dominantDirection(origin, end)
		ev.Distance = displacement
	case duration >= s.h.LongPressThresholdMS && displacement < s.h.TapRadiusPX:
		ev.Kind = KindLongPress
	default:
		// Durations between the tap and long-press thresholds with small
		// displacement read as sluggish taps.
		ev.Kind = KindTap
	}
	return ev
}

// collapseMultiTaps merges bursts of taps at nearly the same origin whose
// start times fall within the multi-tap window into a single multi_tap event.
func (s *Segmenter) collapseMultiTaps(events []Event) []Event {
	if len(events) < 2 {
		return events
	}
	var out []Event
	i := 0
	for i < len(events) {
		ev := events[i]
		if ev.Kind != KindTap {
			out = append(out, ev)
			i++
			continue
		}
		j := i + 1
		for j < len(events) {
			next := events[j]
			if next.Kind != KindTap {
				break
			}
			if next.StartMS-events[j-1].StartMS > s.h.MultiTapWindowMS {
				break
			}
			if ev.Origin.Dist(next.Origin) >= s.h.TapRadiusPX {
				break
			}
			j++
		}
		if count := j - i; count > 1 {
			merged := ev
			merged.Kind = KindMultiTap
			merged.EndMS = events[j-1].EndMS
			merged.End = events[j-1].End
			merged.RepeatCount = count
			out = append(out, merged)
		} else {
			out = append(out, ev)
		}
		i = j
	}
	return out
}

func dominantDirection(from, to Point) Direction {
	dx := to.X - from.X
	dy := to.Y - from.Y
	if math.Abs(dx) >= math.Abs(dy) {
		if dx >= 0 {
			return DirectionRight
		}
		return DirectionLeft
	}
	if dy >= 0 {
		return DirectionDown
	}
	return DirectionUp
}

func (s *Segmenter) warnf(format string, args ...any) {
	s.book.Warn(format, args...)
}
