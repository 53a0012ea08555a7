// Package checkpoint scans a recording for moments worth verifying: visible
// screen changes, long dwell gaps, and navigation transitions. Candidates are
// scored, ranked, and capped so the interview step only ever sees a short,
// deterministic list.
package checkpoint

import (
	"fmt"

	"github.com/corona10/goimagehash"

	"github.com/replaykit/replaykit/internal/config"
	"github.com/replaykit/replaykit/internal/frames"
	"github.com/replaykit/replaykit/internal/segment"
	"github.com/replaykit/replaykit/internal/touch"
)

// Trigger identifies what produced a candidate.
type Trigger string

const (
	TriggerScreenChange Trigger = "screen_change"
	TriggerLongWait     Trigger = "long_wait"
	TriggerNavigation   Trigger = "navigation"
)

// waitWeight converts dwell seconds into score units.
const waitWeight = 3.0

// navCorrelationWindowMS is how far back from a screen change a tap may sit
// and still count as the cause of a navigation transition.
const navCorrelationWindowMS = 800

// Back-affordance zone: the bottom-left corner of the screen, where the
// Android navigation bar's back control lives in LTR layouts.
const (
	backZoneWidthFraction  = 0.15
	backZoneHeightFraction = 0.90
)

// Candidate is one potential verification point. Verification and Skipped
// are filled by the interview step; a skipped candidate is dropped and never
// reaches the script.
type Candidate struct {
	Index        int     `yaml:"index" json:"index"`
	FrameRef     string  `yaml:"frame_ref" json:"frame_ref"`
	AnchorMS     int64   `yaml:"anchor_ms" json:"anchor_ms"`
	Score        float64 `yaml:"score" json:"score"`
	Trigger      Trigger `yaml:"trigger" json:"trigger"`
	Verification string  `yaml:"verification,omitempty" json:"verification,omitempty"`
	Skipped      bool    `yaml:"skipped,omitempty" json:"skipped,omitempty"`
}

// DistanceFunc measures perceptual distance between two frames. The default
// implementation uses a difference hash with Hamming distance, which tolerates
// animation noise where a pixel-equality check would not.
type DistanceFunc func(a, b frames.Frame) (int, error)

// Detector finds and ranks verification candidates.
type Detector struct {
	h        config.Heuristics
	distance DistanceFunc
}

// Option customizes the detector.
type Option func(*Detector)

// WithDistanceFunc overrides perceptual distance measurement (tests).
func WithDistanceFunc(fn DistanceFunc) Option {
	return func(d *Detector) {
		if fn != nil {
			d.distance = fn
		}
	}
}

// New builds a Detector with the given tuning.
func New(h config.Heuristics, opts ...Option) *Detector {
	d := &Detector{h: h, distance: hashDistance}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect produces the ranked, capped candidate list for one recording.
func (d *Detector) Detect(ix *frames.Index, events []segment.Event, screen touch.Screen) ([]Candidate, error) {
	var candidates []Candidate

	changes, err := d.screenChanges(ix)
	if err != nil {
		return nil, err
	}
	changes = d.promoteNavigation(changes, events, screen)
	candidates = append(candidates, changes...)
	candidates = append(candidates, d.longWaits(ix, events)...)
	candidates = append(candidates, d.backPresses(ix, events)...)

	return Rank(candidates, d.h.CheckpointCap), nil
}

// screenChanges emits a candidate wherever consecutive frame hashes differ by
// more than the similarity threshold, anchored at the later frame.
func (d *Detector) screenChanges(ix *frames.Index) ([]Candidate, error) {
	list := ix.Frames()
	var out []Candidate
	for i := 1; i < len(list); i++ {
		dist, err := d.distance(list[i-1], list[i])
		if err != nil {
			return nil, fmt.Errorf("checkpoint: frame %s vs %s: %w", list[i-1].Ref(), list[i].Ref(), err)
		}
		if dist <= d.h.HashDistanceThreshold {
			continue
		}
		out = append(out, Candidate{
			FrameRef: list[i].Ref(),
			AnchorMS: list[i].TimestampMS,
			Score:    float64(dist),
			Trigger:  TriggerScreenChange,
		})
	}
	return out, nil
}

// promoteNavigation upgrades screen changes that correlate with a preceding
// tap near the back affordance.
func (d *Detector) promoteNavigation(changes []Candidate, events []segment.Event, screen touch.Screen) []Candidate {
	if !screen.Known() {
		return changes
	}
	zoneMaxX := screen.Width * backZoneWidthFraction
	zoneMinY := screen.Height * backZoneHeightFraction
	for i, c := range changes {
		for _, ev := range events {
			if ev.Kind != segment.KindTap && ev.Kind != segment.KindMultiTap {
				continue
			}
			if ev.EndMS > c.AnchorMS || c.AnchorMS-ev.EndMS > navCorrelationWindowMS {
				continue
			}
			if ev.Origin.X <= zoneMaxX && ev.Origin.Y >= zoneMinY {
				changes[i].Trigger = TriggerNavigation
				changes[i].Score = c.Score + d.h.NavigationBonus
				break
			}
		}
	}
	return changes
}

// longWaits emits a candidate per inter-event gap of at least the configured
// dwell, anchored to the frame nearest the gap midpoint.
func (d *Detector) longWaits(ix *frames.Index, events []segment.Event) []Candidate {
	var out []Candidate
	for i := 1; i < len(events); i++ {
		gap := events[i].StartMS - events[i-1].EndMS
		if gap < d.h.LongWaitMS {
			continue
		}
		mid := events[i-1].EndMS + gap/2
		frame, ok := ix.Nearest(mid)
		if !ok {
			continue
		}
		out = append(out, Candidate{
			FrameRef: frame.Ref(),
			AnchorMS: mid,
			Score:    float64(gap) / 1000 * waitWeight,
			Trigger:  TriggerLongWait,
		})
	}
	return out
}

// backPresses emits a navigation candidate per hardware back press in the
// event stream.
func (d *Detector) backPresses(ix *frames.Index, events []segment.Event) []Candidate {
	var out []Candidate
	for _, ev := range events {
		if ev.Kind != segment.KindPress || ev.Label != "back" {
			continue
		}
		c := Candidate{
			AnchorMS: ev.EndMS,
			Score:    d.h.NavigationBonus,
			Trigger:  TriggerNavigation,
		}
		if frame, ok := ix.Nearest(ev.EndMS); ok {
			c.FrameRef = frame.Ref()
		}
		out = append(out, c)
	}
	return out
}

// Rank orders candidates by descending score, breaking ties by earlier
// anchor timestamp, truncates to the cap, and assigns stable indices. The
// ordering is fully deterministic so regenerated artifacts are reproducible.
func Rank(candidates []Candidate, limit int) []Candidate {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sortCandidates(ranked)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	for i := range ranked {
		ranked[i].Index = i
	}
	return ranked
}

func sortCandidates(list []Candidate) {
	// Stable: equal-score candidates keep ascending-anchor order.
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && less(list[j], list[j-1]); j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

func less(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.AnchorMS < b.AnchorMS
}

// hashDistance is the production DistanceFunc: difference hash + Hamming.
func hashDistance(a, b frames.Frame) (int, error) {
	imgA, err := a.Image()
	if err != nil {
		return 0, err
	}
	imgB, err := b.Image()
	if err != nil {
		return 0, err
	}
	hashA, err := goimagehash.DifferenceHash(imgA)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: hash %s: %w", a.Ref(), err)
	}
	hashB, err := goimagehash.DifferenceHash(imgB)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: hash %s: %w", b.Ref(), err)
	}
	dist, err := hashA.Distance(hashB)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: distance %s vs %s: %w", a.Ref(), b.Ref(), err)
	}
	return dist, nil
}
