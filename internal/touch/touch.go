// Package touch defines the raw capture record the compiler consumes. The
// capture producers (touch logger and frame grabber on the device side) are
// external; this package only models, validates, and persists their output.
package touch

import (
	"fmt"
	"strings"
)

// Phase identifies the contact lifecycle stage of one sample.
type Phase string

const (
	PhaseDown Phase = "down"
	PhaseMove Phase = "move"
	PhaseUp   Phase = "up"
)

// Sample is one raw contact point as produced by the capture side. Samples
// are immutable once written and ordered by timestamp; two samples may share
// a timestamp only across distinct pointer ids.
type Sample struct {
	TimestampMS int64   `json:"t_ms"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Phase       Phase   `json:"phase"`
	PointerID   int     `json:"pointer_id"`
}

// Normalize applies canonical formatting before validation.
func (s *Sample) Normalize() {
	if s == nil {
		return
	}
	s.Phase = Phase(strings.ToLower(strings.TrimSpace(string(s.Phase))))
}

// Validate checks that the sample is structurally sound.
func (s Sample) Validate() error {
	switch s.Phase {
	case PhaseDown, PhaseMove, PhaseUp:
	default:
		return fmt.Errorf("touch: unknown phase %q", s.Phase)
	}
	if s.TimestampMS < 0 {
		return fmt.Errorf("touch: negative timestamp %d", s.TimestampMS)
	}
	if s.PointerID < 0 {
		return fmt.Errorf("touch: negative pointer id %d", s.PointerID)
	}
	return nil
}

// Screen carries the device viewport dimensions in pixels. Zero dimensions
// mean "unknown"; consumers that need the screen (typing band, percentage
// coordinates) must check.
type Screen struct {
	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`
}

// Known reports whether both dimensions were captured.
func (sc Screen) Known() bool {
	return sc.Width > 0 && sc.Height > 0
}

// ValidateOrdering checks the whole-stream invariant: timestamps are
// non-decreasing, and equal timestamps only occur across distinct pointers.
func ValidateOrdering(samples []Sample) error {
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		if cur.TimestampMS < prev.TimestampMS {
			return fmt.Errorf("touch: sample %d out of order (%dms after %dms)", i, cur.TimestampMS, prev.TimestampMS)
		}
		if cur.TimestampMS == prev.TimestampMS && cur.PointerID == prev.PointerID {
			return fmt.Errorf("touch: duplicate timestamp %dms for pointer %d", cur.TimestampMS, cur.PointerID)
		}
	}
	return nil
}
