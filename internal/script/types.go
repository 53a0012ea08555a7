// Package script defines the replayable test script format and the
// synthesizer that compiles one from a session's finalized intermediate
// artifacts. The YAML layout here is the compiler's output contract with the
// replay runner and any external tooling.
package script

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Action discriminates the step variants.
const (
	ActionTap          = "tap"
	ActionLongPress    = "long_press"
	ActionSwipe        = "swipe"
	ActionMultiTap     = "multi_tap"
	ActionPress        = "press"
	ActionType         = "type"
	ActionWaitFor      = "wait_for"
	ActionVerifyScreen = "verify_screen"
)

// Step is one emitted element of the final script: a tagged variant with
// action-specific fields. AtMS is the source timestamp the step derives from;
// AtMS+DurationMS bounds the time span the step represents.
type Step struct {
	Action     string  `yaml:"action"`
	AtMS       int64   `yaml:"at_ms"`
	DurationMS int64   `yaml:"duration_ms,omitempty"`
	Label      string  `yaml:"label,omitempty"`
	XPercent   float64 `yaml:"x_pct,omitempty"`
	YPercent   float64 `yaml:"y_pct,omitempty"`
	X          float64 `yaml:"x,omitempty"`
	Y          float64 `yaml:"y,omitempty"`
	Repeat     int     `yaml:"repeat,omitempty"`
	// Swipe fields.
	Direction  string  `yaml:"direction,omitempty"`
	DistancePX float64 `yaml:"distance_px,omitempty"`
	// Type fields.
	Text   string `yaml:"text,omitempty"`
	Submit bool   `yaml:"submit,omitempty"`
	// Press fields.
	Key string `yaml:"key,omitempty"`
	// Wait/verify fields.
	TimeoutMS   int64  `yaml:"timeout_ms,omitempty"`
	Expectation string `yaml:"expectation,omitempty"`
}

// EndMS returns the end of the time span this step represents.
func (s Step) EndMS() int64 {
	return s.AtMS + s.DurationMS
}

// Validate checks the variant-specific required fields.
func (s Step) Validate() error {
	switch s.Action {
	case ActionTap, ActionLongPress, ActionMultiTap:
		if s.Label == "" && s.XPercent == 0 && s.YPercent == 0 && s.X == 0 && s.Y == 0 {
			return fmt.Errorf("script: %s step at %dms needs a label or coordinates", s.Action, s.AtMS)
		}
	case ActionSwipe:
		if s.Direction == "" {
			return fmt.Errorf("script: swipe step at %dms needs a direction", s.AtMS)
		}
	case ActionType:
		if s.Text == "" {
			return fmt.Errorf("script: type step at %dms has no text", s.AtMS)
		}
	case ActionPress:
		if s.Key == "" {
			return fmt.Errorf("script: press step at %dms has no key", s.AtMS)
		}
	case ActionWaitFor:
		if s.TimeoutMS <= 0 {
			return fmt.Errorf("script: wait_for step at %dms needs a timeout", s.AtMS)
		}
	case ActionVerifyScreen:
		if s.Expectation == "" {
			return fmt.Errorf("script: verify_screen step at %dms has no expectation", s.AtMS)
		}
	default:
		return fmt.Errorf("script: unknown action %q at %dms", s.Action, s.AtMS)
	}
	if s.DurationMS < 0 {
		return fmt.Errorf("script: negative duration at %dms", s.AtMS)
	}
	return nil
}

// Script is the compiler's output artifact. It deliberately carries no
// wall-clock metadata so that re-synthesizing the same finalized session
// produces byte-identical output.
type Script struct {
	Version int    `yaml:"version"`
	Session string `yaml:"session,omitempty"`
	Name    string `yaml:"name,omitempty"`
	Steps   []Step `yaml:"steps"`
}

// Validate checks every step plus the whole-script ordering invariant:
// timestamps are non-decreasing and no two steps overlap in time.
func (s Script) Validate() error {
	if s.Version < 1 {
		return fmt.Errorf("script: version must be >= 1")
	}
	for i, step := range s.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("script: step %d: %w", i, err)
		}
		if i == 0 {
			continue
		}
		prev := s.Steps[i-1]
		if step.AtMS < prev.AtMS {
			return fmt.Errorf("script: step %d at %dms precedes step %d at %dms", i, step.AtMS, i-1, prev.AtMS)
		}
		if step.AtMS < prev.EndMS() {
			return fmt.Errorf("script: step %d overlaps the span of step %d", i, i-1)
		}
	}
	return nil
}

// Marshal encodes the script as YAML.
func (s Script) Marshal() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("script: encode: %w", err)
	}
	return data, nil
}

// Parse decodes and validates a script payload.
func Parse(data []byte) (Script, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Script{}, errors.New("script: payload is empty")
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Script{}, fmt.Errorf("script: decode: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Script{}, err
	}
	return s, nil
}

// LoadFile reads a script from disk.
func LoadFile(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("script: read %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return Script{}, fmt.Errorf("script: %s: %w", path, err)
	}
	return s, nil
}

// WriteFile persists the script to disk.
func (s Script) WriteFile(path string) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("script: ensure dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("script: write %s: %w", path, err)
	}
	return nil
}
