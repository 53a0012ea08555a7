// Package device abstracts the phone-side automation server behind a small
// capability interface. Replay only ever talks to Capabilities; the MCP
// client below is the one production implementation, and tests substitute
// in-memory fakes.
package device

import (
	"context"

	"github.com/replaykit/replaykit/internal/touch"
	"github.com/replaykit/replaykit/internal/typing"
)

// Element is one accessibility node reported by the device, with its screen
// bounds in pixels. Label may be empty for undecorated nodes.
type Element struct {
	Label  string      `json:"label"`
	Bounds typing.Rect `json:"bounds"`
}

// Center returns the tap point for the element.
func (e Element) Center() (x, y float64) {
	return (e.Bounds.MinX + e.Bounds.MaxX) / 2, (e.Bounds.MinY + e.Bounds.MaxY) / 2
}

// Capabilities is the device surface the replay runner depends on. Every
// method takes a context so a stuck device server cannot hang a replay past
// its deadline.
type Capabilities interface {
	// ScreenSize reports the device screen dimensions in pixels.
	ScreenSize(ctx context.Context) (touch.Screen, error)

	// Tap touches down and up at the given pixel coordinates.
	Tap(ctx context.Context, x, y float64) error

	// LongPress holds at the given pixel coordinates.
	LongPress(ctx context.Context, x, y float64) error

	// Swipe drags across the screen starting at x,y in the named direction
	// (up, down, left, right) for roughly distancePX pixels.
	Swipe(ctx context.Context, direction string, x, y, distancePX float64) error

	// Type enters text into the focused field, optionally submitting.
	Type(ctx context.Context, text string, submit bool) error

	// Press pushes a hardware or navigation key (back, home, enter).
	Press(ctx context.Context, key string) error

	// Screenshot captures the current screen as encoded image bytes.
	Screenshot(ctx context.Context) ([]byte, string, error)

	// Elements lists the visible accessibility elements.
	Elements(ctx context.Context) ([]Element, error)

	// Close shuts down the connection to the device server.
	Close() error
}

// FindLabeled returns the unique element carrying the given label. Ambiguous
// or missing labels report false.
func FindLabeled(elements []Element, label string) (Element, bool) {
	var found Element
	n := 0
	for _, el := range elements {
		if el.Label == label {
			found = el
			n++
		}
	}
	return found, n == 1
}
