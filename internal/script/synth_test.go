package script

import (
	"bytes"
	"errors"
	"testing"

	"github.com/replaykit/replaykit/internal/checkpoint"
	"github.com/replaykit/replaykit/internal/segment"
	"github.com/replaykit/replaykit/internal/touch"
	"github.com/replaykit/replaykit/internal/typing"
)

var testScreen = touch.Screen{Width: 1000, Height: 2000}

func tapEvent(startMS int64, x, y float64) segment.Event {
	return segment.Event{
		Kind:    segment.KindTap,
		StartMS: startMS,
		EndMS:   startMS + 50,
		Origin:  segment.Point{X: x, Y: y},
		End:     segment.Point{X: x, Y: y},
	}
}

func strPtr(s string) *string { return &s }

func TestSynthesizeReplacesTypingRunWithOneTypeStep(t *testing.T) {
	events := []segment.Event{
		tapEvent(0, 200, 1800),
		tapEvent(200, 350, 1800),
		tapEvent(400, 500, 1850),
		tapEvent(600, 920, 1900),
		tapEvent(2000, 500, 500), // ordinary tap after the typing run
	}
	seq := typing.Sequence{
		Index:        0,
		Events:       events[:4],
		InferredText: strPtr("hello"),
		Submitted:    true,
	}
	got, err := Synthesize(Inputs{
		SessionID: "s1",
		Events:    events,
		Typing:    []typing.Sequence{seq},
		Screen:    testScreen,
	})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("expected [type, tap], got %d steps: %+v", len(got.Steps), got.Steps)
	}
	ts := got.Steps[0]
	if ts.Action != ActionType || ts.Text != "hello" || !ts.Submit {
		t.Fatalf("unexpected type step: %+v", ts)
	}
	if ts.AtMS != 650 {
		t.Fatalf("type step should sit at the sequence end (650ms), got %d", ts.AtMS)
	}
	if got.Steps[1].Action != ActionTap {
		t.Fatalf("expected trailing tap, got %+v", got.Steps[1])
	}
}

func TestSynthesizeFailsOnUnfilledInterview(t *testing.T) {
	events := []segment.Event{
		tapEvent(0, 200, 1800),
		tapEvent(200, 350, 1800),
		tapEvent(400, 500, 1850),
	}
	seq := typing.Sequence{Index: 0, Events: events}
	_, err := Synthesize(Inputs{
		Events: events,
		Typing: []typing.Sequence{seq},
		Screen: testScreen,
	})
	if err == nil {
		t.Fatalf("expected a hard failure for unfilled typing text")
	}
	if !errors.Is(err, ErrUnfilledInterview) {
		t.Fatalf("expected ErrUnfilledInterview, got %v", err)
	}
}

func TestSynthesizePrefersLabelsOverCoordinates(t *testing.T) {
	events := []segment.Event{tapEvent(100, 500, 300)}
	resolver := NewElementResolver([]ElementSnapshot{{
		TimestampMS: 0,
		Elements: []Element{{
			Label:  "Search",
			Bounds: typing.Rect{MinX: 400, MinY: 250, MaxX: 600, MaxY: 350},
		}},
	}}, 100)
	got, err := Synthesize(Inputs{Events: events, Screen: testScreen, Labels: resolver})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if got.Steps[0].Label != "Search" {
		t.Fatalf("expected label Search, got %+v", got.Steps[0])
	}
	if got.Steps[0].XPercent != 0 || got.Steps[0].X != 0 {
		t.Fatalf("label and coordinates must not both be emitted: %+v", got.Steps[0])
	}
}

func TestSynthesizeFallsBackToPercentCoordinates(t *testing.T) {
	events := []segment.Event{tapEvent(100, 123, 456)}
	got, err := Synthesize(Inputs{Events: events, Screen: testScreen})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	step := got.Steps[0]
	if step.XPercent != 12.3 || step.YPercent != 22.8 {
		t.Fatalf("expected percentage coordinates, got %+v", step)
	}
}

func TestSynthesizeInterleavesCheckpoints(t *testing.T) {
	events := []segment.Event{
		tapEvent(0, 100, 100),
		tapEvent(5000, 200, 200),
	}
	cps := []checkpoint.Candidate{{
		Index:        0,
		AnchorMS:     2500,
		Trigger:      checkpoint.TriggerLongWait,
		Verification: "home feed is visible",
	}}
	got, err := Synthesize(Inputs{Events: events, Checkpoints: cps, Screen: testScreen})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(got.Steps) != 3 {
		t.Fatalf("expected tap, verify, tap; got %+v", got.Steps)
	}
	if got.Steps[1].Action != ActionVerifyScreen || got.Steps[1].Expectation != "home feed is visible" {
		t.Fatalf("expected verify_screen between the taps, got %+v", got.Steps[1])
	}
}

func TestSynthesizeDropsSkippedAndUnannotatedCheckpoints(t *testing.T) {
	events := []segment.Event{tapEvent(0, 100, 100)}
	cps := []checkpoint.Candidate{
		{Index: 0, AnchorMS: 10, Verification: "x", Skipped: true},
		{Index: 1, AnchorMS: 20}, // never annotated
	}
	got, err := Synthesize(Inputs{Events: events, Checkpoints: cps, Screen: testScreen})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	for _, step := range got.Steps {
		if step.Action == ActionVerifyScreen {
			t.Fatalf("skipped/unannotated checkpoints must not be emitted: %+v", step)
		}
	}
}

func TestSynthesizeInsertsWaitForUncoveredGaps(t *testing.T) {
	events := []segment.Event{
		tapEvent(0, 100, 100),
		tapEvent(3050, 200, 200),
	}
	got, err := Synthesize(Inputs{Events: events, Screen: testScreen, LongWaitMS: 2000})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(got.Steps) != 3 {
		t.Fatalf("expected tap, wait_for, tap; got %+v", got.Steps)
	}
	wait := got.Steps[1]
	if wait.Action != ActionWaitFor || wait.TimeoutMS != 3000 {
		t.Fatalf("unexpected wait step: %+v", wait)
	}
}

func TestSynthesizeOrderingInvariant(t *testing.T) {
	events := []segment.Event{
		tapEvent(0, 100, 1800),
		{Kind: segment.KindSwipe, StartMS: 1000, EndMS: 1300,
			Origin: segment.Point{X: 500, Y: 800}, End: segment.Point{X: 500, Y: 200},
			Direction: segment.DirectionUp, Distance: 600},
		tapEvent(4000, 300, 300),
	}
	cps := []checkpoint.Candidate{
		{Index: 0, AnchorMS: 1100, Verification: "list is scrolling"}, // mid-swipe anchor
		{Index: 1, AnchorMS: 2600, Verification: "results loaded"},
	}
	got, err := Synthesize(Inputs{Events: events, Checkpoints: cps, Screen: testScreen, LongWaitMS: 2000})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	for i := 1; i < len(got.Steps); i++ {
		if got.Steps[i].AtMS < got.Steps[i-1].AtMS {
			t.Fatalf("timestamps decrease at step %d: %+v", i, got.Steps)
		}
		if got.Steps[i].AtMS < got.Steps[i-1].EndMS() {
			t.Fatalf("step %d overlaps step %d: %+v", i, i-1, got.Steps)
		}
	}
}

func TestSynthesizeRoundTripIsByteIdentical(t *testing.T) {
	in := Inputs{
		SessionID: "abc",
		Events: []segment.Event{
			tapEvent(0, 100, 100),
			tapEvent(500, 200, 200),
		},
		Checkpoints: []checkpoint.Candidate{
			{Index: 0, AnchorMS: 300, Verification: "detail page open"},
		},
		Screen: testScreen,
	}
	first, err := Synthesize(in)
	if err != nil {
		t.Fatalf("first synthesis: %v", err)
	}
	second, err := Synthesize(in)
	if err != nil {
		t.Fatalf("second synthesis: %v", err)
	}
	a, err := first.Marshal()
	if err != nil {
		t.Fatalf("marshal first: %v", err)
	}
	b, err := second.Marshal()
	if err != nil {
		t.Fatalf("marshal second: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("re-synthesis is not byte-identical:\n%s\n---\n%s", a, b)
	}
}

func TestParseRejectsInvalidScripts(t *testing.T) {
	if _, err := Parse([]byte("")); err == nil {
		t.Fatalf("expected empty payload rejection")
	}
	bad := "version: 1\nsteps:\n  - action: teleport\n    at_ms: 0\n"
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatalf("expected unknown action rejection")
	}
}
