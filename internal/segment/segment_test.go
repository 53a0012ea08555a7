package segment

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/replaykit/replaykit/internal/config"
	"github.com/replaykit/replaykit/internal/logbook"
	"github.com/replaykit/replaykit/internal/touch"
)

func tapSamples(startMS int64, x, y float64, pointer int, durMS int64) []touch.Sample {
	return []touch.Sample{
		{TimestampMS: startMS, X: x, Y: y, Phase: touch.PhaseDown, PointerID: pointer},
		{TimestampMS: startMS + durMS, X: x, Y: y, Phase: touch.PhaseUp, PointerID: pointer},
	}
}

func TestSegmentClassifiesTap(t *testing.T) {
	seg := New(config.DefaultHeuristics())
	samples := []touch.Sample{
		{TimestampMS: 1000, X: 100, Y: 200, Phase: touch.PhaseDown},
		{TimestampMS: 1040, X: 102, Y: 203, Phase: touch.PhaseMove},
		{TimestampMS: 1080, X: 103, Y: 204, Phase: touch.PhaseUp},
	}
	events, err := seg.Segment(samples)
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	ev := events[0]
	if ev.Kind != KindTap {
		t.Fatalf("expected tap, got %s", ev.Kind)
	}
	if ev.StartMS != 1000 || ev.EndMS != 1080 {
		t.Fatalf("unexpected span: %d..%d", ev.StartMS, ev.EndMS)
	}
	if ev.Origin.X != 100 || ev.Origin.Y != 200 {
		t.Fatalf("unexpected origin: %+v", ev.Origin)
	}
}

func TestSegmentClassifiesLongPress(t *testing.T) {
	seg := New(config.DefaultHeuristics())
	events, err := seg.Segment(tapSamples(0, 300, 400, 0, 500))
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if len(events) != 1 || events[0].Kind != KindLongPress {
		t.Fatalf("expected long_press, got %+v", events)
	}
}

func TestSegmentClassifiesSwipeWithDirection(t *testing.T) {
	seg := New(config.DefaultHeuristics())
	samples := []touch.Sample{
		{TimestampMS: 0, X: 500, Y: 800, Phase: touch.PhaseDown},
		{TimestampMS: 150, X: 500, Y: 500, Phase: touch.PhaseMove},
		{TimestampMS: 300, X: 500, Y: 200, Phase: touch.PhaseUp},
	}
	events, err := seg.Segment(samples)
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	ev := events[0]
	if ev.Kind != KindSwipe {
		t.Fatalf("expected swipe, got %s", ev.Kind)
	}
	if ev.Direction != DirectionUp {
		t.Fatalf("expected up, got %s", ev.Direction)
	}
	if ev.Distance != 600 {
		t.Fatalf("expected distance 600, got %f", ev.Distance)
	}
}

func TestSegmentCollapsesMultiTapBurst(t *testing.T) {
	seg := New(config.DefaultHeuristics())
	var samples []touch.Sample
	samples = append(samples, tapSamples(0, 100, 100, 0, 50)...)
	samples = append(samples, tapSamples(200, 102, 101, 0, 50)...)
	samples = append(samples, tapSamples(400, 101, 99, 0, 50)...)
	events, err := seg.Segment(samples)
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one collapsed event, got %d: %+v", len(events), events)
	}
	ev := events[0]
	if ev.Kind != KindMultiTap || ev.RepeatCount != 3 {
		t.Fatalf("expected multi_tap x3, got %+v", ev)
	}
	if ev.StartMS != 0 || ev.EndMS != 450 {
		t.Fatalf("unexpected merged span: %d..%d", ev.StartMS, ev.EndMS)
	}
}

func TestSegmentDoesNotCollapseDistantTaps(t *testing.T) {
	seg := New(config.DefaultHeuristics())
	var samples []touch.Sample
	samples = append(samples, tapSamples(0, 100, 100, 0, 50)...)
	samples = append(samples, tapSamples(200, 400, 400, 0, 50)...)
	events, err := seg.Segment(samples)
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected two taps, got %d", len(events))
	}
}

func TestSegmentDiscardsTruncatedSessionWithWarning(t *testing.T) {
	book, err := logbook.New(filepath.Join(t.TempDir(), "session.log"))
	if err != nil {
		t.Fatalf("logbook: %v", err)
	}
	seg := New(config.DefaultHeuristics(), WithLogbook(book))
	samples := []touch.Sample{
		{TimestampMS: 0, X: 10, Y: 10, Phase: touch.PhaseDown},
		{TimestampMS: 40, X: 10, Y: 10, Phase: touch.PhaseUp},
		{TimestampMS: 100, X: 50, Y: 50, Phase: touch.PhaseDown},
	}
	events, err := seg.Segment(samples)
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected truncated session to be discarded, got %d events", len(events))
	}
	lines, _ := book.Tail(5)
	found := false
	for _, line := range lines {
		if strings.Contains(line, "capture truncation") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a truncation warning in the logbook, got %v", lines)
	}
}

func TestSegmentIsDeterministic(t *testing.T) {
	seg := New(config.DefaultHeuristics())
	var samples []touch.Sample
	samples = append(samples, tapSamples(0, 100, 100, 0, 80)...)
	samples = append(samples, tapSamples(500, 200, 900, 0, 60)...)
	samples = append(samples,
		touch.Sample{TimestampMS: 1000, X: 500, Y: 800, Phase: touch.PhaseDown},
		touch.Sample{TimestampMS: 1300, X: 500, Y: 200, Phase: touch.PhaseUp},
	)
	first, err := seg.Segment(samples)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := seg.Segment(samples)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("segmentation is not deterministic:\n%+v\n%+v", first, second)
	}
}

func TestSegmentEventsDoNotOverlapAndCoverInput(t *testing.T) {
	seg := New(config.DefaultHeuristics())
	var samples []touch.Sample
	samples = append(samples, tapSamples(100, 100, 100, 0, 80)...)
	samples = append(samples, tapSamples(700, 300, 300, 0, 90)...)
	samples = append(samples, tapSamples(1500, 800, 800, 0, 70)...)
	events, err := seg.Segment(samples)
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("expected events")
	}
	for i := 1; i < len(events); i++ {
		if events[i].StartMS < events[i-1].EndMS {
			t.Fatalf("events %d and %d overlap", i-1, i)
		}
	}
	if events[0].StartMS != samples[0].TimestampMS {
		t.Fatalf("coverage does not start at first sample")
	}
	if events[len(events)-1].EndMS != samples[len(samples)-1].TimestampMS {
		t.Fatalf("coverage does not end at last sample")
	}
}
