package script

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/replaykit/replaykit/internal/checkpoint"
	"github.com/replaykit/replaykit/internal/segment"
	"github.com/replaykit/replaykit/internal/touch"
	"github.com/replaykit/replaykit/internal/typing"
)

// ErrUnfilledInterview signals that a typing sequence reached synthesis with
// no confirmed text. The synthesizer refuses to guess typed input; the
// interview must run first.
var ErrUnfilledInterview = errors.New("script: typing sequence has unconfirmed text")

// Inputs carries the finalized intermediate artifacts of one session.
type Inputs struct {
	SessionID   string
	Name        string
	Events      []segment.Event
	Typing      []typing.Sequence
	Checkpoints []checkpoint.Candidate
	Screen      touch.Screen
	// Labels resolves tap targets to element labels; nil disables label
	// preference and every tap falls back to coordinates.
	Labels LabelResolver
	// LongWaitMS inserts a wait_for step into any inter-action gap of at
	// least this length that no verify_screen already occupies. Zero
	// disables wait insertion.
	LongWaitMS int64
}

// Synthesize merges events, typing sequences, and annotated checkpoints into
// an ordered, structurally valid script. The output is a deterministic
// function of its inputs: re-running on the same finalized artifacts yields
// byte-identical YAML.
func Synthesize(in Inputs) (Script, error) {
	for _, seq := range in.Typing {
		if seq.InferredText == nil {
			return Script{}, fmt.Errorf("%w: sequence %d (%d..%dms)",
				ErrUnfilledInterview, seq.Index, seq.StartMS(), seq.EndMS())
		}
	}

	actions := actionSteps(in)
	steps := append([]Step(nil), actions...)
	steps = append(steps, waitSteps(in, actions)...)
	steps = append(steps, verifySteps(in)...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].AtMS < steps[j].AtMS })

	// A checkpoint anchored mid-gesture (a frame captured during a swipe or
	// long press) would overlap that gesture's span; nudge the inserted step
	// to the gesture's end. Action spans themselves never overlap, so a
	// single forward pass preserves ordering.
	for i := 1; i < len(steps); i++ {
		if steps[i].DurationMS == 0 && steps[i].AtMS < steps[i-1].EndMS() {
			steps[i].AtMS = steps[i-1].EndMS()
		}
	}

	out := Script{
		Version: 1,
		Session: in.SessionID,
		Name:    in.Name,
		Steps:   steps,
	}
	if err := out.Validate(); err != nil {
		return Script{}, err
	}
	return out, nil
}

// actionSteps walks events in time order, replacing every typing-covered tap
// burst with exactly one type step at the sequence's end time. Raw taps are
// never emitted alongside their synthesized replacement.
func actionSteps(in Inputs) []Step {
	var steps []Step
	emitted := map[int]bool{}
	for _, ev := range in.Events {
		if seq, ok := coveringSequence(in.Typing, ev); ok {
			if !emitted[seq.Index] {
				steps = append(steps, Step{
					Action: ActionType,
					AtMS:   seq.EndMS(),
					Text:   *seq.InferredText,
					Submit: seq.Submitted,
				})
				emitted[seq.Index] = true
			}
			continue
		}
		steps = append(steps, eventStep(ev, in))
	}
	return steps
}

func coveringSequence(sequences []typing.Sequence, ev segment.Event) (typing.Sequence, bool) {
	for _, seq := range sequences {
		if seq.Covers(ev) {
			return seq, true
		}
	}
	return typing.Sequence{}, false
}

func eventStep(ev segment.Event, in Inputs) Step {
	step := Step{AtMS: ev.StartMS, DurationMS: ev.EndMS - ev.StartMS}
	switch ev.Kind {
	case segment.KindTap:
		step.Action = ActionTap
		placeTarget(&step, ev, in)
	case segment.KindMultiTap:
		step.Action = ActionMultiTap
		step.Repeat = ev.RepeatCount
		placeTarget(&step, ev, in)
	case segment.KindLongPress:
		step.Action = ActionLongPress
		placeTarget(&step, ev, in)
	case segment.KindSwipe:
		step.Action = ActionSwipe
		step.Direction = string(ev.Direction)
		step.DistancePX = math.Round(ev.Distance)
		placeCoordinates(&step, ev.Origin, in.Screen)
	case segment.KindPress:
		step.Action = ActionPress
		step.Key = ev.Label
	}
	return step
}

// placeTarget prefers a resolved element label, then percentage-of-screen
// coordinates, then absolute pixels.
func placeTarget(step *Step, ev segment.Event, in Inputs) {
	if in.Labels != nil {
		if label, ok := in.Labels(ev.Origin, ev.StartMS); ok {
			step.Label = label
			return
		}
	}
	placeCoordinates(step, ev.Origin, in.Screen)
}

func placeCoordinates(step *Step, p segment.Point, screen touch.Screen) {
	if screen.Known() {
		step.XPercent = roundPercent(p.X / screen.Width * 100)
		step.YPercent = roundPercent(p.Y / screen.Height * 100)
		return
	}
	step.X = p.X
	step.Y = p.Y
}

func roundPercent(v float64) float64 {
	return math.Round(v*10) / 10
}

// verifySteps emits one verify_screen per annotated, non-skipped checkpoint.
// Candidates the interview neither annotated nor skipped carry no usable
// expectation and are dropped.
func verifySteps(in Inputs) []Step {
	var steps []Step
	for _, c := range in.Checkpoints {
		if c.Skipped || c.Verification == "" {
			continue
		}
		steps = append(steps, Step{
			Action:      ActionVerifyScreen,
			AtMS:        c.AnchorMS,
			Expectation: c.Verification,
		})
	}
	return steps
}

// waitSteps preserves the recording's long pauses: any inter-action gap that
// meets the dwell threshold gets a wait_for, unless a verify_screen is
// already anchored inside the gap (verification implies waiting).
func waitSteps(in Inputs, actions []Step) []Step {
	if in.LongWaitMS <= 0 {
		return nil
	}
	var steps []Step
	for i := 1; i < len(actions); i++ {
		prevEnd := actions[i-1].EndMS()
		gap := actions[i].AtMS - prevEnd
		if gap < in.LongWaitMS {
			continue
		}
		if checkpointInside(in.Checkpoints, prevEnd, actions[i].AtMS) {
			continue
		}
		steps = append(steps, Step{
			Action:    ActionWaitFor,
			AtMS:      prevEnd,
			TimeoutMS: gap,
		})
	}
	return steps
}

func checkpointInside(candidates []checkpoint.Candidate, fromMS, toMS int64) bool {
	for _, c := range candidates {
		if c.Skipped || c.Verification == "" {
			continue
		}
		if c.AnchorMS >= fromMS && c.AnchorMS <= toMS {
			return true
		}
	}
	return false
}
