// Package runner replays a compiled script against a live device. Each step
// maps to exactly one device capability call; verify_screen additionally
// consults the verification oracle. Device failures abort the replay, failed
// verdicts are recorded and replay continues so one bad screen does not hide
// later regressions.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/replaykit/replaykit/internal/device"
	"github.com/replaykit/replaykit/internal/logbook"
	"github.com/replaykit/replaykit/internal/oracle"
	"github.com/replaykit/replaykit/internal/script"
	"github.com/replaykit/replaykit/internal/touch"
)

// Verifier is the oracle surface the runner needs. *oracle.Oracle satisfies
// it.
type Verifier interface {
	Verify(ctx context.Context, imageData []byte, mimeType, expectation string) (oracle.Verdict, error)
}

// StepResult records the outcome of one replayed step. Skipped marks a
// verify_screen step that ran under skip-verify mode.
type StepResult struct {
	Index   int
	Action  string
	Verdict *oracle.Verdict
	Skipped bool
}

// Report is the outcome of one replay run.
type Report struct {
	Script  string
	Results []StepResult
}

// Passed reports whether every verification verdict passed.
func (r Report) Passed() bool {
	for _, res := range r.Results {
		if res.Verdict != nil && !res.Verdict.Pass {
			return false
		}
	}
	return true
}

// Runner interprets scripts against a device.
type Runner struct {
	dev        device.Capabilities
	verify     Verifier
	skipVerify bool
	book       *logbook.Logbook

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogbook journals replay progress.
func WithLogbook(book *logbook.Logbook) Option {
	return func(r *Runner) { r.book = book }
}

// WithVerifier attaches a verification oracle. Without one, verify_screen
// steps fail unless skip-verify mode is on.
func WithVerifier(v Verifier) Option {
	return func(r *Runner) { r.verify = v }
}

// WithSkipVerify records verify_screen steps as skipped instead of consulting
// the oracle, so a script with verifications still replays end to end.
func WithSkipVerify() Option {
	return func(r *Runner) { r.skipVerify = true }
}

// New builds a runner over the given device.
func New(dev device.Capabilities, opts ...Option) *Runner {
	r := &Runner{dev: dev, sleep: sleepCtx}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Run replays the script from the first step. It stops at the first device
// error and returns the partial report alongside the error.
func (r *Runner) Run(ctx context.Context, s script.Script) (Report, error) {
	if err := s.Validate(); err != nil {
		return Report{}, err
	}
	report := Report{Script: s.Name}

	screen, err := r.dev.ScreenSize(ctx)
	if err != nil {
		return report, fmt.Errorf("runner: screen size: %w", err)
	}

	for i, step := range s.Steps {
		r.book.Info("step %d: %s at %dms", i, step.Action, step.AtMS)
		res := StepResult{Index: i, Action: step.Action}
		if step.Action == script.ActionVerifyScreen && r.skipVerify {
			r.book.Info("step %d: verification skipped", i)
			res.Skipped = true
			report.Results = append(report.Results, res)
			continue
		}
		verdict, err := r.runStep(ctx, step, screen)
		if err != nil {
			r.book.Error("step %d: %v", i, err)
			report.Results = append(report.Results, res)
			return report, fmt.Errorf("runner: step %d (%s at %dms): %w", i, step.Action, step.AtMS, err)
		}
		res.Verdict = verdict
		if verdict != nil && !verdict.Pass {
			r.book.Warn("step %d: verification failed: %s", i, verdict.Reason)
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

func (r *Runner) runStep(ctx context.Context, step script.Step, screen touch.Screen) (*oracle.Verdict, error) {
	switch step.Action {
	case script.ActionTap:
		x, y, err := r.resolveTarget(ctx, step, screen)
		if err != nil {
			return nil, err
		}
		return nil, r.dev.Tap(ctx, x, y)

	case script.ActionMultiTap:
		x, y, err := r.resolveTarget(ctx, step, screen)
		if err != nil {
			return nil, err
		}
		n := step.Repeat
		if n < 2 {
			n = 2
		}
		for range n {
			if err := r.dev.Tap(ctx, x, y); err != nil {
				return nil, err
			}
		}
		return nil, nil

	case script.ActionLongPress:
		x, y, err := r.resolveTarget(ctx, step, screen)
		if err != nil {
			return nil, err
		}
		return nil, r.dev.LongPress(ctx, x, y)

	case script.ActionSwipe:
		x, y := resolvePoint(step, screen)
		return nil, r.dev.Swipe(ctx, step.Direction, x, y, step.DistancePX)

	case script.ActionType:
		return nil, r.dev.Type(ctx, step.Text, step.Submit)

	case script.ActionPress:
		return nil, r.dev.Press(ctx, step.Key)

	case script.ActionWaitFor:
		return nil, r.sleep(ctx, time.Duration(step.TimeoutMS)*time.Millisecond)

	case script.ActionVerifyScreen:
		if r.verify == nil {
			return nil, fmt.Errorf("no verification oracle configured")
		}
		img, mime, err := r.dev.Screenshot(ctx)
		if err != nil {
			return nil, err
		}
		verdict, err := r.verify.Verify(ctx, img, mime, step.Expectation)
		if err != nil {
			return nil, err
		}
		return &verdict, nil

	default:
		return nil, fmt.Errorf("unknown action %q", step.Action)
	}
}

// resolveTarget turns a step's target into absolute pixels: a labeled element
// looked up live on the device, or recorded coordinates.
func (r *Runner) resolveTarget(ctx context.Context, step script.Step, screen touch.Screen) (float64, float64, error) {
	if step.Label != "" {
		elements, err := r.dev.Elements(ctx)
		if err != nil {
			return 0, 0, err
		}
		el, ok := device.FindLabeled(elements, step.Label)
		if !ok {
			return 0, 0, fmt.Errorf("element %q not on screen", step.Label)
		}
		x, y := el.Center()
		return x, y, nil
	}
	x, y := resolvePoint(step, screen)
	return x, y, nil
}

func resolvePoint(step script.Step, screen touch.Screen) (float64, float64) {
	if step.XPercent != 0 || step.YPercent != 0 {
		return step.XPercent / 100 * screen.Width, step.YPercent / 100 * screen.Height
	}
	return step.X, step.Y
}
