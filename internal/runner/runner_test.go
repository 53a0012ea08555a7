package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replaykit/replaykit/internal/device"
	"github.com/replaykit/replaykit/internal/oracle"
	"github.com/replaykit/replaykit/internal/script"
	"github.com/replaykit/replaykit/internal/touch"
	"github.com/replaykit/replaykit/internal/typing"
)

// fakeDevice records every capability call as a formatted string.
type fakeDevice struct {
	calls    []string
	elements []device.Element
	tapErr   error
}

func (d *fakeDevice) ScreenSize(ctx context.Context) (touch.Screen, error) {
	return touch.Screen{Width: 1000, Height: 2000}, nil
}

func (d *fakeDevice) Tap(ctx context.Context, x, y float64) error {
	d.calls = append(d.calls, fmt.Sprintf("tap %.0f,%.0f", x, y))
	return d.tapErr
}

func (d *fakeDevice) LongPress(ctx context.Context, x, y float64) error {
	d.calls = append(d.calls, fmt.Sprintf("long_press %.0f,%.0f", x, y))
	return nil
}

func (d *fakeDevice) Swipe(ctx context.Context, direction string, x, y, distancePX float64) error {
	d.calls = append(d.calls, fmt.Sprintf("swipe %s from %.0f,%.0f", direction, x, y))
	return nil
}

func (d *fakeDevice) Type(ctx context.Context, text string, submit bool) error {
	d.calls = append(d.calls, fmt.Sprintf("type %q submit=%v", text, submit))
	return nil
}

func (d *fakeDevice) Press(ctx context.Context, key string) error {
	d.calls = append(d.calls, "press "+key)
	return nil
}

func (d *fakeDevice) Screenshot(ctx context.Context) ([]byte, string, error) {
	d.calls = append(d.calls, "screenshot")
	return []byte{0x89}, "image/png", nil
}

func (d *fakeDevice) Elements(ctx context.Context) ([]device.Element, error) {
	d.calls = append(d.calls, "elements")
	return d.elements, nil
}

func (d *fakeDevice) Close() error { return nil }

type fakeVerifier struct {
	verdict oracle.Verdict
	asked   []string
}

func (v *fakeVerifier) Verify(ctx context.Context, imageData []byte, mimeType, expectation string) (oracle.Verdict, error) {
	v.asked = append(v.asked, expectation)
	return v.verdict, nil
}

func instantSleep(r *Runner) {
	r.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
}

func TestRunReplaysEveryStep(t *testing.T) {
	dev := &fakeDevice{}
	verifier := &fakeVerifier{verdict: oracle.Verdict{Pass: true, Confidence: 0.9, Reason: "ok"}}
	r := New(dev, WithVerifier(verifier))
	instantSleep(r)

	s := script.Script{Version: 1, Steps: []script.Step{
		{Action: script.ActionTap, AtMS: 0, XPercent: 50, YPercent: 25},
		{Action: script.ActionWaitFor, AtMS: 100, TimeoutMS: 2000},
		{Action: script.ActionType, AtMS: 200, Text: "hello", Submit: true},
		{Action: script.ActionVerifyScreen, AtMS: 300, Expectation: "greeting shown"},
		{Action: script.ActionSwipe, AtMS: 400, DurationMS: 150, Direction: "up", DistancePX: 600, XPercent: 50, YPercent: 80},
		{Action: script.ActionPress, AtMS: 600, Key: "back"},
	}}

	report, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, report.Passed())
	assert.Equal(t, []string{
		"tap 500,500",
		`type "hello" submit=true`,
		"screenshot",
		"swipe up from 500,1600",
		"press back",
	}, dev.calls)
	assert.Equal(t, []string{"greeting shown"}, verifier.asked)
}

func TestRunResolvesLabelsLive(t *testing.T) {
	dev := &fakeDevice{elements: []device.Element{
		{Label: "Submit", Bounds: typing.Rect{MinX: 400, MinY: 1500, MaxX: 600, MaxY: 1600}},
	}}
	r := New(dev)

	s := script.Script{Version: 1, Steps: []script.Step{
		{Action: script.ActionTap, AtMS: 0, Label: "Submit"},
	}}
	_, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, []string{"elements", "tap 500,1550"}, dev.calls)
}

func TestRunFailsWhenLabelMissing(t *testing.T) {
	r := New(&fakeDevice{})
	s := script.Script{Version: 1, Steps: []script.Step{
		{Action: script.ActionTap, AtMS: 0, Label: "Ghost"},
	}}
	_, err := r.Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `element "Ghost" not on screen`)
	assert.Contains(t, err.Error(), "step 0")
}

func TestRunStopsOnDeviceError(t *testing.T) {
	dev := &fakeDevice{tapErr: errors.New("device gone")}
	r := New(dev)
	s := script.Script{Version: 1, Steps: []script.Step{
		{Action: script.ActionTap, AtMS: 0, X: 10, Y: 10},
		{Action: script.ActionPress, AtMS: 100, Key: "home"},
	}}
	report, err := r.Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 0")
	// The failing step is recorded, the rest never runs.
	assert.Len(t, report.Results, 1)
	assert.Equal(t, []string{"tap 10,10"}, dev.calls)
}

func TestRunContinuesPastFailedVerdict(t *testing.T) {
	dev := &fakeDevice{}
	verifier := &fakeVerifier{verdict: oracle.Verdict{Pass: false, Confidence: 0.8, Reason: "wrong screen"}}
	r := New(dev, WithVerifier(verifier))

	s := script.Script{Version: 1, Steps: []script.Step{
		{Action: script.ActionVerifyScreen, AtMS: 0, Expectation: "cart is empty"},
		{Action: script.ActionPress, AtMS: 100, Key: "home"},
	}}
	report, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, report.Passed())
	require.Len(t, report.Results, 2)
	require.NotNil(t, report.Results[0].Verdict)
	assert.Equal(t, "wrong screen", report.Results[0].Verdict.Reason)
	assert.Contains(t, dev.calls, "press home")
}

func TestRunSkipsVerificationsWhenAsked(t *testing.T) {
	dev := &fakeDevice{}
	r := New(dev, WithSkipVerify())

	s := script.Script{Version: 1, Steps: []script.Step{
		{Action: script.ActionTap, AtMS: 0, X: 10, Y: 10},
		{Action: script.ActionVerifyScreen, AtMS: 100, Expectation: "cart is empty"},
		{Action: script.ActionPress, AtMS: 200, Key: "home"},
	}}
	report, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	// No oracle is attached; the verification is recorded as skipped and the
	// screenshot is never taken.
	assert.True(t, report.Passed())
	require.Len(t, report.Results, 3)
	assert.True(t, report.Results[1].Skipped)
	assert.Nil(t, report.Results[1].Verdict)
	assert.Equal(t, []string{"tap 10,10", "press home"}, dev.calls)
}

func TestRunWithoutOracleFailsVerification(t *testing.T) {
	r := New(&fakeDevice{})
	s := script.Script{Version: 1, Steps: []script.Step{
		{Action: script.ActionVerifyScreen, AtMS: 0, Expectation: "cart is empty"},
	}}
	_, err := r.Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no verification oracle")
}

func TestRunMultiTapRepeats(t *testing.T) {
	dev := &fakeDevice{}
	r := New(dev)
	s := script.Script{Version: 1, Steps: []script.Step{
		{Action: script.ActionMultiTap, AtMS: 0, DurationMS: 400, Repeat: 3, X: 20, Y: 30},
	}}
	_, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, []string{"tap 20,30", "tap 20,30", "tap 20,30"}, dev.calls)
}
