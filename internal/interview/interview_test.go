package interview

import (
	"testing"

	"github.com/replaykit/replaykit/internal/checkpoint"
	"github.com/replaykit/replaykit/internal/typing"
)

func TestApplyAttachesTypedText(t *testing.T) {
	sequences := []typing.Sequence{{Index: 0}, {Index: 1}}
	a := Annotations{Typing: []TypingAnswer{
		{Index: 0, Text: "hello"},
		{Index: 1, Text: "world"},
	}}
	outSeqs, _, err := Apply(sequences, nil, a)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outSeqs[0].InferredText == nil || *outSeqs[0].InferredText != "hello" {
		t.Fatalf("sequence 0 text not attached: %+v", outSeqs[0])
	}
	if outSeqs[1].InferredText == nil || *outSeqs[1].InferredText != "world" {
		t.Fatalf("sequence 1 text not attached: %+v", outSeqs[1])
	}
	// The detection input is untouched.
	if sequences[0].InferredText != nil {
		t.Fatalf("apply must not mutate its input")
	}
}

func TestApplyDropsSkippedCheckpoints(t *testing.T) {
	candidates := []checkpoint.Candidate{{Index: 0}, {Index: 1}, {Index: 2}}
	a := Annotations{Checkpoints: []CheckpointAnswer{
		{Index: 0, Verification: "cart shows one item"},
		{Index: 1, Skip: true},
	}}
	_, outCPs, err := Apply(nil, candidates, a)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(outCPs) != 2 {
		t.Fatalf("expected skipped checkpoint to be removed, got %+v", outCPs)
	}
	if outCPs[0].Verification != "cart shows one item" {
		t.Fatalf("verification not attached: %+v", outCPs[0])
	}
	if outCPs[1].Index != 2 || outCPs[1].Verification != "" {
		t.Fatalf("unanswered checkpoint should pass through unannotated: %+v", outCPs[1])
	}
}

func TestValidateRejectsConflictingAnswers(t *testing.T) {
	a := Annotations{Checkpoints: []CheckpointAnswer{
		{Index: 0, Verification: "x", Skip: true},
	}}
	if err := a.Validate(); err == nil {
		t.Fatalf("expected conflict rejection")
	}
	b := Annotations{Typing: []TypingAnswer{{Index: 0, Text: ""}}}
	if err := b.Validate(); err == nil {
		t.Fatalf("expected empty text rejection")
	}
}

func TestCompleteRequiresEveryTypingAnswer(t *testing.T) {
	sequences := []typing.Sequence{{Index: 0}, {Index: 1}}
	partial := Annotations{Typing: []TypingAnswer{{Index: 0, Text: "hi"}}}
	if partial.Complete(sequences) {
		t.Fatalf("expected incomplete annotations")
	}
	full := Annotations{Typing: []TypingAnswer{
		{Index: 0, Text: "hi"}, {Index: 1, Text: "there"},
	}}
	if !full.Complete(sequences) {
		t.Fatalf("expected complete annotations")
	}
}
