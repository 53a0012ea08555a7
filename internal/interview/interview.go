// Package interview models the human-confirmation pass between detection and
// synthesis. Detection emits candidates; the interview collects the answers
// (typed text, chosen verification wording, skips) as a separate annotation
// artifact; Apply merges the two right before synthesis. Keeping annotation
// out of the detectors makes the whole detect → annotate → synthesize flow a
// two-phase commit: detection artifacts stay write-once, answers may be
// revised until synthesis.
package interview

import (
	"fmt"

	"github.com/replaykit/replaykit/internal/checkpoint"
	"github.com/replaykit/replaykit/internal/typing"
)

// TypingAnswer is the confirmed text for one typing sequence.
type TypingAnswer struct {
	Index int    `yaml:"index"`
	Text  string `yaml:"text"`
}

// CheckpointAnswer is the verification choice for one checkpoint candidate.
// Skip and Verification are mutually exclusive.
type CheckpointAnswer struct {
	Index        int    `yaml:"index"`
	Verification string `yaml:"verification,omitempty"`
	Skip         bool   `yaml:"skip,omitempty"`
}

// Annotations is the full interview artifact, keyed by the stable candidate
// indices so re-running the interview overwrites answers idempotently.
type Annotations struct {
	Typing      []TypingAnswer     `yaml:"typing,omitempty"`
	Checkpoints []CheckpointAnswer `yaml:"checkpoints,omitempty"`
}

// Validate rejects structurally broken answers before they are persisted.
func (a Annotations) Validate() error {
	for _, ans := range a.Typing {
		if ans.Text == "" {
			return fmt.Errorf("interview: typing answer %d has empty text", ans.Index)
		}
	}
	for _, ans := range a.Checkpoints {
		if ans.Skip && ans.Verification != "" {
			return fmt.Errorf("interview: checkpoint answer %d both skips and verifies", ans.Index)
		}
	}
	return nil
}

// Complete reports whether every typing sequence has a confirmed answer.
// Checkpoints may stay unanswered (they are simply dropped), typed text may
// not.
func (a Annotations) Complete(sequences []typing.Sequence) bool {
	answered := map[int]bool{}
	for _, ans := range a.Typing {
		answered[ans.Index] = true
	}
	for _, seq := range sequences {
		if !answered[seq.Index] {
			return false
		}
	}
	return true
}

// Apply merges annotations into the detection candidates and returns the
// synthesized-ready copies: typing sequences with text attached, checkpoints
// with verifications attached and skipped entries removed.
func Apply(sequences []typing.Sequence, candidates []checkpoint.Candidate, a Annotations) ([]typing.Sequence, []checkpoint.Candidate, error) {
	if err := a.Validate(); err != nil {
		return nil, nil, err
	}

	typingByIndex := map[int]string{}
	for _, ans := range a.Typing {
		typingByIndex[ans.Index] = ans.Text
	}
	outSeqs := make([]typing.Sequence, len(sequences))
	copy(outSeqs, sequences)
	for i, seq := range outSeqs {
		if text, ok := typingByIndex[seq.Index]; ok {
			t := text
			outSeqs[i].InferredText = &t
		}
	}

	cpByIndex := map[int]CheckpointAnswer{}
	for _, ans := range a.Checkpoints {
		cpByIndex[ans.Index] = ans
	}
	var outCPs []checkpoint.Candidate
	for _, c := range candidates {
		ans, ok := cpByIndex[c.Index]
		if !ok {
			outCPs = append(outCPs, c)
			continue
		}
		if ans.Skip {
			continue
		}
		c.Verification = ans.Verification
		outCPs = append(outCPs, c)
	}
	return outSeqs, outCPs, nil
}
