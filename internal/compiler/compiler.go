// Package compiler coordinates the pipeline stages over one session's
// persisted artifacts: segmentation and the two detectors during the Detect
// pass, annotation merge plus script synthesis during the Synthesize pass.
// The two passes are deliberately separate so the interview can run between
// them.
package compiler

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/replaykit/replaykit/internal/checkpoint"
	"github.com/replaykit/replaykit/internal/config"
	"github.com/replaykit/replaykit/internal/frames"
	"github.com/replaykit/replaykit/internal/interview"
	"github.com/replaykit/replaykit/internal/logging"
	"github.com/replaykit/replaykit/internal/script"
	"github.com/replaykit/replaykit/internal/segment"
	"github.com/replaykit/replaykit/internal/session"
	"github.com/replaykit/replaykit/internal/typing"
)

// Compiler runs the recording pipeline against session artifacts.
type Compiler struct {
	cfg *config.Config
	log *logging.Logger
}

// New wires a compiler to the project configuration.
func New(cfg *config.Config, log *logging.Logger) *Compiler {
	return &Compiler{cfg: cfg, log: log}
}

// DetectResult summarizes what the detection pass found.
type DetectResult struct {
	Events      []segment.Event
	Typing      []typing.Sequence
	Checkpoints []checkpoint.Candidate
}

// Detect runs segmentation, typing detection, and checkpoint detection over
// the session's capture and persists each stage's output as a write-once
// artifact. Clock misalignment between the touch and frame streams is fatal:
// checkpoint anchors would land on the wrong frames.
func (c *Compiler) Detect(s *session.Session) (DetectResult, error) {
	meta, err := s.Meta()
	if err != nil {
		return DetectResult{}, err
	}
	samples, err := s.ReadTouchLog()
	if err != nil {
		return DetectResult{}, err
	}

	h := c.cfg.Heuristics()
	events, err := segment.New(h, segment.WithLogbook(s.Book)).Segment(samples)
	if err != nil {
		return DetectResult{}, err
	}
	if err := s.WriteEvents(events); err != nil {
		return DetectResult{}, err
	}

	sequences := typing.New(h).Detect(events, meta.Screen)

	var candidates []checkpoint.Candidate
	ix, err := frames.LoadDir(s.FramesDir())
	if err != nil {
		// A touch-only capture still compiles; it just has no verification
		// candidates to offer.
		s.Book.Warn("no frame stream: %v; skipping checkpoint detection", err)
	} else {
		if err := ix.CheckAlignment(samples, h.ClockSkewToleranceMS); err != nil {
			return DetectResult{}, err
		}
		// The interview shows each typing run against the screen the author
		// saw before the first tap, hence the lead.
		for i := range sequences {
			if frame, ok := ix.Before(sequences[i].StartMS(), h.FrameLeadMS); ok {
				sequences[i].FrameRef = frame.Ref()
			}
		}
		candidates, err = checkpoint.New(h).Detect(ix, events, meta.Screen)
		if err != nil {
			return DetectResult{}, err
		}
	}
	if err := s.WriteTypingCandidates(sequences); err != nil {
		return DetectResult{}, err
	}
	if err := s.WriteCheckpointCandidates(candidates); err != nil {
		return DetectResult{}, err
	}

	s.Book.Info("detection: %d events, %d typing candidates, %d checkpoint candidates",
		len(events), len(sequences), len(candidates))
	c.logf("session %s: detection complete (%d events)", s.ID, len(events))
	return DetectResult{Events: events, Typing: sequences, Checkpoints: candidates}, nil
}

// Synthesize merges the session's finalized artifacts with the interview
// annotations and emits the final script under the project scripts
// directory. It returns the script and the path it was written to.
func (c *Compiler) Synthesize(s *session.Session) (script.Script, string, error) {
	meta, err := s.Meta()
	if err != nil {
		return script.Script{}, "", err
	}
	events, err := s.ReadEvents()
	if err != nil {
		return script.Script{}, "", fmt.Errorf("compiler: detection has not run: %w", err)
	}
	sequences, err := s.ReadTypingCandidates()
	if err != nil {
		return script.Script{}, "", err
	}
	candidates, err := s.ReadCheckpointCandidates()
	if err != nil {
		return script.Script{}, "", err
	}

	var answers interview.Annotations
	if _, err := s.ReadAnnotations(&answers); err != nil {
		return script.Script{}, "", err
	}
	if !answers.Complete(sequences) {
		return script.Script{}, "", fmt.Errorf("compiler: run the interview first: %w", script.ErrUnfilledInterview)
	}
	sequences, candidates, err = interview.Apply(sequences, candidates, answers)
	if err != nil {
		return script.Script{}, "", err
	}

	h := c.cfg.Heuristics()
	var resolver script.LabelResolver
	var snapshots []script.ElementSnapshot
	if ok, err := s.ReadElements(&snapshots); err != nil {
		return script.Script{}, "", err
	} else if ok {
		resolver = script.NewElementResolver(snapshots, h.FrameLeadMS)
	}

	out, err := script.Synthesize(script.Inputs{
		SessionID:   s.ID,
		Events:      events,
		Typing:      sequences,
		Checkpoints: candidates,
		Screen:      meta.Screen,
		Labels:      resolver,
		LongWaitMS:  h.LongWaitMS,
	})
	if err != nil {
		if errors.Is(err, script.ErrUnfilledInterview) {
			return script.Script{}, "", fmt.Errorf("compiler: run the interview first: %w", err)
		}
		return script.Script{}, "", err
	}

	path := filepath.Join(c.cfg.ScriptsDir(), s.ID+".yaml")
	if err := out.WriteFile(path); err != nil {
		return script.Script{}, "", err
	}
	s.Book.Info("synthesized %d steps to %s", len(out.Steps), path)
	c.logf("session %s: script written to %s", s.ID, path)
	return out, path, nil
}

func (c *Compiler) logf(format string, args ...any) {
	if c.log != nil {
		c.log.Printf(format, args...)
	}
}
