// Package session owns the lifetime of one recording run: its working
// directory, its journal, and the write-once intermediate artifacts exchanged
// between the pipeline stages and the interview. Nothing here survives
// finalization except the emitted script, which is persisted elsewhere.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/replaykit/replaykit/internal/checkpoint"
	"github.com/replaykit/replaykit/internal/config"
	"github.com/replaykit/replaykit/internal/logbook"
	"github.com/replaykit/replaykit/internal/segment"
	"github.com/replaykit/replaykit/internal/touch"
	"github.com/replaykit/replaykit/internal/typing"
)

// ErrSessionActive means another recording session holds the working
// directory. A new recording must not start while one is unfinalized.
var ErrSessionActive = errors.New("session: another recording session is active")

// ErrArtifactExists enforces the write-once discipline on intermediate
// artifacts: once a stage has persisted its output, nothing overwrites it.
var ErrArtifactExists = errors.New("session: artifact already written")

const lockFileName = "active.lock"

// Artifact file names inside a session directory.
const (
	touchLogName    = "touches.jsonl"
	metaName        = "meta.yaml"
	eventsName      = "events.yaml"
	typingName      = "typing-candidates.yaml"
	checkpointsName = "checkpoint-candidates.yaml"
	annotationsName = "annotations.yaml"
	journalName     = "session.log"
	framesDirName   = "frames"
	elementsName    = "elements.yaml"
)

// Meta captures per-session facts needed by later stages.
type Meta struct {
	ID     string       `yaml:"id"`
	Screen touch.Screen `yaml:"screen"`
}

// Session is one recording run from start to finalize/discard.
type Session struct {
	ID   string
	Dir  string
	Book *logbook.Logbook

	cfg      *config.Config
	lockPath string
}

// Start creates a new session and takes the exclusive recording lock. It
// fails with ErrSessionActive if an unfinalized session already owns the
// project.
func Start(cfg *config.Config, screen touch.Screen) (*Session, error) {
	id := uuid.NewString()
	dir := filepath.Join(cfg.SessionsDir(), id)
	if err := os.MkdirAll(filepath.Join(dir, framesDirName), 0o755); err != nil {
		return nil, fmt.Errorf("session: create dir: %w", err)
	}

	lockPath := filepath.Join(cfg.SessionsDir(), lockFileName)
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			holder, _ := os.ReadFile(lockPath)
			return nil, fmt.Errorf("%w (held by %s)", ErrSessionActive, strings.TrimSpace(string(holder)))
		}
		return nil, fmt.Errorf("session: take lock: %w", err)
	}
	if _, err := lock.WriteString(id + "\n"); err != nil {
		lock.Close()
		return nil, fmt.Errorf("session: write lock: %w", err)
	}
	if err := lock.Close(); err != nil {
		return nil, fmt.Errorf("session: close lock: %w", err)
	}

	book, err := logbook.New(filepath.Join(dir, journalName))
	if err != nil {
		return nil, fmt.Errorf("session: open journal: %w", err)
	}

	s := &Session{ID: id, Dir: dir, Book: book, cfg: cfg, lockPath: lockPath}
	if err := s.writeOnceYAML(metaName, Meta{ID: id, Screen: screen}); err != nil {
		return nil, err
	}
	book.Info("session %s started", id)
	return s, nil
}

// Open attaches to an existing session directory, e.g. for the interview or
// synthesis passes after detection already ran.
func Open(cfg *config.Config, id string) (*Session, error) {
	dir := filepath.Join(cfg.SessionsDir(), id)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("session: open %s: %w", id, err)
	}
	book, err := logbook.New(filepath.Join(dir, journalName))
	if err != nil {
		return nil, fmt.Errorf("session: open journal: %w", err)
	}
	return &Session{
		ID: id, Dir: dir, Book: book, cfg: cfg,
		lockPath: filepath.Join(cfg.SessionsDir(), lockFileName),
	}, nil
}

// Finalize releases the recording lock. The session directory and its
// artifacts stay on disk, read-only by convention.
func (s *Session) Finalize() error {
	s.Book.Info("session %s finalized", s.ID)
	return s.releaseLock()
}

// Discard aborts the session before finalization: the lock is released and
// the whole working directory is removed.
func (s *Session) Discard() error {
	if err := s.releaseLock(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		return fmt.Errorf("session: discard %s: %w", s.ID, err)
	}
	return nil
}

func (s *Session) releaseLock() error {
	holder, err := os.ReadFile(s.lockPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("session: read lock: %w", err)
	}
	if strings.TrimSpace(string(holder)) != s.ID {
		// Some other session owns the lock; leave it alone.
		return nil
	}
	if err := os.Remove(s.lockPath); err != nil {
		return fmt.Errorf("session: release lock: %w", err)
	}
	return nil
}

// FramesDir returns the directory holding the session's extracted frames.
func (s *Session) FramesDir() string {
	return filepath.Join(s.Dir, framesDirName)
}

// Meta reads the session metadata artifact.
func (s *Session) Meta() (Meta, error) {
	var meta Meta
	if err := s.readYAML(metaName, &meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// WriteTouchLog persists the raw capture. Write-once.
func (s *Session) WriteTouchLog(samples []touch.Sample) error {
	path := filepath.Join(s.Dir, touchLogName)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrArtifactExists, touchLogName)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("session: create %s: %w", touchLogName, err)
	}
	defer f.Close()
	if err := touch.WriteLog(f, samples); err != nil {
		return err
	}
	return nil
}

// ReadTouchLog loads the raw capture.
func (s *Session) ReadTouchLog() ([]touch.Sample, error) {
	return touch.ReadLogFile(filepath.Join(s.Dir, touchLogName))
}

// WriteEvents persists the segmented event sequence. Write-once.
func (s *Session) WriteEvents(events []segment.Event) error {
	return s.writeOnceYAML(eventsName, events)
}

// ReadEvents loads the segmented event sequence.
func (s *Session) ReadEvents() ([]segment.Event, error) {
	var events []segment.Event
	if err := s.readYAML(eventsName, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// WriteTypingCandidates persists the typing detection output, keyed by each
// sequence's stable index so the interview can reference entries
// idempotently. Write-once.
func (s *Session) WriteTypingCandidates(sequences []typing.Sequence) error {
	return s.writeOnceYAML(typingName, sequences)
}

// ReadTypingCandidates loads the typing detection output.
func (s *Session) ReadTypingCandidates() ([]typing.Sequence, error) {
	var sequences []typing.Sequence
	if err := s.readYAML(typingName, &sequences); err != nil {
		return nil, err
	}
	return sequences, nil
}

// WriteCheckpointCandidates persists the ranked checkpoint list. Write-once.
func (s *Session) WriteCheckpointCandidates(candidates []checkpoint.Candidate) error {
	return s.writeOnceYAML(checkpointsName, candidates)
}

// ReadCheckpointCandidates loads the ranked checkpoint list.
func (s *Session) ReadCheckpointCandidates() ([]checkpoint.Candidate, error) {
	var candidates []checkpoint.Candidate
	if err := s.readYAML(checkpointsName, &candidates); err != nil {
		return nil, err
	}
	return candidates, nil
}

// WriteAnnotations persists interview answers. Unlike detection artifacts
// the annotation file may be rewritten: the interview is idempotent and a
// user may revisit answers before synthesis.
func (s *Session) WriteAnnotations(v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", annotationsName, err)
	}
	path := filepath.Join(s.Dir, annotationsName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("session: write %s: %w", annotationsName, err)
	}
	return nil
}

// ReadAnnotations loads interview answers into v. Missing annotations are
// not an error; the caller decides whether unfilled data is fatal.
func (s *Session) ReadAnnotations(v any) (bool, error) {
	path := filepath.Join(s.Dir, annotationsName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("session: read %s: %w", annotationsName, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("session: parse %s: %w", annotationsName, err)
	}
	return true, nil
}

// WriteElements persists timestamped element snapshots captured during
// recording. Write-once.
func (s *Session) WriteElements(v any) error {
	return s.writeOnceYAML(elementsName, v)
}

// ReadElements loads element snapshots into v; reports whether the artifact
// exists.
func (s *Session) ReadElements(v any) (bool, error) {
	path := filepath.Join(s.Dir, elementsName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("session: read %s: %w", elementsName, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("session: parse %s: %w", elementsName, err)
	}
	return true, nil
}

func (s *Session) writeOnceYAML(name string, v any) error {
	path := filepath.Join(s.Dir, name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrArtifactExists, name)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session: stat %s: %w", name, err)
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", name, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("session: create %s: %w", name, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("session: write %s: %w", name, err)
	}
	return nil
}

func (s *Session) readYAML(name string, v any) error {
	path := filepath.Join(s.Dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("session: read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("session: parse %s: %w", name, err)
	}
	return nil
}
