// internal/tui/interview.go
//
// The interview walks the recording author through every question the
// detectors could not answer on their own: what text each typing sequence
// entered, and what each checkpoint screenshot should prove. It uses
// bubbletea, which follows The Elm Architecture:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// The flow is: User Input -> Message -> Update -> New Model -> View -> Screen

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/replaykit/replaykit/internal/checkpoint"
	"github.com/replaykit/replaykit/internal/interview"
	"github.com/replaykit/replaykit/internal/session"
	"github.com/replaykit/replaykit/internal/typing"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	frameStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2)
	faintStyle = lipgloss.NewStyle().Faint(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	doneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

type promptKind int

const (
	promptTyping promptKind = iota
	promptCheckpoint
)

// prompt is one question the interview asks.
type prompt struct {
	kind     promptKind
	sequence typing.Sequence
	cand     checkpoint.Candidate
}

// App is the interview model. It collects answers in memory and persists
// them as the session's annotations when the last question is answered.
type App struct {
	session *session.Session
	prompts []prompt
	current int
	input   textinput.Model
	answers interview.Annotations

	errMsg string
	done   bool
	saved  bool
	width  int
	height int
}

// NewApp builds the interview over a session's detection candidates.
func NewApp(s *session.Session, sequences []typing.Sequence, candidates []checkpoint.Candidate) *App {
	var prompts []prompt
	for _, seq := range sequences {
		prompts = append(prompts, prompt{kind: promptTyping, sequence: seq})
	}
	for _, cand := range candidates {
		prompts = append(prompts, prompt{kind: promptCheckpoint, cand: cand})
	}

	input := textinput.New()
	input.Placeholder = "type your answer"
	input.CharLimit = 200
	input.Focus()

	return &App{session: s, prompts: prompts, input: input}
}

// Run starts the interactive program and blocks until it exits.
func Run(s *session.Session, sequences []typing.Sequence, candidates []checkpoint.Candidate) error {
	app := NewApp(s, sequences, candidates)
	p := tea.NewProgram(app, tea.WithAltScreen())
	model, err := p.Run()
	if err != nil {
		return fmt.Errorf("tui: interview: %w", err)
	}
	final, ok := model.(*App)
	if !ok || !final.saved {
		return fmt.Errorf("tui: interview abandoned before completion")
	}
	return nil
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	if len(a.prompts) == 0 {
		return a.finish()
	}
	return textinput.Blink
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case savedMsg:
		a.done = true
		a.saved = true
		a.errMsg = ""
		if msg.err != nil {
			a.saved = false
			a.errMsg = msg.err.Error()
		}
		return a, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return a, tea.Quit
		case "enter":
			return a.submit()
		}
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

// submit records the current answer and advances. Typing questions demand
// text; an empty answer to a checkpoint question skips it.
func (a *App) submit() (tea.Model, tea.Cmd) {
	if a.done || a.current >= len(a.prompts) {
		return a, nil
	}
	text := strings.TrimSpace(a.input.Value())
	p := a.prompts[a.current]

	switch p.kind {
	case promptTyping:
		if text == "" {
			a.errMsg = "the replay has to know what was typed here"
			return a, nil
		}
		a.answers.Typing = append(a.answers.Typing, interview.TypingAnswer{
			Index: p.sequence.Index,
			Text:  text,
		})
	case promptCheckpoint:
		answer := interview.CheckpointAnswer{Index: p.cand.Index}
		if text == "" {
			answer.Skip = true
		} else {
			answer.Verification = text
		}
		a.answers.Checkpoints = append(a.answers.Checkpoints, answer)
	}

	a.errMsg = ""
	a.input.Reset()
	a.current++
	if a.current >= len(a.prompts) {
		return a, a.finish()
	}
	return a, nil
}

type savedMsg struct{ err error }

func (a *App) finish() tea.Cmd {
	return func() tea.Msg {
		if err := a.answers.Validate(); err != nil {
			return savedMsg{err: err}
		}
		if err := a.session.WriteAnnotations(a.answers); err != nil {
			return savedMsg{err: err}
		}
		a.session.Book.Info("interview complete: %d typing answers, %d checkpoint answers",
			len(a.answers.Typing), len(a.answers.Checkpoints))
		return savedMsg{}
	}
}

// View renders the current question.
func (a *App) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("⬡ REPLAY INTERVIEW"))
	b.WriteString("\n\n")

	if a.done || a.current >= len(a.prompts) {
		if a.errMsg != "" {
			b.WriteString(errStyle.Render("could not save annotations: " + a.errMsg))
		} else {
			b.WriteString(doneStyle.Render("All questions answered. Annotations saved."))
		}
		b.WriteString("\n")
		return b.String()
	}

	p := a.prompts[a.current]
	b.WriteString(faintStyle.Render(fmt.Sprintf("question %d of %d · session %s",
		a.current+1, len(a.prompts), a.session.ID)))
	b.WriteString("\n\n")
	b.WriteString(frameStyle.Render(a.describe(p)))
	b.WriteString("\n\n")
	b.WriteString(a.input.View())
	b.WriteString("\n\n")
	if a.errMsg != "" {
		b.WriteString(errStyle.Render(a.errMsg))
		b.WriteString("\n")
	}
	b.WriteString(faintStyle.Render(a.hint(p)))
	b.WriteString("\n")
	return b.String()
}

func (a *App) describe(p prompt) string {
	switch p.kind {
	case promptTyping:
		seq := p.sequence
		desc := fmt.Sprintf("Typing detected: %d taps between %0.1fs and %0.1fs on the on-screen keyboard.",
			len(seq.Events), float64(seq.StartMS())/1000, float64(seq.EndMS())/1000)
		if seq.FrameRef != "" {
			desc += fmt.Sprintf("\nScreen before the first tap: %s.", seq.FrameRef)
		}
		return desc + "\nWhat text was entered?"
	case promptCheckpoint:
		c := p.cand
		return fmt.Sprintf("Checkpoint candidate (%s) at %0.1fs, frame %s.\nWhat should a screenshot taken here prove?",
			c.Trigger, float64(c.AnchorMS)/1000, c.FrameRef)
	}
	return ""
}

func (a *App) hint(p prompt) string {
	if p.kind == promptCheckpoint {
		return "enter to answer · empty enter to skip this checkpoint · esc to abandon"
	}
	return "enter to answer · esc to abandon"
}
