package main

import (
	"context"
	"io"
	"math/rand/v2"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// thinkingMessages are displayed while a model call is in flight.
var thinkingMessages = []string{
	"Thinking...",
	"Brewing a response...",
	"Polishing the prompt...",
	"Weighing every word...",
	"Crunching tokens...",
	"Asking the model nicely...",
	"Comparing notes...",
}

// spinnerFrames are braille characters for smooth animation.
var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

// changeEvery is the number of ticks between message rotations.
const changeEvery = 30

type workDoneMsg struct{}

type spinnerModel struct {
	spin  spinner.Model
	label string
	msg   int
	ticks int
	done  bool
}

func newSpinnerModel(label string) spinnerModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Spinner{Frames: spinnerFrames, FPS: spinner.Dot.FPS}),
		spinner.WithStyle(spinnerStyle),
	)
	return spinnerModel{spin: s, label: label, msg: rand.IntN(len(thinkingMessages))} //nolint:gosec
}

func (m spinnerModel) Init() tea.Cmd { return m.spin.Tick }

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case workDoneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		m.ticks++
		if m.ticks%changeEvery == 0 {
			m.msg = (m.msg + 1) % len(thinkingMessages)
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinnerModel) View() string {
	if m.done {
		return ""
	}
	text := thinkingMessages[m.msg]
	if m.label != "" {
		text = m.label + " · " + text
	}
	return "  " + m.spin.View() + " " + dimStyle.Render(text) + "\n"
}

// withSpinner runs fn while animating a spinner on out. When out is not a
// terminal fn simply runs.
func withSpinner[T any](ctx context.Context, out io.Writer, label string, fn func(context.Context) (T, error)) (T, error) {
	if !isTerminal(out) {
		return fn(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newSpinnerModel(label),
		tea.WithOutput(out),
		tea.WithInput(nil),
		tea.WithContext(ctx),
		tea.WithoutSignalHandler(),
	)

	var (
		res  T
		err  error
		done = make(chan struct{})
	)
	go func() {
		defer close(done)
		res, err = fn(ctx)
		p.Send(workDoneMsg{})
	}()

	if _, runErr := p.Run(); runErr != nil {
		cancel()
	}
	<-done

	return res, err
}
