package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/crucialwebstudio/amify/pkg/builder"
)

// ErrAborted is returned when the TUI is force-quit before the build finished.
var ErrAborted = errors.New("build aborted")

// RunFunc runs a build, reporting progress through the callback.
type RunFunc func(ctx context.Context, progress builder.ProgressCallback) (*builder.Result, error)

// progressMsg wraps a builder.ProgressEvent for Bubble Tea.
type progressMsg builder.ProgressEvent

// buildDoneMsg is sent when the build finishes.
type buildDoneMsg struct {
	result *builder.Result
	err    error
}

// BuildModel is a Bubble Tea model showing build progress.
type BuildModel struct {
	title  string
	run    RunFunc
	ctx    context.Context
	cancel context.CancelFunc

	spinner      spinner.Model
	progressBar  progress.Model
	events       []builder.ProgressEvent
	progressChan chan builder.ProgressEvent
	doneChan     chan buildDoneMsg
	abort        chan struct{}

	result     *builder.Result
	err        error
	done       bool
	cancelling bool
	aborted    bool

	width int
}

// NewBuildModel creates a model that runs fn when started. Cancelling the
// model cancels the context passed to fn.
func NewBuildModel(ctx context.Context, title string, fn RunFunc) BuildModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	ctx, cancel := context.WithCancel(ctx)
	return BuildModel{
		title:        title,
		run:          fn,
		ctx:          ctx,
		cancel:       cancel,
		spinner:      s,
		progressBar:  p,
		events:       make([]builder.ProgressEvent, 0),
		progressChan: make(chan builder.ProgressEvent, 100),
		doneChan:     make(chan buildDoneMsg, 1),
		abort:        make(chan struct{}),
	}
}

func (m BuildModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.startBuild(),
		m.waitForProgress(),
	)
}

func (m BuildModel) startBuild() tea.Cmd {
	return func() tea.Msg {
		callback := func(e builder.ProgressEvent) {
			select {
			case m.progressChan <- e:
			case <-m.abort:
			}
		}

		result, err := m.run(m.ctx, callback)
		m.doneChan <- buildDoneMsg{result: result, err: err}
		close(m.progressChan)
		return nil
	}
}

// waitForProgress delivers queued events before the final buildDoneMsg.
func (m BuildModel) waitForProgress() tea.Cmd {
	return func() tea.Msg {
		event, ok := <-m.progressChan
		if !ok {
			return <-m.doneChan
		}
		return progressMsg(event)
	}
}

func (m BuildModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = min(msg.Width-10, 60)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.aborted {
				return m, tea.Quit
			}
			if m.cancelling {
				// Second interrupt: stop waiting for cleanup.
				m.aborted = true
				close(m.abort)
				return m, tea.Quit
			}
			m.cancelling = true
			m.cancel()
			return m, nil
		}

	case spinner.TickMsg:
		if !m.done {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}

	case progress.FrameMsg:
		progressModel, cmd := m.progressBar.Update(msg)
		m.progressBar = progressModel.(progress.Model)
		return m, cmd

	case progressMsg:
		m.events = append(m.events, builder.ProgressEvent(msg))
		cmds := []tea.Cmd{m.waitForProgress()}
		if msg.Percent >= 0 {
			cmds = append(cmds, m.progressBar.SetPercent(float64(msg.Percent)/100.0))
		}
		return m, tea.Batch(cmds...)

	case buildDoneMsg:
		m.done = true
		m.result = msg.result
		m.err = msg.err
		m.cancel()
		return m, tea.Quit
	}

	return m, nil
}

func (m BuildModel) View() string {
	var s strings.Builder

	s.WriteString("\n")
	s.WriteString(titleStyle.Render(fmt.Sprintf(" %s ", m.title)))
	s.WriteString("\n\n")

	if percent := m.percent(); percent >= 0 {
		s.WriteString(progressBarStyle.Render(m.progressBar.ViewAs(float64(percent) / 100.0)))
		s.WriteString(fmt.Sprintf(" %d%%", percent))
		s.WriteString("\n\n")
	}

	for i, event := range m.events {
		isLast := i == len(m.events)-1 && !m.done

		var icon string
		msgStyle := dimStyle
		switch {
		case event.IsError:
			icon = errorStyle.Render("  ✗ ")
			msgStyle = errorStyle
		case event.Stage == builder.StageComplete:
			icon = successStyle.Render("  ✓ ")
			msgStyle = successStyle
		case isLast:
			icon = activeStyle.Render("  ▸ ")
			msgStyle = lipgloss.NewStyle()
		default:
			icon = successStyle.Render("  ✓ ")
		}

		s.WriteString(icon)
		s.WriteString(msgStyle.Render(event.Message))
		if event.Resource != "" {
			s.WriteString(" ")
			s.WriteString(resourceStyle.Render(event.Resource))
		}
		s.WriteString("\n")

		if event.Detail != "" && (isLast || event.IsError) {
			s.WriteString("     ")
			s.WriteString(dimStyle.Render(event.Detail))
			s.WriteString("\n")
		}
	}

	if !m.done && len(m.events) > 0 {
		s.WriteString("\n  ")
		s.WriteString(m.spinner.View())
		if m.cancelling {
			s.WriteString(warningStyle.Render(" Cancelling, cleaning up temporary resources..."))
		} else {
			s.WriteString(" Working...")
		}
		s.WriteString("\n")
	}

	s.WriteString("\n")
	switch {
	case m.done:
	case m.cancelling:
		s.WriteString(dimStyle.Render("  Press Ctrl+C again to exit without waiting for cleanup"))
	default:
		s.WriteString(dimStyle.Render("  Press Ctrl+C to cancel"))
	}
	s.WriteString("\n")

	return s.String()
}

// percent returns the most recent known progress, or -1.
func (m BuildModel) percent() int {
	for i := len(m.events) - 1; i >= 0; i-- {
		if p := m.events[i].Percent; p >= 0 {
			return min(p, 100)
		}
	}
	return -1
}

// Result returns the build outcome once the model has finished.
func (m BuildModel) Result() (*builder.Result, error) {
	if m.aborted && !m.done {
		return nil, ErrAborted
	}
	return m.result, m.err
}

// RunBuild runs fn under the progress TUI and returns its outcome.
func RunBuild(ctx context.Context, title string, fn RunFunc, opts ...tea.ProgramOption) (*builder.Result, error) {
	final, err := tea.NewProgram(NewBuildModel(ctx, title, fn), opts...).Run()
	if err != nil {
		return nil, fmt.Errorf("failed to run progress UI: %w", err)
	}
	return final.(BuildModel).Result()
}
