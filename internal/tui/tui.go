package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gabe/crew/internal/mission"
	"github.com/gabe/crew/internal/models"
)

// Source supplies mission snapshots to the view
type Source interface {
	Snapshot(ctx context.Context, missionID string) (mission.Snapshot, error)
}

type snapshotMsg struct {
	snap mission.Snapshot
	err  error
}

type tickMsg time.Time

type lineMsg string

// linesClosedMsg is sent once the worker log channel is drained
type linesClosedMsg struct{}

// Model is the mission progress view
type Model struct {
	missionID string
	source    Source
	lines     <-chan string
	interval  time.Duration

	progress progress.Model
	spinner  spinner.Model
	feed     *Feed

	snap     mission.Snapshot
	err      error
	loaded   bool
	done     bool
	quitting bool
	width    int
}

// NewModel creates the progress view for one mission. lines may be nil; when
// set, worker log lines read from it are shown under the progress bar.
func NewModel(missionID string, source Source, lines <-chan string) Model {
	s := spinner.New(spinner.WithSpinner(spinner.Dot))
	s.Style = spinnerStyle
	return Model{
		missionID: missionID,
		source:    source,
		lines:     lines,
		interval:  250 * time.Millisecond,
		progress:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		spinner:   s,
		feed:      NewFeed(8),
		width:     80,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll(), m.waitForLine())
}

func (m Model) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		snap, err := m.source.Snapshot(ctx, m.missionID)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) waitForLine() tea.Cmd {
	if m.lines == nil {
		return nil
	}
	lines := m.lines
	return func() tea.Msg {
		line, ok := <-lines
		if !ok {
			return linesClosedMsg{}
		}
		return lineMsg(line)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = min(max(msg.Width-20, 10), 60)
		return m, nil

	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.loaded = true
			if m.snap.State.Terminal() {
				m.done = true
				return m, tea.Quit
			}
		}
		return m, m.tick()

	case tickMsg:
		return m, m.poll()

	case lineMsg:
		m.feed.Push(string(msg))
		return m, m.waitForLine()

	case linesClosedMsg:
		m.lines = nil
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	header := titleStyle.Render("crew") + mutedStyle.Render(" · "+m.missionID)
	b.WriteString(header + "\n\n")

	if !m.loaded {
		if m.err != nil {
			b.WriteString(errorStyle.Render("error: "+m.err.Error()) + "\n")
		} else {
			b.WriteString(m.spinner.View() + " waiting for mission...\n")
		}
		return b.String()
	}

	s := m.snap
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + value + "\n")
	}
	row("goal", valueStyle.Render(s.Goal))

	state := string(s.State)
	switch {
	case s.State == models.MissionCompleted:
		state = successStyle.Render(state)
	case s.State == models.MissionFailed || s.State == models.MissionCancelling:
		state = errorStyle.Render(state)
	default:
		state = m.spinner.View() + " " + runningStyle.Render(state)
	}
	row("state", state)
	row("progress", m.progress.ViewAs(s.Percent/100)+mutedStyle.Render(fmt.Sprintf(" %d/%d", s.Completed, s.Total)))
	if len(s.CurrentSteps) > 0 {
		row("running", runningStyle.Render(strings.Join(s.CurrentSteps, ", ")))
	}
	row("cost", valueStyle.Render(fmt.Sprintf("%d credits", s.CostToDate)))
	if s.Reason != "" {
		row("reason", errorStyle.Render(s.Reason))
	}
	if s.Report != nil && s.Report.ReducedConfidence {
		row("verified", warningStyle.Render("self-attested only (reduced confidence)"))
	}

	if m.feed.Len() > 0 {
		var lines []string
		for _, line := range m.feed.Lines() {
			if w := m.width - 8; w > 3 && len(line) > w {
				line = line[:w-3] + "..."
			}
			lines = append(lines, mutedStyle.Render(line))
		}
		b.WriteString("\n" + panelStyle.Render(strings.Join(lines, "\n")) + "\n")
	}

	if m.err != nil {
		b.WriteString(errorStyle.Render("poll error: "+m.err.Error()) + "\n")
	}
	if !m.done {
		b.WriteString("\n" + helpStyle.Render("q to detach (the mission keeps running)") + "\n")
	}
	return b.String()
}

// Snapshot returns the last snapshot the view received
func (m Model) Snapshot() mission.Snapshot {
	return m.snap
}

// Detached reports whether the user quit before the mission finished
func (m Model) Detached() bool {
	return m.quitting && !m.done
}

var startProgram = func(model tea.Model) error {
	_, err := tea.NewProgram(model).Run()
	return err
}

// Run shows the progress view until the mission finishes or the user quits
func Run(missionID string, source Source, lines <-chan string) error {
	return startProgram(NewModel(missionID, source, lines))
}
