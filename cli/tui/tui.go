package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/packwright/packwright/types"
)

// eventMsg wraps an engine event for the Bubble Tea loop.
type eventMsg types.Event

// streamClosedMsg signals the producer closed the event channel.
type streamClosedMsg struct{}

// SyncModel renders live sync progress from the engine's event stream.
type SyncModel struct {
	events <-chan types.Event

	prog progress.Model
	spin spinner.Model

	title   string
	current string
	done    int64
	total   int64
	applied int
	skipped int
	pending int
	failed  int

	finalMsg string
	finished bool
}

// NewSyncModel creates a model consuming the given event channel.
func NewSyncModel(title string, events <-chan types.Event) SyncModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return SyncModel{
		events: events,
		prog:   progress.New(progress.WithDefaultGradient()),
		spin:   sp,
		title:  title,
	}
}

// waitForEvent blocks on the event channel as a Bubble Tea command.
func (m SyncModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// Init implements tea.Model.
func (m SyncModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.waitForEvent())
}

// Update implements tea.Model.
func (m SyncModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		width := msg.Width - 8
		if width > 60 {
			width = 60
		}
		if width > 0 {
			m.prog.Width = width
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		pm, cmd := m.prog.Update(msg)
		m.prog = pm.(progress.Model)
		return m, cmd

	case eventMsg:
		return m.applyEvent(types.Event(msg))

	case streamClosedMsg:
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

func (m SyncModel) applyEvent(ev types.Event) (tea.Model, tea.Cmd) {
	if ev.Path != "" {
		m.current = ev.Path
	}
	switch ev.Type {
	case types.EventProgress:
		m.done = ev.Done
		m.total = ev.Total
	case types.EventFileApplied:
		m.applied++
	case types.EventFileSkipped:
		m.skipped++
	case types.EventFilePending:
		m.pending++
	case types.EventFileFailed:
		m.failed++
	case types.EventSyncComplete:
		m.finished = true
		m.finalMsg = ev.Message
		return m, tea.Quit
	}

	cmds := []tea.Cmd{m.waitForEvent()}
	if m.total > 0 {
		cmds = append(cmds, m.prog.SetPercent(float64(m.done)/float64(m.total)))
	}
	return m, tea.Batch(cmds...)
}

// View implements tea.Model.
func (m SyncModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("\n")

	if m.finished {
		if m.finalMsg != "" {
			b.WriteString(SuccessStyle.Render(m.finalMsg))
			b.WriteString("\n")
		}
	} else {
		b.WriteString(fmt.Sprintf("%s %s\n", m.spin.View(), PathStyle.Render(m.current)))
		b.WriteString(m.prog.View())
		b.WriteString(fmt.Sprintf("  %d/%d\n", m.done, m.total))
	}

	counters := []string{
		SuccessStyle.Render(fmt.Sprintf("%d applied", m.applied)),
		WarningStyle.Render(fmt.Sprintf("%d skipped", m.skipped)),
		WarningStyle.Render(fmt.Sprintf("%d pending", m.pending)),
		ErrorStyle.Render(fmt.Sprintf("%d failed", m.failed)),
	}
	b.WriteString(strings.Join(counters, "  "))

	if !m.finished {
		b.WriteString("\n")
		b.WriteString(HelpStyle.Render("Press q or Ctrl+C to abort the view"))
	}
	return b.String()
}

// Run drives the sync TUI until the event stream ends.
func Run(title string, events <-chan types.Event) error {
	p := tea.NewProgram(NewSyncModel(title, events))
	_, err := p.Run()
	return err
}
