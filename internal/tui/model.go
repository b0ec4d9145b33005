// Package tui renders a live terminal view of a run from its event stream.
package tui

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/paratest/internal/events"
)

const maxLogLines = 8

type workerState struct {
	id      int
	test    string
	tests   int
	done    bool
	failure string
}

type eventMsg events.Event

type streamClosedMsg struct{}

// Model is the bubbletea model of one run.
type Model struct {
	events <-chan events.Event
	onQuit func()
	theme  Theme

	width int

	runID      string
	plugin     string
	discovered int
	completed  int
	passed     int
	failed     int
	workers    map[int]*workerState
	log        []string
	finished   bool
	abort      string
	startedAt  time.Time
	elapsed    time.Duration

	spinner  spinner.Model
	progress progress.Model
	table    table.Model
}

// New creates a model reading from sub. onQuit is called when the user
// quits before the run has finished.
func New(sub <-chan events.Event, onQuit func()) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Worker", Width: 6},
			{Title: "ST", Width: 2},
			{Title: "Test", Width: 40},
			{Title: "Done", Width: 6},
		}),
		table.WithHeight(8),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	t.SetStyles(s)

	return Model{
		events:   sub,
		onQuit:   onQuit,
		theme:    NewDefaultTheme(),
		workers:  make(map[int]*workerState),
		spinner:  sp,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		table:    t,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.finished && m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.table.SetWidth(max(msg.Width-6, 20))
		m.progress.Width = max(msg.Width-30, 10)

	case eventMsg:
		m.apply(events.Event(msg))
		m.table.SetRows(m.rows())
		if m.finished {
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)

	case streamClosedMsg:
		m.finished = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(ev events.Event) {
	switch ev.Type {
	case events.TypeRunStarted:
		var p events.RunStarted
		if ev.Decode(&p) == nil {
			m.runID, m.plugin = p.RunID, p.Plugin
			m.startedAt = ev.At
		}
	case events.TypeTestsDiscovered:
		var p events.TestsDiscovered
		if ev.Decode(&p) == nil {
			m.discovered = p.Count
		}
	case events.TypeWorkerStarted:
		var p events.WorkerEvent
		if ev.Decode(&p) == nil {
			m.worker(p.WorkerID)
		}
	case events.TypeTestStarted:
		var p events.TestEvent
		if ev.Decode(&p) == nil {
			m.worker(p.WorkerID).test = p.TestID
		}
	case events.TypeTestFinished:
		var p events.TestEvent
		if ev.Decode(&p) != nil {
			return
		}
		w := m.worker(p.WorkerID)
		w.test = ""
		w.tests++
		m.completed++
		if p.Passed {
			m.passed++
			return
		}
		m.failed++
		m.logf("%s failed on worker %d: %s", p.TestID, p.WorkerID, p.Error)
	case events.TypeWorkerFinished:
		var p events.WorkerEvent
		if ev.Decode(&p) != nil {
			return
		}
		w := m.worker(p.WorkerID)
		w.done = true
		w.test = ""
		if p.Abort != "" {
			w.failure = p.Abort
			m.logf("%s", p.Abort)
		}
	case events.TypeRunFinished:
		var p events.RunFinished
		if ev.Decode(&p) == nil {
			m.abort = p.Abort
			m.elapsed = time.Duration(p.DurationMS) * time.Millisecond
		}
		m.finished = true
	}
}

func (m *Model) worker(id int) *workerState {
	w, ok := m.workers[id]
	if !ok {
		w = &workerState{id: id}
		m.workers[id] = w
	}
	return w
}

func (m *Model) logf(format string, args ...any) {
	m.log = append(m.log, fmt.Sprintf(format, args...))
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

func (m Model) rows() []table.Row {
	ids := make([]int, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		w := m.workers[id]
		st := m.theme.StatusIdle.Render("○")
		switch {
		case w.failure != "":
			st = m.theme.StatusFailed.Render("∅")
		case w.done:
			st = m.theme.StatusOK.Render("●")
		case w.test != "":
			st = m.theme.StatusRunning.Render("◉")
		}
		rows = append(rows, table.Row{fmt.Sprint(w.id), st, w.test, fmt.Sprint(w.tests)})
	}
	return rows
}

// Percent is the completed share of discovered tests.
func (m Model) Percent() float64 {
	if m.discovered == 0 {
		if m.finished {
			return 1
		}
		return 0
	}
	return float64(m.completed) / float64(m.discovered)
}

func (m Model) View() string {
	status := m.spinner.View() + " running"
	switch {
	case m.finished && m.abort != "":
		status = m.theme.StatusFailed.Render("ABORTED")
	case m.finished:
		status = m.theme.StatusOK.Render("PASSED")
	}

	header := fmt.Sprintf("%s  run %s  plugin %s", status, m.runID, m.plugin)
	counts := fmt.Sprintf("%d/%d done  %s  %s",
		m.completed, m.discovered,
		m.theme.StatusOK.Render(fmt.Sprintf("%d passed", m.passed)),
		m.theme.StatusFailed.Render(fmt.Sprintf("%d failed", m.failed)),
	)
	if m.elapsed > 0 {
		counts += "  " + m.elapsed.Round(time.Millisecond).String()
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("paratest"),
		header,
		m.progress.ViewAs(m.Percent())+"  "+counts,
		"",
		m.table.View(),
	)

	logView := m.theme.Dim.Render("  no failures")
	if len(m.log) > 0 {
		logView = strings.Join(m.log, "\n")
	}
	if m.abort != "" {
		logView += "\n" + m.theme.StatusFailed.Render(m.abort)
	}

	help := m.theme.Dim.Render(" [q] quit")
	return lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Border.Render(body),
		m.theme.Border.Render(logView),
		help,
	) + "\n"
}

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// Run shows the live view of sub until the run finishes, the stream closes
// or the user quits (which calls cancel). Subscribe before starting the run
// so no event is missed.
func Run(ctx context.Context, sub <-chan events.Event, cancel func(), out io.Writer) error {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if out != nil {
		opts = append(opts, tea.WithOutput(out))
	}
	p := tea.NewProgram(New(sub, cancel), opts...)
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}
