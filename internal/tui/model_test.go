package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/paratest/internal/events"
)

func feed(t *testing.T, m Model, evs ...events.Event) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, ev := range evs {
		var next tea.Model
		next, cmd = m.Update(eventMsg(ev))
		var ok bool
		m, ok = next.(Model)
		require.True(t, ok)
	}
	return m, cmd
}

func TestModelTracksRun(t *testing.T) {
	hub := events.NewHub(32)
	m := New(nil, nil)

	m, cmd := feed(t, m,
		hub.Publish(events.TypeRunStarted, events.RunStarted{RunID: "r1", Plugin: "dummy", Workers: 2}),
		hub.Publish(events.TypeTestsDiscovered, events.TestsDiscovered{RunID: "r1", Count: 3}),
		hub.Publish(events.TypeWorkerStarted, events.WorkerEvent{RunID: "r1", WorkerID: 0}),
		hub.Publish(events.TypeWorkerStarted, events.WorkerEvent{RunID: "r1", WorkerID: 1}),
		hub.Publish(events.TypeTestStarted, events.TestEvent{RunID: "r1", WorkerID: 0, TestID: "foo"}),
		hub.Publish(events.TypeTestFinished, events.TestEvent{RunID: "r1", WorkerID: 0, TestID: "foo", Passed: true}),
		hub.Publish(events.TypeTestStarted, events.TestEvent{RunID: "r1", WorkerID: 1, TestID: "bazz"}),
	)
	require.NotNil(t, cmd, "keeps waiting for events")

	assert.Equal(t, 1, m.completed)
	assert.InDelta(t, 1.0/3.0, m.Percent(), 0.001)
	assert.Equal(t, "bazz", m.workers[1].test)

	view := m.View()
	assert.Contains(t, view, "run r1")
	assert.Contains(t, view, "plugin dummy")
	assert.Contains(t, view, "1/3 done")
	assert.Contains(t, view, "bazz")

	m, _ = feed(t, m,
		hub.Publish(events.TypeTestFinished, events.TestEvent{RunID: "r1", WorkerID: 1, TestID: "bazz", Error: "erroneous test"}),
	)
	assert.Equal(t, 1, m.failed)
	assert.Contains(t, m.View(), "bazz failed on worker 1: erroneous test")
}

func TestModelQuitsWhenRunFinishes(t *testing.T) {
	hub := events.NewHub(8)
	m := New(nil, nil)

	m, cmd := feed(t, m,
		hub.Publish(events.TypeTestsDiscovered, events.TestsDiscovered{Count: 0}),
		hub.Publish(events.TypeRunFinished, events.RunFinished{RunID: "r", Abort: "worker 0: setup-workspace script failed (exit 1)"}),
	)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.True(t, m.finished)
	assert.Equal(t, 1.0, m.Percent())
	assert.Contains(t, m.View(), "ABORTED")
	assert.Contains(t, m.View(), "setup-workspace script failed")
}

func TestModelWorkerDeathIsShown(t *testing.T) {
	hub := events.NewHub(8)
	m, _ := feed(t, New(nil, nil),
		hub.Publish(events.TypeWorkerStarted, events.WorkerEvent{WorkerID: 2}),
		hub.Publish(events.TypeWorkerFinished, events.WorkerEvent{WorkerID: 2, Abort: "worker 2: teardown-test script failed (exit 1)"}),
	)
	require.Contains(t, m.workers, 2)
	assert.True(t, m.workers[2].done)
	assert.Contains(t, m.View(), "teardown-test script failed")
}

func TestModelQuitKeyCancelsRun(t *testing.T) {
	cancelled := false
	m := New(nil, func() { cancelled = true })

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.True(t, cancelled)
}

func TestWaitForEventClosedStream(t *testing.T) {
	ch := make(chan events.Event)
	close(ch)
	msg := waitForEvent(ch)()
	assert.Equal(t, streamClosedMsg{}, msg)

	next, cmd := New(ch, nil).Update(msg)
	assert.True(t, next.(Model).finished)
	require.NotNil(t, cmd)
}
