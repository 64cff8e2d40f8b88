package app

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qstorm/internal/config"
	"qstorm/internal/control"
	"qstorm/internal/embed"
	"qstorm/internal/queries"
	"qstorm/internal/runner"
	"qstorm/internal/search"
	"qstorm/internal/search/searchtest"
)

func newModel(t *testing.T, fake *searchtest.Fake) (Model, *control.Controller) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	entry := logrus.NewEntry(logger)
	cfg := config.DefaultBenchmark()
	cfg.BurstSize = 4
	cfg.Concurrency = 2
	r := runner.New(fake, cfg, entry).WithQueries([]queries.EmbeddedQuery{{Text: "hello", Vector: []float32{1}}})
	ctrl := control.New(r, control.Options{Embedder: embed.NewHash(4), Logger: entry})
	require.NoError(t, ctrl.Connect(context.Background()))
	return NewModel(ctrl), ctrl
}

func send(m Model, msg tea.Msg) (Model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestTickDrivesBursts(t *testing.T) {
	m, ctrl := newModel(t, &searchtest.Fake{})

	m, cmd := send(m, TickMsg(time.Now()))
	assert.NotNil(t, cmd, "ticks reschedule themselves")
	require.Eventually(t, func() bool {
		m, _ = send(m, TickMsg(time.Now()))
		return ctrl.History().Len() > 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.Contains(t, m.View(), "QPS:")
	assert.Contains(t, m.View(), "[fake]")
}

func TestKeysMapToController(t *testing.T) {
	m, ctrl := newModel(t, &searchtest.Fake{})

	m, _ = send(m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	assert.Equal(t, control.StatePaused, ctrl.State())
	assert.Contains(t, m.View(), "PAUSED")

	m, _ = send(m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, control.ViewResults, ctrl.View())
	require.NotNil(t, ctrl.Sample())
	assert.Contains(t, m.View(), "Query: ")

	m, _ = send(m, runes("j"))
	m, _ = send(m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 2, ctrl.Scroll())
	m, _ = send(m, runes("k"))
	assert.Equal(t, 1, ctrl.Scroll())
}

func TestQueryEntry(t *testing.T) {
	m, ctrl := newModel(t, &searchtest.Fake{})
	m, _ = send(m, tea.KeyMsg{Type: tea.KeyTab})

	m, _ = send(m, runes("/"))
	require.True(t, ctrl.Editing())
	// q while editing is text, not quit
	m, _ = send(m, runes("q"))
	m, _ = send(m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	m, _ = send(m, runes("ab"))
	m, _ = send(m, tea.KeyMsg{Type: tea.KeyBackspace})
	assert.Equal(t, "q a", ctrl.Input())
	assert.Contains(t, m.View(), "q a")

	m, _ = send(m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, ctrl.Editing())
	assert.Equal(t, "q a", ctrl.Sample().Query)
	assert.False(t, m.quitting)
}

func TestQuitDrainsThenExits(t *testing.T) {
	fake := &searchtest.Fake{}
	m, ctrl := newModel(t, fake)

	m, cmd := send(m, runes("q"))
	require.NotNil(t, cmd)
	assert.True(t, m.quitting)
	assert.Contains(t, m.View(), "Draining")

	// ticks are ignored while the quit command owns the controller
	_, tickCmd := send(m, TickMsg(time.Now()))
	assert.Nil(t, tickCmd)

	done := cmd()
	require.IsType(t, quitDoneMsg{}, done)
	assert.True(t, ctrl.Terminated())
	assert.Equal(t, 1, fake.Disconnects())

	m, cmd = send(m, done)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.NoError(t, m.Err())
}

func TestReconnectFromError(t *testing.T) {
	fake := &searchtest.Fake{}
	m, ctrl := newModel(t, fake)

	m, _ = send(m, runes("c"))
	assert.Equal(t, 1, fake.Connects(), "c only reconnects from Error")

	fake.ConnectErr = search.Connection(nil, "refused")
	require.Error(t, ctrl.Connect(context.Background()))
	require.Equal(t, control.StateError, ctrl.State())
	assert.Contains(t, m.View(), "press [c] to reconnect")

	fake.ConnectErr = nil
	m, _ = send(m, runes("c"))
	assert.Equal(t, control.StateIdle, ctrl.State())
	assert.Equal(t, 3, fake.Connects())
	assert.NotContains(t, m.View(), "reconnect")
}

func TestShutdownWaitsForQuitInProgress(t *testing.T) {
	fake := &searchtest.Fake{Latency: 30 * time.Millisecond}
	m, ctrl := newModel(t, fake)

	m, _ = send(m, TickMsg(time.Now()))
	require.True(t, ctrl.InFlight())

	// the quit command is never run, as when the program is killed
	m, _ = send(m, runes("q"))
	require.True(t, m.Quitting())

	require.NoError(t, m.Shutdown(context.Background()))
	assert.True(t, ctrl.Terminated())
	assert.Equal(t, 1, fake.Disconnects())
	assert.Equal(t, 1, ctrl.History().Len(), "drained burst is kept")
}

func TestShutdownWithoutQuitKey(t *testing.T) {
	fake := &searchtest.Fake{}
	m, ctrl := newModel(t, fake)

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.True(t, ctrl.Terminated())
	assert.Equal(t, 1, fake.Disconnects())
}

func TestShutdownIsBoundedByContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	m, ctrl := newModel(t, &searchtest.Fake{Block: block})

	m, _ = send(m, TickMsg(time.Now()))
	require.True(t, ctrl.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Shutdown(ctx), context.DeadlineExceeded)
}
