package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"

	"qstorm/internal/control"
	"qstorm/internal/tui/styles"
	"qstorm/internal/tui/views"
)

// FrameInterval is the redraw and controller tick cadence.
const FrameInterval = 100 * time.Millisecond

type TickMsg time.Time

type quitDoneMsg struct{ err error }

type clearStatusMsg struct{}

// clearStatusLater drops the status line after a few seconds.
func (m Model) clearStatusLater() tea.Cmd {
	if m.ctrl.Status() == "" {
		return nil
	}
	return tea.Tick(3*time.Second, func(time.Time) tea.Msg {
		return clearStatusMsg{}
	})
}

func tick() tea.Cmd {
	return tea.Tick(FrameInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// shutdown runs Controller.Quit at most once and lets several callers wait
// for its result.
type shutdown struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newShutdown() *shutdown {
	return &shutdown{done: make(chan struct{})}
}

func (s *shutdown) start(ctrl *control.Controller) {
	s.once.Do(func() {
		go func() {
			s.err = ctrl.Quit(context.Background())
			close(s.done)
		}()
	})
}

func (s *shutdown) wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for shutdown")
	}
}

// Model is the bubbletea front end of a Controller. The controller is only
// touched from Update and View, except while quitting, when the shutdown
// goroutine owns it.
type Model struct {
	ctrl *control.Controller

	dash    views.DashboardView
	results views.ResultsView

	width  int
	height int

	quitting bool
	stop     *shutdown
	err      error
}

func NewModel(ctrl *control.Controller) Model {
	return Model{
		ctrl:    ctrl,
		dash:    views.NewDashboardView(80, 24),
		results: views.NewResultsView(80, 24),
		stop:    newShutdown(),
	}
}

// Err is the error returned by the controller's shutdown, if any.
func (m Model) Err() error { return m.err }

func (m Model) Quitting() bool { return m.quitting }

// Shutdown quits the controller if the quit key has not already done so and
// waits for the drain and disconnect to finish or ctx to expire.
func (m Model) Shutdown(ctx context.Context) error {
	m.stop.start(m.ctrl)
	return m.stop.wait(ctx)
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case quitDoneMsg:
		m.err = msg.err
		return m, tea.Quit

	case clearStatusMsg:
		if !m.quitting {
			m.ctrl.ClearStatus()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		inner := tea.WindowSizeMsg{Width: msg.Width - 2, Height: msg.Height - 6}
		m.dash, _ = m.dash.Update(inner)
		m.results, _ = m.results.Update(inner)
		return m, nil

	case TickMsg:
		if m.quitting {
			return m, nil
		}
		m.ctrl.Tick(time.Time(msg))
		m.dash.Sync(m.ctrl.History())
		return m, tick()

	case tea.KeyMsg:
		if m.quitting {
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			return m, nil
		}
		if msg.String() == "ctrl+c" {
			return m.quit()
		}
		if m.ctrl.Editing() {
			return m.updateEditing(msg)
		}
		return m.updateNormal(msg)
	}
	return m, nil
}

func (m Model) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		_ = m.ctrl.SubmitQuery(context.Background())
	case tea.KeyEsc:
		m.ctrl.CancelEditing()
	case tea.KeyBackspace:
		m.ctrl.Backspace()
	case tea.KeySpace:
		m.ctrl.InputRune(' ')
	case tea.KeyRunes:
		for _, r := range msg.Runes {
			m.ctrl.InputRune(r)
		}
	}
	return m, m.clearStatusLater()
}

func (m Model) updateNormal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	results := m.ctrl.View() == control.ViewResults

	switch msg.String() {
	case "q", "esc":
		return m.quit()
	case " ":
		m.ctrl.TogglePause()
	case "tab":
		m.ctrl.ToggleView(context.Background())
	case "c":
		if m.ctrl.State() == control.StateError {
			ctx := context.Background()
			if err := m.ctrl.Connect(ctx); err == nil {
				_ = m.ctrl.Warmup(ctx)
			}
		}
	case "/":
		m.ctrl.StartEditing()
	case "r":
		if results {
			m.ctrl.RefreshSample(context.Background())
		}
	case "j", "down":
		if results {
			m.ctrl.ScrollBy(1)
		}
	case "k", "up":
		if results {
			m.ctrl.ScrollBy(-1)
		}
	}
	return m, m.clearStatusLater()
}

// quit hands the controller to the shutdown goroutine, which drains the
// in-flight burst and disconnects. Update ignores the controller until the
// command reports back.
func (m Model) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	stop := m.stop
	stop.start(m.ctrl)
	return m, func() tea.Msg {
		return quitDoneMsg{err: stop.wait(context.Background())}
	}
}

func (m Model) View() string {
	if m.quitting {
		return styles.Subtle.Render("\n  Draining in-flight burst and disconnecting...\n")
	}
	width := m.width
	if width == 0 {
		width = 80
	}

	var content string
	if m.ctrl.View() == control.ViewResults {
		content = m.results.View(m.ctrl)
	} else {
		content = m.dash.View(m.ctrl)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		styles.Panel.Width(width-2).Render(m.header()),
		content,
		m.statusLine(),
		styles.FooterBase.Width(width).Render(m.footer()),
	)
}

func (m Model) header() string {
	state := strings.ToUpper(m.ctrl.State().String())
	switch m.ctrl.State() {
	case control.StateConnecting, control.StateWarming:
		state += "..."
	}
	return lipgloss.JoinHorizontal(lipgloss.Center,
		styles.Title.Render("qstorm"),
		styles.Accent.Render(fmt.Sprintf("[%s]", m.ctrl.ProviderName())),
		styles.Subtle.Render(fmt.Sprintf(" %s (%d queries) - ", m.ctrl.SearchMode(), m.ctrl.QueryCount())),
		styles.State(m.ctrl.State()).Render(state),
		"  ",
		styles.Active.Render(fmt.Sprintf("[%s]", m.ctrl.View())),
	)
}

func (m Model) statusLine() string {
	if m.ctrl.State() == control.StateError && m.ctrl.Err() != nil {
		return styles.Error.Render("error: "+m.ctrl.Err().Error()) +
			styles.Subtle.Render("  press [c] to reconnect")
	}
	if s := m.ctrl.Status(); s != "" {
		return styles.Subtle.Render(s)
	}
	return ""
}

func (m Model) footer() string {
	var keys []string
	switch {
	case m.ctrl.Editing():
		keys = []string{styles.RenderKey("Enter", "Search"), styles.RenderKey("Esc", "Cancel")}
	case m.ctrl.View() == control.ViewResults:
		keys = []string{
			styles.RenderKey("/", "Search"),
			styles.RenderKey("r", "Refresh"),
			styles.RenderKey("j/k", "Scroll"),
			styles.RenderKey("Tab", "Dashboard"),
			styles.RenderKey("q", "Quit"),
		}
	default:
		keys = []string{
			styles.RenderKey("Space", "Pause"),
			styles.RenderKey("Tab", "Results"),
			styles.RenderKey("q", "Quit"),
		}
	}
	return strings.Join(keys, "  ")
}
