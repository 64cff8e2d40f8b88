package views

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"qstorm/internal/control"
	"qstorm/internal/history"
	"qstorm/internal/tui/components"
	"qstorm/internal/tui/styles"
)

// DashboardView is the 2x2 chart grid plus the latest burst summary.
type DashboardView struct {
	QPS      components.Sparkline
	P50      components.Sparkline
	P99      components.Sparkline
	Recall   components.Sparkline
	Progress progress.Model

	Width  int
	Height int
}

func NewDashboardView(width, height int) DashboardView {
	v := DashboardView{
		QPS:    components.NewSparkline(0, "Queries/Second", "", styles.Value),
		P50:    components.NewSparkline(0, "Latency p50 (ms)", "ms", styles.Accent),
		P99:    components.NewSparkline(0, "Latency p99 (ms)", "ms", styles.Warn),
		Recall: components.NewSparkline(0, "Recall@k (%)", "%", styles.Active),
		Progress: progress.New(
			progress.WithGradient("#FF5F87", "#04B575"),
			progress.WithoutPercentage(),
		),
	}
	v.resize(width, height)
	return v
}

func (v *DashboardView) resize(width, height int) {
	v.Width = width
	v.Height = height
	w := v.cardWidth() - 4
	if w < 0 {
		w = 0
	}
	v.QPS.Width = w
	v.P50.Width = w
	v.P99.Width = w
	v.Recall.Width = w
	v.Progress.Width = max(width-24, 10)
}

func (v DashboardView) cardWidth() int {
	return (v.Width - 2) / 2
}

func (v DashboardView) Update(msg tea.Msg) (DashboardView, tea.Cmd) {
	if msg, ok := msg.(tea.WindowSizeMsg); ok {
		v.resize(msg.Width, msg.Height)
	}
	return v, nil
}

// Sync copies the rolling history into the charts.
func (v *DashboardView) Sync(h *history.History) {
	v.QPS.SetData(history.Values(h.QPSSeries()))
	v.P50.SetData(history.Values(h.P50Series()))
	v.P99.SetData(history.Values(h.P99Series()))
	v.Recall.SetData(history.Values(h.RecallSeries()))
}

func (v DashboardView) View(c *control.Controller) string {
	s := strings.Builder{}

	card := styles.Box.Width(v.cardWidth() - 2)
	row1 := lipgloss.JoinHorizontal(lipgloss.Top, card.Render(v.QPS.View()), card.Render(v.P50.View()))
	row2 := lipgloss.JoinHorizontal(lipgloss.Top, card.Render(v.P99.View()), card.Render(v.recallView(c.History())))
	s.WriteString(lipgloss.JoinVertical(lipgloss.Left, row1, row2))
	s.WriteString("\n")

	latest, ok := c.History().Latest()
	if !ok {
		s.WriteString(styles.Subtle.Render("Waiting for data..."))
		return s.String()
	}

	s.WriteString(fmt.Sprintf("QPS: %s | p50: %s | p99: %s | Success: %s | Failed: %s\n",
		styles.Value.Render(fmt.Sprintf("%.1f", latest.QPS)),
		styles.Text.Render(fmt.Sprintf("%.2fms", latest.Latency.P50Ms())),
		styles.Warn.Render(fmt.Sprintf("%.2fms", latest.Latency.P99Ms())),
		styles.Success.Render(fmt.Sprintf("%d", latest.SuccessCount)),
		failStyle(latest.FailureCount).Render(fmt.Sprintf("%d", latest.FailureCount)),
	))

	ratio := 0.0
	if latest.QueryCount > 0 {
		ratio = float64(latest.SuccessCount) / float64(latest.QueryCount)
	}
	s.WriteString(styles.Subtle.Render("success "))
	s.WriteString(v.Progress.ViewAs(ratio))
	s.WriteString(fmt.Sprintf(" %5.1f%%\n", ratio*100))

	run := c.Stats()
	s.WriteString(styles.Subtle.Render(fmt.Sprintf(
		"run: %d bursts | %d queries | avg %.1f qps | p50 %.2fms | p99 %.2fms",
		run.Bursts, run.TotalQueries, run.AverageQPS, run.Latency.P50Ms(), run.Latency.P99Ms(),
	)))
	return s.String()
}

func (v DashboardView) recallView(h *history.History) string {
	if len(h.RecallSeries()) == 0 && h.Len() > 0 {
		return styles.Active.Bold(true).Render(v.Recall.Label) + "\n" +
			styles.Subtle.Render("no expected_ids in the query file")
	}
	return v.Recall.View()
}

func failStyle(n int) lipgloss.Style {
	if n > 0 {
		return styles.Error
	}
	return styles.Text
}
