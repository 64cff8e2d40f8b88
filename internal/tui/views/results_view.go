package views

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"qstorm/internal/control"
	"qstorm/internal/search"
	"qstorm/internal/tui/styles"
)

const payloadLimit = 120

// ResultsView shows the cached sample query and the query input line.
type ResultsView struct {
	Table table.Model

	Width  int
	Height int
}

func NewResultsView(width, height int) ResultsView {
	t := table.New(table.WithFocused(true))

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.ColorBorder).
		BorderBottom(true).
		Bold(true).
		Foreground(styles.ColorAccent)
	s.Selected = s.Selected.
		Foreground(styles.ColorText).
		Background(styles.ColorHighlight).
		Bold(false)
	t.SetStyles(s)

	v := ResultsView{Table: t}
	v.resize(width, height)
	return v
}

func (v *ResultsView) resize(width, height int) {
	v.Width = width
	v.Height = height
	payload := width - 4 - 24 - 10 - 12
	if payload < 20 {
		payload = 20
	}
	v.Table.SetColumns([]table.Column{
		{Title: "#", Width: 4},
		{Title: "ID", Width: 24},
		{Title: "Score", Width: 10},
		{Title: "Payload", Width: payload},
	})
	v.Table.SetHeight(max(height-5, 3))
}

func (v ResultsView) Update(msg tea.Msg) (ResultsView, tea.Cmd) {
	if msg, ok := msg.(tea.WindowSizeMsg); ok {
		v.resize(msg.Width, msg.Height)
	}
	return v, nil
}

func (v ResultsView) View(c *control.Controller) string {
	s := strings.Builder{}
	s.WriteString(queryBar(c, v.Width-2))
	s.WriteString("\n")

	sample := c.Sample()
	if sample == nil {
		return s.String()
	}
	v.Table.SetRows(ResultRows(sample.Results))
	v.Table.SetCursor(c.Scroll())
	s.WriteString(v.Table.View())
	return s.String()
}

func queryBar(c *control.Controller, width int) string {
	if c.Editing() {
		return styles.InputActive.Width(width).Render(
			styles.Warn.Bold(true).Render("/ ") + c.Input() + styles.Warn.Render("_"),
		)
	}
	sample := c.Sample()
	if sample == nil {
		return styles.InputNormal.Width(width).Render(styles.Subtle.Render("Press [/] to search"))
	}
	took := ""
	if sample.Results.TookMs != nil {
		took = fmt.Sprintf(" in %dms", *sample.Results.TookMs)
	}
	return styles.InputNormal.Width(width).Render(
		styles.Text.Bold(true).Render("Query: ") +
			styles.Warn.Render(sample.Query) +
			fmt.Sprintf("  (%d hits%s)", len(sample.Results.Results), took),
	)
}

// ResultRows renders one table row per hit in rank order.
func ResultRows(res search.Results) []table.Row {
	rows := make([]table.Row, len(res.Results))
	for i, r := range res.Results {
		rows[i] = table.Row{
			fmt.Sprintf("%d", i+1),
			r.ID,
			fmt.Sprintf("%.4f", r.Score),
			payloadText(r.Payload),
		}
	}
	return rows
}

func payloadText(raw []byte) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "-"
	}
	s := strings.Join(strings.Fields(string(raw)), " ")
	if runes := []rune(s); len(runes) > payloadLimit {
		return string(runes[:payloadLimit-3]) + "..."
	}
	return s
}
