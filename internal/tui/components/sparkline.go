package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var levels = []string{"▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// Sparkline draws the most recent Width values of a series on one line,
// scaled to the visible maximum.
type Sparkline struct {
	Data  []float64
	Width int
	Max   float64
	Style lipgloss.Style
	Label string
	// Unit is appended to the average in the label line.
	Unit string
}

func NewSparkline(width int, label, unit string, style lipgloss.Style) Sparkline {
	return Sparkline{
		Width: width,
		Label: label,
		Unit:  unit,
		Style: style,
	}
}

// SetData replaces the series, keeping only the visible tail.
func (s *Sparkline) SetData(vals []float64) {
	if s.Width > 0 && len(vals) > s.Width {
		vals = vals[len(vals)-s.Width:]
	}
	s.Data = append(s.Data[:0], vals...)

	s.Max = 0
	for _, v := range s.Data {
		if v > s.Max {
			s.Max = v
		}
	}
}

func (s Sparkline) Average() float64 {
	if len(s.Data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.Data {
		sum += v
	}
	return sum / float64(len(s.Data))
}

func (s Sparkline) Graph() string {
	var graph strings.Builder
	for _, v := range s.Data {
		if s.Max <= 0 {
			graph.WriteString(levels[0])
			continue
		}
		idx := int(v / s.Max * float64(len(levels)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(levels) {
			idx = len(levels) - 1
		}
		graph.WriteString(levels[idx])
	}
	if pad := s.Width - len(s.Data); pad > 0 {
		graph.WriteString(strings.Repeat(" ", pad))
	}
	return graph.String()
}

func (s Sparkline) View() string {
	if s.Width <= 0 {
		return ""
	}
	header := s.Style.Bold(true).Render(s.Label)
	if len(s.Data) == 0 {
		return header + "\n" + strings.Repeat(" ", s.Width) + "\n" + lipgloss.NewStyle().Faint(true).Render("waiting for data")
	}
	stats := fmt.Sprintf("avg %.2f%s  max %.2f%s", s.Average(), s.Unit, s.Max, s.Unit)
	return header + "\n" + s.Style.Render(s.Graph()) + "\n" + lipgloss.NewStyle().Faint(true).Render(stats)
}
