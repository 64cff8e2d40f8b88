package banner

import (
	"github.com/charmbracelet/lipgloss"

	"qstorm/internal/tui/styles"
)

const art = `
             _
  __ _  ___| |_ ___  _ __ _ __ ___
 / _' |/ __| __/ _ \| '__| '_ ' _ \
| (_| |\__ \ || (_) | |  | | | | | |
 \__, ||___/\__\___/|_|  |_| |_| |_|
    |_|`

// String is the colored banner shown above the help text.
func String() string {
	style := lipgloss.DefaultRenderer().NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)
	return "\n" + style.Render(art) + "\n"
}
