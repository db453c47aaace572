package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func wrapToWidth(text string, width int) string {
	if width <= 0 {
		return text
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	wrapper := lipgloss.NewStyle().Width(width)

	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			out = append(out, "")
			continue
		}
		for _, wrapped := range strings.Split(wrapper.Render(line), "\n") {
			out = append(out, strings.TrimRight(wrapped, " "))
		}
	}
	return strings.Join(out, "\n")
}

// wrapWithPrefix wraps content beside prefix and indents the continuation
// lines to the prefix width.
func wrapWithPrefix(prefix, content string, width int) string {
	if width <= 0 {
		return prefix + content
	}
	prefixWidth := lipgloss.Width(prefix)
	if prefixWidth >= width {
		return wrapToWidth(prefix+content, width)
	}

	lines := strings.Split(wrapToWidth(content, width-prefixWidth), "\n")
	indent := strings.Repeat(" ", prefixWidth)
	for i := range lines {
		if i == 0 {
			lines[i] = prefix + lines[i]
		} else {
			lines[i] = indent + lines[i]
		}
	}
	return strings.Join(lines, "\n")
}

// truncateLeft keeps the tail of s within width cells, marking the cut
// with an ellipsis.
func truncateLeft(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > width {
		runes = runes[1:]
	}
	return "…" + string(runes)
}
