package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"indiistudio/internal/session"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	toolStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#60A5FA"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#34D399"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F87171"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FBBF24"))
)

// renderEvent formats one progress event as a single line.
func renderEvent(ev session.Event) string {
	agent := mutedStyle.Render("[" + ev.AgentID + "]")
	switch ev.Kind {
	case session.EventThought:
		return fmt.Sprintf("%s %s", agent, mutedStyle.Render(ev.Text))
	case session.EventTool:
		return fmt.Sprintf("%s %s", agent, toolStyle.Render("→ "+ev.Text))
	case session.EventToolResult:
		if ev.Result != nil && !ev.Result.Success {
			return fmt.Sprintf("%s %s", agent, errorStyle.Render("✗ "+ev.Text))
		}
		return fmt.Sprintf("%s %s", agent, okStyle.Render("✓ "+ev.Text))
	}
	return ""
}

// renderMarkdown renders agent output for the terminal, falling back to the
// raw text when the renderer cannot be built.
func renderMarkdown(text string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// table renders rows as left-aligned columns with a bold header.
func table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	line := func(cells []string, style *lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			padded := cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			if style != nil {
				padded = style.Render(padded)
			}
			parts[i] = padded
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	var sb strings.Builder
	sb.WriteString(line(header, &headerStyle))
	for _, row := range rows {
		sb.WriteString("\n")
		sb.WriteString(line(row, nil))
	}
	return sb.String()
}
