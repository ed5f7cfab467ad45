package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/loykin/alfred/internal/relay"
	"github.com/loykin/alfred/internal/supervisor"
)

const (
	headerLines = 2
	footerLines = 3
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	userStyle      = lipgloss.NewStyle().Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	infoStyle      = lipgloss.NewStyle().Faint(true)
	spinnerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	sourceStyle    = lipgloss.NewStyle().Faint(true).Italic(true)

	noticeStyles = map[relay.Kind]lipgloss.Style{
		relay.KindSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		relay.KindWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		relay.KindError:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		relay.KindInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
	}

	stateStyles = map[supervisor.State]lipgloss.Style{
		supervisor.Ready:            lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		supervisor.Failed:           lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		supervisor.Starting:         lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		supervisor.WaitingForHealth: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	}
)

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Alfred"))
	b.WriteString("  ")
	b.WriteString(m.statusView())
	b.WriteString("\n\n")
	b.WriteString(m.vp.View())
	b.WriteString("\n")
	switch {
	case m.pending:
		b.WriteString(assistantStyle.Render("Alfred:") + " " + m.spin.View() + "Thinking")
	case m.busy != "":
		b.WriteString(m.spin.View() + m.busy)
	case !m.state.InputEnabled():
		b.WriteString(infoStyle.Render("Input is disabled until the backend is ready."))
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	return b.String()
}

func (m Model) statusView() string {
	style, ok := stateStyles[m.state]
	if !ok {
		style = infoStyle
	}
	s := style.Render("[" + m.state.String() + "]")
	if m.statusLine != "" {
		s += " " + infoStyle.Render(m.statusLine)
	}
	return s
}

func (m Model) renderTranscript() string {
	lines := make([]string, 0, len(m.transcript))
	for _, t := range m.transcript {
		lines = append(lines, renderTurn(t))
	}
	return strings.Join(lines, "\n")
}

func renderTurn(t turn) string {
	switch t.role {
	case roleUser:
		return userStyle.Render("You:") + " " + t.text
	case roleAssistant:
		s := assistantStyle.Render("Alfred:") + " " + t.text
		if len(t.sources) > 0 {
			s += "\n" + sourceStyle.Render("Sources: "+strings.Join(t.sources, ", "))
		}
		return s
	case roleError:
		return errorStyle.Render("Error: " + t.text)
	case roleNotice:
		style, ok := noticeStyles[relay.Kind(t.kind)]
		if !ok {
			style = infoStyle
		}
		return style.Render("• " + t.text)
	}
	return infoStyle.Render(t.text)
}
