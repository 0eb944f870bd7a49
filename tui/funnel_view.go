package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/harperreed/funnel/viz"
)

type funnelLoadedMsg struct {
	text string
	err  error
}

func (m Model) loadFunnel(closerID string) tea.Cmd {
	clients, now := m.clients, m.now
	return func() tea.Msg {
		stats, err := viz.GenerateDashboardStats(context.Background(), clients, closerID, now())
		if err != nil {
			return funnelLoadedMsg{err: err}
		}
		return funnelLoadedMsg{text: viz.RenderDashboard(stats, false)}
	}
}

func (m Model) renderFunnelView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(fmt.Sprintf("FUNNEL · %s", m.selectedAgent)))
	s.WriteString("\n\n")
	switch {
	case m.err != nil:
		s.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	case m.funnelText == "":
		s.WriteString("Loading...")
	default:
		s.WriteString(m.funnelText)
	}
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("esc: back • q: quit"))
	return s.String()
}

func (m Model) handleFunnelKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "backspace":
		m.viewMode = ViewRanking
		m.err = nil
		return m, nil
	}
	return m, nil
}
