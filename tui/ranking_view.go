package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/harperreed/funnel/metrics"
)

var periods = []metrics.Period{metrics.PeriodDaily, metrics.PeriodWeekly, metrics.PeriodMonthly}

var rankingColumns = []table.Column{
	{Title: "", Width: 2},
	{Title: "Agent", Width: 24},
	{Title: "Calls", Width: 8},
	{Title: "Meetings", Width: 10},
	{Title: "Level", Width: 10},
}

var levelIcons = map[metrics.Level]string{
	metrics.LevelExcellent: "🟢",
	metrics.LevelGood:      "🔵",
	metrics.LevelLow:       "🟡",
	metrics.LevelCritical:  "🔴",
}

type scoresLoadedMsg struct {
	period metrics.Period
	scores []metrics.AgentScore
	err    error
}

func (m Model) loadScores() tea.Cmd {
	monitor, period := m.monitor, m.period
	return func() tea.Msg {
		scores, err := monitor.Rank(context.Background(), period)
		return scoresLoadedMsg{period: period, scores: scores, err: err}
	}
}

func (m Model) applyScores(msg scoresLoadedMsg) Model {
	// Stale response from a period the user already left.
	if msg.period != m.period {
		return m
	}
	if msg.err != nil {
		m.err = msg.err
		return m
	}
	m.err = nil
	m.scores = msg.scores

	rows := make([]table.Row, 0, len(msg.scores))
	for _, s := range msg.scores {
		rows = append(rows, table.Row{
			levelIcons[s.Score.Level],
			s.AgentID,
			fmt.Sprintf("%d", s.Calls),
			fmt.Sprintf("%d", s.Meetings),
			string(s.Score.Level),
		})
	}
	m.table.SetRows(rows)
	if m.table.Cursor() >= len(rows) {
		m.table.SetCursor(0)
	}
	return m
}

func (m Model) renderRankingView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("FUNNEL · AGENT MONITORING"))
	s.WriteString("\n\n")
	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	if m.err != nil {
		s.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		s.WriteString("\n\n")
	}

	if len(m.scores) == 0 {
		s.WriteString(fmt.Sprintf("No activity recorded this %s period.", m.period))
	} else {
		s.WriteString(m.table.View())
		s.WriteString("\n\n")
		s.WriteString(m.renderSummary())
	}
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("d/w/m: period • tab: next period • enter: funnel • r: refresh • q: quit"))

	return s.String()
}

func (m Model) renderTabs() string {
	var rendered []string
	for _, p := range periods {
		if p == m.period {
			rendered = append(rendered, tabActiveStyle.Render(string(p)))
		} else {
			rendered = append(rendered, tabInactiveStyle.Render(string(p)))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

// renderSummary counts agents per tier, worst first.
func (m Model) renderSummary() string {
	counts := make(map[metrics.Level]int)
	for _, s := range m.scores {
		counts[s.Score.Level]++
	}
	var parts []string
	for _, l := range []metrics.Level{metrics.LevelCritical, metrics.LevelLow, metrics.LevelGood, metrics.LevelExcellent} {
		if counts[l] == 0 {
			continue
		}
		parts = append(parts, levelStyles[l].Render(fmt.Sprintf("%d %s", counts[l], l)))
	}
	return strings.Join(parts, "  ")
}

func (m Model) handleRankingKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "d":
		return m.switchPeriod(metrics.PeriodDaily)
	case "w":
		return m.switchPeriod(metrics.PeriodWeekly)
	case "m":
		return m.switchPeriod(metrics.PeriodMonthly)
	case "tab":
		for i, p := range periods {
			if p == m.period {
				return m.switchPeriod(periods[(i+1)%len(periods)])
			}
		}
		return m, nil
	case "r":
		return m, m.loadScores()
	case "enter":
		row := m.table.SelectedRow()
		if row == nil {
			return m, nil
		}
		m.selectedAgent = row[1]
		m.funnelText = ""
		m.viewMode = ViewFunnel
		return m, m.loadFunnel(m.selectedAgent)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) switchPeriod(p metrics.Period) (tea.Model, tea.Cmd) {
	if p == m.period {
		return m, nil
	}
	m.period = p
	return m, m.loadScores()
}
