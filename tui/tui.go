// ABOUTME: Terminal monitoring board using bubbletea
// ABOUTME: Ranks agents for a period and drills into a closer's funnel
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/harperreed/funnel/metrics"
)

// ViewMode represents the current TUI view
type ViewMode int

const (
	ViewRanking ViewMode = iota
	ViewFunnel
)

// Ranker scores agents for a period.
type Ranker interface {
	Rank(ctx context.Context, period metrics.Period) ([]metrics.AgentScore, error)
}

// Model is the main bubbletea model
type Model struct {
	monitor Ranker
	clients metrics.ClientLister
	now     func() time.Time

	viewMode ViewMode
	period   metrics.Period
	scores   []metrics.AgentScore
	table    table.Model

	// Funnel view state
	selectedAgent string
	funnelText    string

	width  int
	height int
	err    error
}

// NewModel creates a new TUI model
func NewModel(monitor Ranker, clients metrics.ClientLister, now func() time.Time) Model {
	t := table.New(
		table.WithColumns(rankingColumns),
		table.WithFocused(true),
		table.WithHeight(14),
	)
	return Model{
		monitor:  monitor,
		clients:  clients,
		now:      now,
		viewMode: ViewRanking,
		period:   metrics.PeriodDaily,
		table:    t,
		width:    80,
		height:   24,
	}
}

func (m Model) Init() tea.Cmd {
	return m.loadScores()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(msg.Height-10, 3))
		return m, nil
	case scoresLoadedMsg:
		return m.applyScores(msg), nil
	case funnelLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.funnelText = msg.text
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	switch m.viewMode {
	case ViewFunnel:
		return m.renderFunnelView()
	default:
		return m.renderRankingView()
	}
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	}

	switch m.viewMode {
	case ViewFunnel:
		return m.handleFunnelKeys(msg)
	default:
		return m.handleRankingKeys(msg)
	}
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			MarginBottom(1)

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			Background(lipgloss.Color("235")).
			Padding(0, 2)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	levelStyles = map[metrics.Level]lipgloss.Style{
		metrics.LevelExcellent: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		metrics.LevelGood:      lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		metrics.LevelLow:       lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		metrics.LevelCritical:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)
