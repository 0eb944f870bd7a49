// ABOUTME: Monitoring board subcommand
// ABOUTME: Runs the bubbletea agent ranking in the alternate screen
package cli

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/harperreed/funnel/tui"
)

// TUICommand runs the interactive monitoring board
func TUICommand(app *App) error {
	model := tui.NewModel(app.Monitor, app.Store.Clients, app.Pipeline.Now)
	_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}
