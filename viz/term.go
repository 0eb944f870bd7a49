// ABOUTME: Terminal capability detection for the dashboard renderer
// ABOUTME: Colors only when writing to a terminal and NO_COLOR is unset
package viz

import (
	"os"

	"golang.org/x/term"
)

// ColorEnabled reports whether f is a terminal that should receive ANSI colors.
func ColorEnabled(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
