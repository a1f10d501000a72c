package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/theakshaypant/studysync/internal/tui"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Walk through calendar drift interactively",
	Long: `Open a terminal view of sessions whose calendar events were moved or deleted.

Keybindings:
  j/k, ↑/↓    Move between changes
  a           Accept the calendar's time (moved events)
  p           Keep the planned time and push it back to the calendar
  r           Check again
  tab         Focus the detail panel
  ?           Toggle help
  q, esc      Quit`,
	RunE: runReview,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	userID, err := currentUser()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	m := tui.NewModel(a.svc, userID)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(cmd.Context()))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running review: %w", err)
	}
	return nil
}
