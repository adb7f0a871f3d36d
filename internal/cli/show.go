package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ratiowatch/internal/app"
)

var (
	showLimit  int
	showAlerts int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the most recent aggregated ratio groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Alerts: showAlerts,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of groups to display")
	showCmd.Flags().IntVar(&showAlerts, "alerts", 0, "Also list this many recent alert audit records")
}
