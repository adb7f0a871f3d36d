package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ratiowatch/internal/app"
)

var (
	replayFile    string
	replayCSVPath string
	replayPNGPath string
	replayPersist bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay recorded quotes through the reducer and export the view",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayFile == "" {
			return fmt.Errorf("--file must be provided")
		}

		opts := app.ReplayOptions{
			Path:    replayFile,
			CSVPath: replayCSVPath,
			PNGPath: replayPNGPath,
			Persist: replayPersist,
		}

		return getApp().Replay(cmd.Context(), opts)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayFile, "file", "", "CSV of quotes (timestamp,instrument,ask,bid)")
	replayCmd.Flags().StringVar(&replayCSVPath, "csv", "", "Path to write the aggregated view as CSV")
	replayCmd.Flags().StringVar(&replayPNGPath, "png", "", "Path to write the aggregated view as PNG chart")
	replayCmd.Flags().BoolVar(&replayPersist, "persist", false, "Also write records to PostgreSQL when sink.postgres is enabled")
}
