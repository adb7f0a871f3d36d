package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateMidA string
	simulateMidB string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Push a synthetic quote pair through the alert path",
	RunE: func(cmd *cobra.Command, args []string) error {
		midA, err := decimal.NewFromString(simulateMidA)
		if err != nil {
			return fmt.Errorf("invalid --a-mid value: %w", err)
		}
		midB, err := decimal.NewFromString(simulateMidB)
		if err != nil {
			return fmt.Errorf("invalid --b-mid value: %w", err)
		}
		if !midA.IsPositive() || !midB.IsPositive() {
			return errors.New("--a-mid and --b-mid must be greater than 0")
		}

		return getApp().SimulateAlert(cmd.Context(), midA, midB)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateMidA, "a-mid", "", "Mid price of instrument A")
	simulateCmd.Flags().StringVar(&simulateMidB, "b-mid", "", "Mid price of instrument B")
}
