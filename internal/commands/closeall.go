package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var closeAllYes bool

var closeAllCmd = &cobra.Command{
	Use:   "close-all",
	Short: "Sell every position held in the ledger",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !closeAllYes {
			return fmt.Errorf("close-all sells every held position; pass --yes to confirm")
		}
		a, cleanup, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		rep, err := a.CloseAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "closed %d position(s), %d failed\n", len(rep.Sales), len(rep.CloseFailures))
		for _, f := range rep.CloseFailures {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", f.Symbol, f.Reason)
		}
		return nil
	},
}

func init() {
	closeAllCmd.Flags().BoolVarP(&closeAllYes, "yes", "y", false, "confirm closing all positions")
	rootCmd.AddCommand(closeAllCmd)
}
