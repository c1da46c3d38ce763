package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"riskbot/internal/app"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show held positions, risk usage and the latest run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, cleanup, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		st, err := a.Status(cmd.Context())
		if err != nil {
			return err
		}
		if statusJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		printStatus(cmd.OutOrStdout(), st)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(statusCmd)
}

func printStatus(w io.Writer, st app.Status) {
	fmt.Fprintf(w, "Mode: %s\n", st.Mode)
	fmt.Fprintf(w, "Risk: %.2f%% of %.2f%% ($%.2f)\n", st.Risk.PercentUsed, st.Limits.MaxPercent(), st.Risk.DollarUsed)
	if st.LastRun != nil {
		fmt.Fprintf(w, "Last run: %s %s (%s, %d trades)\n", st.LastRun.ID, st.LastRun.FinishedAt.Format("2006-01-02 15:04:05"), st.LastRun.Outcome, st.LastRun.TradesMade)
	} else {
		fmt.Fprintln(w, "Last run: -")
	}
	if len(st.Positions) == 0 {
		fmt.Fprintln(w, "No open positions")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tQTY\tENTRY\tSTOP LOSS\tSTOP LIMIT\tDAYS\tSTATUS")
	for _, p := range st.Positions {
		fmt.Fprintf(tw, "%s\t%.4f\t%.2f\t%.2f\t%.2f\t%d\t%s\n", p.Symbol, p.Quantity, p.EntryPrice, p.StopLoss, p.StopLimit, p.DaysHeld, p.Status)
	}
	tw.Flush()
}
