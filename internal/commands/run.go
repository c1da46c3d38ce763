package commands

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler and status server until interrupted",
	Long: `Start the market-hours scheduler and the status HTTP server.

Runs happen every schedule.open_interval while the market is open and every
schedule.closed_interval otherwise. POST /api/runs queues an extra run.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, cleanup, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		return a.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
