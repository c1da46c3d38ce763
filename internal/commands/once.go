package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Execute a single run and print its report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, cleanup, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		rep, err := a.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rep.Text())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(onceCmd)
}
