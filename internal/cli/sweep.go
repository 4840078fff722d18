package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewSweepCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete segments and sessions older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			if deps.Config.Recording.RetentionDays <= 0 {
				return fmt.Errorf("recording.retention_days must be positive to sweep")
			}
			a, err := deps.Build(false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Sweeper.Sweep()
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d files (%d bytes) and %d sessions\n",
				res.Files, res.Bytes, res.Sessions)
			return err
		},
	}
}
