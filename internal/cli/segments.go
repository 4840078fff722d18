package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func NewSegmentsCmd(deps *Dependencies) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "segments CAMERA",
		Short: "List the finalized segments of a camera",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := deps.Build(false)
			if err != nil {
				return err
			}
			defer a.Close()

			var start, end *time.Time
			if from != "" {
				t, err := parseFlagTime(from)
				if err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				start = &t
			}
			if to != "" {
				t, err := parseFlagTime(to)
				if err != nil {
					return fmt.Errorf("--to: %w", err)
				}
				end = &t
			}

			files, err := a.Coordinator.ListSegments(args[0], start, end)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No segments found")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "START\tEND\tDURATION\tSIZE\tFILE")
			var total int64
			for _, f := range files {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					f.StartTime.Format(time.DateTime),
					f.EndTime.Format(time.DateTime),
					time.Duration(f.Duration*float64(time.Second)).Round(time.Second),
					f.Size, f.Filename)
				total += f.Size
			}
			tw.Flush()
			fmt.Fprintf(cmd.OutOrStdout(), "%d segments, %d bytes\n", len(files), total)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "only segments ending after this time (YYYY-MM-DDTHH:MM:SS)")
	cmd.Flags().StringVar(&to, "to", "", "only segments starting before this time (YYYY-MM-DDTHH:MM:SS)")
	return cmd
}

func parseFlagTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.Local); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateTime, s, time.Local)
}

