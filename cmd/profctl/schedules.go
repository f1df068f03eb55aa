package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	config "profiler/configs"
)

func newSchedulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Inspect schedule files",
	}
	cmd.AddCommand(newSchedulesValidateCommand())
	return cmd
}

func newSchedulesValidateCommand() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a schedule file and print upcoming runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schedules, err := config.LoadSchedules(args[0])
			if err != nil {
				return err
			}

			now := time.Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCRON\tENABLED\tCOMMAND\tNEXT RUNS")
			for _, s := range schedules {
				sched, err := config.CronParser.Parse(s.Cron)
				if err != nil {
					return err
				}
				next := now
				runs := ""
				for i := 0; i < count; i++ {
					next = sched.Next(next)
					if i > 0 {
						runs += ", "
					}
					runs += next.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
					s.Name, s.Cron, s.IsEnabled(), s.Request.DisplayCommand(), runs)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d schedule(s) OK\n", len(schedules))
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "next", "n", 1, "number of upcoming runs to show")
	return cmd
}
