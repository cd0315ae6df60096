package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/otyard/internal/models"
	"github.com/zulandar/otyard/internal/workorder"
)

func newDowntimeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "downtime",
		Short: "Machine downtime commands",
	}

	cmd.AddCommand(newDowntimeOpenCmd())
	cmd.AddCommand(newDowntimeListCmd())
	return cmd
}

func newDowntimeOpenCmd() *cobra.Command {
	return transitionCmd("open", "Record that the machine stopped again", func(cmd *cobra.Command) transitionFunc {
		return func(ctx context.Context, a *app, id uint, actor workorder.Actor) (*models.WorkOrder, error) {
			raw, _ := cmd.Flags().GetString("since")
			notes, _ := cmd.Flags().GetString("notes")
			started, err := optTime(cmd, "since", raw, a.orders.Now())
			if err != nil {
				return nil, err
			}
			return a.orders.OpenDowntime(ctx, id, workorder.OpenDowntimeInput{StartedAt: started, Notes: notes}, actor)
		}
	}, func(cmd *cobra.Command) {
		cmd.Flags().String("since", "", "when the machine stopped (default now)")
		cmd.Flags().String("notes", "", "what happened")
	})
}

func newDowntimeListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list <work-order-id>",
		Short: "List downtime logs of a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			logs, err := a.orders.DowntimeLogs(cmd.Context(), id)
			if err != nil {
				return describeError(err)
			}

			out := cmd.OutOrStdout()
			if len(logs) == 0 {
				fmt.Fprintln(out, "No downtime recorded.")
				return nil
			}
			now := a.orders.Now()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tENDED\tDURATION\tOPENED BY\tCLOSED BY")
			for _, l := range logs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					l.ID, formatTime(&l.StartedAt), formatTime(l.EndedAt), logDuration(l, now), dash(l.OpenedBy), dash(l.ClosedBy))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to otyard config file")
	return cmd
}

// logDuration shows closed logs by their stored total and open ones as running.
func logDuration(l models.DowntimeLog, now time.Time) string {
	if l.TotalMinutes != nil {
		return formatMinutes(*l.TotalMinutes)
	}
	return formatMinutes(models.ElapsedMinutes(l.StartedAt, now)) + " (open)"
}
