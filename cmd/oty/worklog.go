package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/otyard/internal/workorder"
)

func newWorklogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worklog",
		Short: "Work log commands",
	}

	cmd.AddCommand(newWorklogAddCmd())
	cmd.AddCommand(newWorklogListCmd())
	return cmd
}

func newWorklogAddCmd() *cobra.Command {
	var (
		configPath  string
		af          actorFlags
		activity    string
		description string
		performedBy string
		started     string
		ended       string
		minutes     int
	)

	cmd := &cobra.Command{
		Use:   "add <work-order-id>",
		Short: "Log time spent on a work order",
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
			actor, err := af.actor()
			if err != nil {
				return err
			}
			now := a.orders.Now()
			in := workorder.LogWorkInput{
				ActivityType:  activity,
				Description:   description,
				PerformedBy:   performedBy,
				ActualMinutes: optInt(cmd, "minutes", minutes),
			}
			if start, err := optTime(cmd, "start", started, now); err != nil {
				return err
			} else if start != nil {
				in.StartedAt = *start
			}
			if in.EndedAt, err = optTime(cmd, "end", ended, now); err != nil {
				return err
			}

			entry, err := a.orders.LogWork(cmd.Context(), id, in, actor)
			if err != nil {
				return describeError(err)
			}
			logged := "-"
			if entry.ActualMinutes != nil {
				logged = formatMinutes(*entry.ActualMinutes)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged %s %s on work order %d (entry %d)\n", logged, entry.ActivityType, id, entry.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to otyard config file")
	af.register(cmd)
	cmd.Flags().StringVar(&activity, "activity", "EXECUTION", "EXECUTION, DIAGNOSIS, WAITING, TRAVEL, DOCUMENTATION, INSPECTION, PARTS_PICKUP or OTHER")
	cmd.Flags().StringVar(&description, "description", "", "what was done")
	cmd.Flags().StringVar(&performedBy, "by", "", "technician (default: the actor)")
	cmd.Flags().StringVar(&started, "start", "", "start time (default now)")
	cmd.Flags().StringVar(&ended, "end", "", "end time")
	cmd.Flags().IntVar(&minutes, "minutes", 0, "minutes spent (default: derived from start and end)")
	return cmd
}

func newWorklogListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list <work-order-id>",
		Short: "List work log entries of a work order",
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
			entries, err := a.orders.WorkLogs(cmd.Context(), id)
			if err != nil {
				return describeError(err)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No work logged.")
				return nil
			}
			total := 0
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tACTIVITY\tBY\tSTARTED\tMINUTES\tDESCRIPTION")
			for _, e := range entries {
				m := "-"
				if e.ActualMinutes != nil {
					m = formatMinutes(*e.ActualMinutes)
					total += *e.ActualMinutes
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					e.ID, e.ActivityType, e.PerformedBy, formatTime(&e.StartedAt), m, truncate(e.Description, 50))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nTotal: %s\n", formatMinutes(total))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to otyard config file")
	return cmd
}
