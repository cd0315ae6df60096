package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/otyard/internal/failure"
)

func newFailureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failure",
		Short: "Fault report commands",
	}

	cmd.AddCommand(newFailureReportCmd())
	cmd.AddCommand(newFailureListCmd())
	return cmd
}

func newFailureReportCmd() *cobra.Command {
	var (
		configPath  string
		af          actorFlags
		company     uint
		machine     uint
		component   uint
		title       string
		description string
		downtime    bool
		safety      bool
		observation bool
		since       string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report a fault",
		Long:  "Records a fault occurrence. A fault that stopped the machine (--downtime) makes any work order raised from it require return to production.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			actor, err := af.actor()
			if err != nil {
				return err
			}
			now := a.orders.Now()
			started, err := optTime(cmd, "since", since, now)
			if err != nil {
				return err
			}
			if company == 0 {
				company = a.cfg.CompanyID
			}
			f, err := failure.Report(a.db.WithContext(cmd.Context()), failure.ReportOpts{
				CompanyID:         company,
				MachineID:         optUint(cmd, "machine", machine),
				ComponentID:       optUint(cmd, "component", component),
				Title:             title,
				Description:       description,
				CausedDowntime:    downtime,
				IsSafetyRelated:   safety,
				IsObservation:     observation,
				DowntimeStartedAt: started,
				ReportedBy:        actor.ID,
				ReportedAt:        now,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reported failure %d\n", f.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to otyard config file")
	af.register(cmd)
	cmd.Flags().UintVar(&company, "company", 0, "company id (default from config)")
	cmd.Flags().UintVar(&machine, "machine", 0, "machine id")
	cmd.Flags().UintVar(&component, "component", 0, "component id")
	cmd.Flags().StringVar(&title, "title", "", "short fault title (required)")
	cmd.Flags().StringVar(&description, "description", "", "what was observed")
	cmd.Flags().BoolVar(&downtime, "downtime", false, "the fault stopped the machine")
	cmd.Flags().BoolVar(&safety, "safety", false, "the fault is safety related")
	cmd.Flags().BoolVar(&observation, "observation", false, "record as an observation only")
	cmd.Flags().StringVar(&since, "since", "", "when the machine stopped (RFC3339 or offset like -30m)")
	cmd.MarkFlagRequired("title")
	return cmd
}

func newFailureListCmd() *cobra.Command {
	var (
		configPath string
		company    uint
		machine    uint
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List fault reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			if company == 0 {
				company = a.cfg.CompanyID
			}
			reports, err := failure.List(a.db.WithContext(cmd.Context()), company, failure.ListFilters{
				MachineID: optUint(cmd, "machine", machine),
				Limit:     limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(reports) == 0 {
				fmt.Fprintln(out, "No failures found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tMACHINE\tDOWNTIME\tREPORTED\tBY")
			for _, f := range reports {
				m := "-"
				if f.MachineID != nil {
					m = fmt.Sprint(*f.MachineID)
				}
				down := "no"
				if f.CausedDowntime {
					down = "yes"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					f.ID, truncate(f.Title, 40), m, down, formatTime(&f.ReportedAt), dash(f.ReportedBy))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to otyard config file")
	cmd.Flags().UintVar(&company, "company", 0, "company id (default from config)")
	cmd.Flags().UintVar(&machine, "machine", 0, "filter by machine")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}
