package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/otyard/internal/models"
	"github.com/zulandar/otyard/internal/workorder"
)

func newWOCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "wo",
		Aliases: []string{"workorder"},
		Short:   "Work order commands",
	}

	cmd.AddCommand(newWOCreateCmd())
	cmd.AddCommand(newWOListCmd())
	cmd.AddCommand(newWOShowCmd())
	cmd.AddCommand(newWOAssignCmd())
	cmd.AddCommand(newWOStartCmd())
	cmd.AddCommand(newWOWaitCmd())
	cmd.AddCommand(newWOResumeCmd())
	cmd.AddCommand(newWOConfirmRTPCmd())
	cmd.AddCommand(newWOCloseCmd())
	cmd.AddCommand(newWOCancelCmd())
	cmd.AddCommand(newWOFollowCmd())
	cmd.AddCommand(newWOUnfollowCmd())
	cmd.AddCommand(newWOHistoryCmd())
	cmd.AddCommand(newWOPriorCmd())
	return cmd
}

type transitionFunc func(ctx context.Context, a *app, id uint, actor workorder.Actor) (*models.WorkOrder, error)

// runTransition resolves the app, actor and id, then applies fn.
func runTransition(cmd *cobra.Command, configPath string, af *actorFlags, arg string, fn transitionFunc) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()
	actor, err := af.actor()
	if err != nil {
		return err
	}
	wo, err := fn(cmd.Context(), a, id, actor)
	if err != nil {
		return describeError(err)
	}
	a.invalidate(cmd.Context(), wo.CompanyID)
	fmt.Fprintf(cmd.OutOrStdout(), "Work order %d is %s\n", wo.ID, wo.Status)
	return nil
}

// transitionCmd builds a "<verb> <id>" command sharing config and actor flags.
func transitionCmd(use, short string, fn func(cmd *cobra.Command) transitionFunc, flags func(cmd *cobra.Command)) *cobra.Command {
	var (
		configPath string
		af         actorFlags
	)
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(cmd, configPath, &af, args[0], fn(cmd))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to otyard config file")
	af.register(cmd)
	if flags != nil {
		flags(cmd)
	}
	return cmd
}

func newWOCreateCmd() *cobra.Command {
	var (
		configPath  string
		af          actorFlags
		opts        workorder.CreateOpts
		machine     uint
		scheduled   string
		failureIDs  []uint
		description string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a corrective work order",
		Long:  "Creates a PENDING work order, optionally linked to fault reports. Linking a fault that stopped the machine opens a downtime log.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()
			actor, err := af.actor()
			if err != nil {
				return err
			}
			if opts.CompanyID == 0 {
				opts.CompanyID = a.cfg.CompanyID
			}
			opts.MachineID = optUint(cmd, "machine", machine)
			opts.FailureIDs = failureIDs
			opts.Description = description
			if opts.ScheduledDate, err = optTime(cmd, "scheduled", scheduled, a.orders.Now()); err != nil {
				return err
			}

			wo, err := a.orders.Create(cmd.Context(), opts, actor)
			if err != nil {
				return describeError(err)
			}
			a.invalidate(cmd.Context(), wo.CompanyID)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created work order %d (%s, %s)\n", wo.ID, wo.Priority, wo.Status)
			if wo.RequiresReturnToProduction {
				fmt.Fprintln(out, "Return to production must be confirmed before close.")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to otyard config file")
	af.register(cmd)
	cmd.Flags().UintVar(&opts.CompanyID, "company", 0, "company id (default from config)")
	cmd.Flags().UintVar(&machine, "machine", 0, "machine id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "work order title (required)")
	cmd.Flags().StringVar(&description, "description", "", "detailed description")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "P1..P4 or URGENT, HIGH, MEDIUM, LOW (default P3)")
	cmd.Flags().UintSliceVar(&failureIDs, "failure", nil, "linked failure id (repeatable)")
	cmd.Flags().StringVar(&opts.AssignedTo, "assign", "", "assign to user at creation")
	cmd.Flags().StringVar(&scheduled, "scheduled", "", "planned date")
	cmd.Flags().BoolVar(&opts.RequiresQA, "qa", false, "require QA sign-off")
	cmd.MarkFlagRequired("title")
	return cmd
}

func newWOListCmd() *cobra.Command {
	var (
		configPath string
		company    uint
		machine    uint
		status     string
		assignee   string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work orders",
		Long:  "Lists work orders ordered by priority then age. Output is formatted as a table.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			f := workorder.ListFilters{
				CompanyID:  company,
				MachineID:  optUint(cmd, "machine", machine),
				AssignedTo: assignee,
				Limit:      limit,
			}
			if f.CompanyID == 0 {
				f.CompanyID = a.cfg.CompanyID
			}
			if status != "" {
				for _, part := range strings.Split(status, ",") {
					st, err := models.ParseStatus(part)
					if err != nil {
						return err
					}
					f.Statuses = append(f.Statuses, st)
				}
			}
			orders, err := a.orders.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			return printOrders(cmd.OutOrStdout(), a, orders)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to otyard config file")
	cmd.Flags().UintVar(&company, "company", 0, "company id (default from config)")
	cmd.Flags().UintVar(&machine, "machine", 0, "filter by machine")
	cmd.Flags().StringVar(&status, "status", "", "comma separated statuses")
	cmd.Flags().StringVar(&assignee, "assignee", "", "filter by assignee")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (default 200)")
	return cmd
}

func printOrders(out io.Writer, a *app, orders []models.WorkOrder) error {
	if len(orders) == 0 {
		fmt.Fprintln(out, "No work orders found.")
		return nil
	}
	now := a.orders.Now()
	policy := a.orders.Policy()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRI\tSTATUS\tSLA\tTITLE\tASSIGNEE\tCREATED")
	for _, wo := range orders {
		sla := "-"
		if !wo.Status.IsTerminal() {
			sla = string(policy.Compute(wo.Priority, wo.CreatedAt, now).Status)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			wo.ID, wo.Priority, wo.Status, sla, truncate(wo.Title, 40), dash(wo.AssignedTo), formatTime(&wo.CreatedAt))
	}
	return w.Flush()
}

func newWOShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show work order details",
		Long:  "Displays a work order with its SLA projection, downtime, work log and what still blocks close.",
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
			d, err := a.orders.Detail(cmd.Context(), id)
			if err != nil {
				return describeError(err)
			}
			printDetail(cmd.OutOrStdout(), d)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to otyard config file")
	return cmd
}

func printDetail(out io.Writer, d *workorder.Detail) {
	wo := d.WorkOrder
	fmt.Fprintf(out, "ID:          %d\n", wo.ID)
	fmt.Fprintf(out, "Title:       %s\n", wo.Title)
	fmt.Fprintf(out, "Status:      %s\n", wo.Status)
	fmt.Fprintf(out, "Priority:    %s (%s)\n", wo.Priority, wo.Priority.Label())
	fmt.Fprintf(out, "Assignee:    %s\n", dash(wo.AssignedTo))
	fmt.Fprintf(out, "Created:     %s by %s\n", formatTime(&wo.CreatedAt), dash(wo.CreatedBy))
	if wo.StartedDate != nil {
		fmt.Fprintf(out, "Started:     %s\n", formatTime(wo.StartedDate))
	}
	if d.SLA != nil {
		fmt.Fprintf(out, "SLA:         %s, due %s", d.SLA.Status, formatTime(&d.SLA.DueAt))
		if d.SLA.Overdue {
			fmt.Fprintf(out, " (%dh overdue)", d.SLA.OverdueHours)
		} else {
			fmt.Fprintf(out, " (%dh left)", d.SLA.HoursRemaining)
		}
		fmt.Fprintln(out)
	}
	if wo.Status == models.StatusWaiting {
		fmt.Fprintf(out, "Waiting:     %s until %s", wo.WaitingReason, formatTime(wo.WaitingETA))
		if d.WaitingOverdue {
			fmt.Fprint(out, " (overdue)")
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "             %s\n", wo.WaitingDescription)
	}
	if wo.RequiresReturnToProduction {
		state := "pending"
		if wo.ReturnToProductionConfirmed {
			state = fmt.Sprintf("confirmed %s by %s", formatTime(wo.ReturnToProductionConfirmedAt), wo.ReturnToProductionConfirmedBy)
		}
		fmt.Fprintf(out, "Return:      %s\n", state)
	}
	if d.CloseBlocker != "" {
		fmt.Fprintf(out, "Close:       blocked (%s)\n", d.CloseBlocker)
	}
	fmt.Fprintf(out, "Downtime:    %s across %d log(s)\n", formatMinutes(d.DowntimeMinutes), len(d.DowntimeLogs))
	fmt.Fprintf(out, "Logged work: %s across %d entr(ies)\n", formatMinutes(d.LoggedMinutes), len(d.WorkLogs))
	if len(d.Watchers) > 0 {
		fmt.Fprintf(out, "Watchers:    %s\n", strings.Join(d.Watchers, ", "))
	}
	if wo.Status == models.StatusClosed {
		fmt.Fprintf(out, "\nClosure (%s, %s):\n", wo.ClosingMode, wo.ResultNotes)
		fmt.Fprintf(out, "  %s\n", wo.ClosureTitle)
		fmt.Fprintf(out, "  Diagnosis: %s\n", wo.DiagnosisNotes)
		fmt.Fprintf(out, "  Solution:  %s\n", wo.WorkPerformedNotes)
	}
	if wo.Status == models.StatusCancelled {
		fmt.Fprintf(out, "\nCancelled %s: %s\n", formatTime(wo.CancelledAt), wo.CancelReason)
	}
	if wo.Description != "" {
		fmt.Fprintf(out, "\nDescription:\n%s\n", wo.Description)
	}
}

func newWOAssignCmd() *cobra.Command {
	cmd := transitionCmd("assign", "Assign or reassign a work order", func(cmd *cobra.Command) transitionFunc {
		return func(ctx context.Context, a *app, id uint, actor workorder.Actor) (*models.WorkOrder, error) {
			to, _ := cmd.Flags().GetString("to")
			return a.orders.Assign(ctx, id, to, actor)
		}
	}, func(cmd *cobra.Command) {
		cmd.Flags().String("to", "", "assignee user id (required)")
		cmd.MarkFlagRequired("to")
	})
	return cmd
}

func newWOStartCmd() *cobra.Command {
	return transitionCmd("start", "Start work on an assigned order", func(*cobra.Command) transitionFunc {
		return func(ctx context.Context, a *app, id uint, actor workorder.Actor) (*models.WorkOrder, error) {
			return a.orders.Start(ctx, id, actor)
		}
	}, nil)
}

func newWOWaitCmd() *cobra.Command {
	return transitionCmd("wait", "Put an in-progress order on hold", func(cmd *cobra.Command) transitionFunc {
		return func(ctx context.Context, a *app, id uint, actor workorder.Actor) (*models.WorkOrder, error) {
			reason, _ := cmd.Flags().GetString("reason")
			desc, _ := cmd.Flags().GetString("description")
			etaRaw, _ := cmd.Flags().GetString("eta")
			eta, err := optTime(cmd, "eta", etaRaw, a.orders.Now())
			if err != nil {
				return nil, err
			}
			return a.orders.EnterWaiting(ctx, id, workorder.WaitingInput{Reason: reason, Description: desc, ETA: eta}, actor)
		}
	}, func(cmd *cobra.Command) {
		cmd.Flags().String("reason", "", "SPARE_PART, VENDOR, PRODUCTION, APPROVAL, RESOURCES or OTHER")
		cmd.Flags().String("description", "", "what the order is waiting for")
		cmd.Flags().String("eta", "", "expected resume time, e.g. +48h")
	})
}

func newWOResumeCmd() *cobra.Command {
	return transitionCmd("resume", "Resume a waiting order", func(*cobra.Command) transitionFunc {
		return func(ctx context.Context, a *app, id uint, actor workorder.Actor) (*models.WorkOrder, error) {
			return a.orders.Resume(ctx, id, actor)
		}
	}, nil)
}

func newWOConfirmRTPCmd() *cobra.Command {
	return transitionCmd("confirm-rtp", "Confirm the machine is back in production", func(cmd *cobra.Command) transitionFunc {
		return func(ctx context.Context, a *app, id uint, actor workorder.Actor) (*models.WorkOrder, error) {
			logID, _ := cmd.Flags().GetUint("log")
			notes, _ := cmd.Flags().GetString("notes")
			return a.orders.ConfirmReturnToProduction(ctx, id, workorder.ConfirmInput{
				DowntimeLogID: optUint(cmd, "log", logID),
				Notes:         notes,
			}, actor)
		}
	}, func(cmd *cobra.Command) {
		cmd.Flags().Uint("log", 0, "downtime log to close (default: the open one)")
		cmd.Flags().String("notes", "", "confirmation notes")
	})
}

func newWOCloseCmd() *cobra.Command {
	var p workorder.ClosePayload
	var (
		effectiveness int
		minutes       int
		component     uint
		subcomponent  uint
	)
	return transitionCmd("close", "Close a work order with the guided form", func(cmd *cobra.Command) transitionFunc {
		return func(ctx context.Context, a *app, id uint, actor workorder.Actor) (*models.WorkOrder, error) {
			p.Effectiveness = optInt(cmd, "effectiveness", effectiveness)
			p.ActualMinutes = optInt(cmd, "minutes", minutes)
			p.FinalComponentID = optUint(cmd, "component", component)
			p.FinalSubcomponentID = optUint(cmd, "subcomponent", subcomponent)
			return a.orders.Close(ctx, id, p, actor)
		}
	}, func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&p.Mode, "mode", "MINIMAL", "MINIMAL or PROFESSIONAL")
		cmd.Flags().StringVar(&p.Title, "title", "", "closure title (default: derived from solution)")
		cmd.Flags().StringVar(&p.Diagnosis, "diagnosis", "", "what was found")
		cmd.Flags().StringVar(&p.Solution, "solution", "", "what was done")
		cmd.Flags().StringVar(&p.Outcome, "outcome", "", "WORKED, PARTIAL or DID_NOT_WORK")
		cmd.Flags().StringVar(&p.FixType, "fix-type", "", "PATCH or DEFINITIVE (default DEFINITIVE)")
		cmd.Flags().StringVar(&p.ConfirmedCause, "cause", "", "confirmed root cause")
		cmd.Flags().StringVar(&p.Notes, "notes", "", "closure notes")
		cmd.Flags().UintVar(&component, "component", 0, "final component id")
		cmd.Flags().UintVar(&subcomponent, "subcomponent", 0, "final subcomponent id")
		cmd.Flags().IntVar(&effectiveness, "effectiveness", 0, "effectiveness rating 1-5")
		cmd.Flags().IntVar(&minutes, "minutes", 0, "actual minutes worked, recorded as an execution log")
	})
}

func newWOCancelCmd() *cobra.Command {
	return transitionCmd("cancel", "Cancel a work order", func(cmd *cobra.Command) transitionFunc {
		return func(ctx context.Context, a *app, id uint, actor workorder.Actor) (*models.WorkOrder, error) {
			reason, _ := cmd.Flags().GetString("reason")
			return a.orders.Cancel(ctx, id, reason, actor)
		}
	}, func(cmd *cobra.Command) {
		cmd.Flags().String("reason", "", "why the order is cancelled (required)")
		cmd.MarkFlagRequired("reason")
	})
}

// watchCmd builds follow and unfollow.
func watchCmd(use, short, done string, fn func(s *workorder.Service) func(context.Context, uint, workorder.Actor) error) *cobra.Command {
	var (
		configPath string
		af         actorFlags
	)
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
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
			if err := fn(a.orders)(cmd.Context(), id, actor); err != nil {
				return describeError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s work order %d\n", done, id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to otyard config file")
	af.register(cmd)
	return cmd
}

func newWOFollowCmd() *cobra.Command {
	return watchCmd("follow", "Receive notifications for a work order", "Following",
		func(s *workorder.Service) func(context.Context, uint, workorder.Actor) error { return s.Follow })
}

func newWOUnfollowCmd() *cobra.Command {
	return watchCmd("unfollow", "Stop notifications for a work order", "No longer following",
		func(s *workorder.Service) func(context.Context, uint, workorder.Actor) error { return s.Unfollow })
}

func newWOHistoryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show the transition audit trail",
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
			rows, err := a.orders.History(cmd.Context(), id)
			if err != nil {
				return describeError(err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "AT\tTRANSITION\tFROM\tTO\tACTOR\tNOTE")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					formatTime(&r.CreatedAt), r.Transition, dash(string(r.FromStatus)), r.ToStatus, dash(r.Actor), truncate(r.Note, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to otyard config file")
	return cmd
}

func newWOPriorCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "prior <id>",
		Short: "Show how similar failures were solved before",
		Long:  "Lists closed work orders on the same machine or final component, the ones that worked first.",
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
			prior, err := a.orders.PriorSolutions(cmd.Context(), id, limit)
			if err != nil {
				return describeError(err)
			}
			out := cmd.OutOrStdout()
			if len(prior) == 0 {
				fmt.Fprintln(out, "No prior solutions found.")
				return nil
			}
			for _, p := range prior {
				fmt.Fprintf(out, "#%d %s [%s, %s] closed %s\n", p.WorkOrderID, p.Title, p.Outcome, p.FixType, formatTime(p.CompletedDate))
				fmt.Fprintf(out, "    %s\n", truncate(p.Solution, 120))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to otyard config file")
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum results")
	return cmd
}
