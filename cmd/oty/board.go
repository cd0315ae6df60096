package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/otyard/internal/dispatcher"
	"github.com/zulandar/otyard/internal/models"
	"github.com/zulandar/otyard/internal/sla"
	"golang.org/x/term"
)

const defaultBoardWidth = 120

func newBoardCmd() *cobra.Command {
	var (
		configPath string
		company    uint
		machine    uint
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show the dispatcher board",
		Long:  "Displays open work orders in the intake, to-plan, in-progress and waiting lanes with their SLA state. Use --watch for auto-refresh.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBoard(cmd, configPath, company, optUint(cmd, "machine", machine), watch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to otyard config file")
	cmd.Flags().UintVar(&company, "company", 0, "company id (default from config)")
	cmd.Flags().UintVar(&machine, "machine", 0, "only this machine")
	cmd.Flags().BoolVar(&watch, "watch", false, "auto-refresh every 5 seconds")
	return cmd
}

func runBoard(cmd *cobra.Command, configPath string, company uint, machine *uint, watch bool) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()
	if company == 0 {
		company = a.cfg.CompanyID
	}
	svc := a.board

	out := cmd.OutOrStdout()
	for {
		view, err := svc.View(cmd.Context(), dispatcher.Scope{CompanyID: company, MachineID: machine})
		if err != nil {
			return err
		}
		if watch {
			// Clear screen.
			fmt.Fprint(out, "\033[2J\033[H")
		}
		if err := printBoard(out, view, boardWidth(out)); err != nil {
			return err
		}
		if !watch {
			return nil
		}
		select {
		case <-cmd.Context().Done():
			return nil
		case <-time.After(5 * time.Second):
		}
	}
}

// boardWidth returns the terminal width when out is a terminal.
func boardWidth(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return defaultBoardWidth
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return defaultBoardWidth
	}
	return w
}

func printBoard(out io.Writer, v *dispatcher.View, width int) error {
	s := v.Summary
	fmt.Fprintf(out, "Dispatcher board at %s: %d open, %d breached, %d at risk, %d waiting overdue\n",
		v.GeneratedAt.UTC().Format("2006-01-02 15:04"), s.Total, s.SLABreached, s.SLAAtRisk, s.WaitingOverdue)

	// Fixed columns take roughly 60 characters; the title gets the rest.
	titleWidth := width - 60
	if titleWidth < 20 {
		titleWidth = 20
	}

	lanes := []struct {
		name  string
		cards []dispatcher.Card
	}{
		{"ENTRANTES (unassigned)", v.Entrantes},
		{"A PLANIFICAR (assigned)", v.APlanificar},
		{"EN EJECUCION / in progress", v.EnEjecucion.InProgress},
		{"EN EJECUCION / waiting", v.EnEjecucion.Waiting},
	}
	for _, lane := range lanes {
		fmt.Fprintf(out, "\n%s (%d)\n", lane.name, len(lane.cards))
		if len(lane.cards) == 0 {
			continue
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  ID\tPRI\tSLA\tDUE\tASSIGNEE\tTITLE")
		for _, c := range lane.cards {
			due := fmt.Sprintf("%dh", c.HoursRemaining)
			if c.Overdue {
				due = fmt.Sprintf("-%dh", c.OverdueHours)
			}
			title := c.Title
			if c.WaitingReason != "" && c.Status == models.StatusWaiting {
				title = fmt.Sprintf("[%s until %s] %s", c.WaitingReason, formatTime(c.WaitingETA), title)
			}
			if c.RequiresReturnToProduction && !c.ReturnToProductionConfirmed {
				title = "(rtp pending) " + title
			}
			fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%s\t%s\n",
				c.ID, c.Priority, slaMark(c.Projection), due, dash(c.AssignedTo), truncate(title, titleWidth))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func slaMark(p sla.Projection) string {
	switch p.Status {
	case sla.StatusBreached:
		return "BREACHED"
	case sla.StatusAtRisk:
		return "AT_RISK"
	}
	return "ok"
}
