package workorder

import (
	"context"
	"testing"
	"time"

	"github.com/zulandar/otyard/internal/models"
	"github.com/zulandar/otyard/internal/sla"
)

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), 404)
	wantKind(t, err, KindNotFound)
}

func TestList_FiltersAndOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	machine := uint(3)

	low := f.create(t, CreateOpts{Priority: "P4", MachineID: &machine})
	f.advance(time.Minute)
	urgent := f.create(t, CreateOpts{Priority: "P1", MachineID: &machine})
	f.advance(time.Minute)
	f.create(t, CreateOpts{Priority: "P1", CompanyID: 2})
	f.advance(time.Minute)
	f.create(t, CreateOpts{Priority: "P2", AssignedTo: "bob"})

	got, err := f.svc.List(ctx, ListFilters{CompanyID: 1, MachineID: &machine})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].ID != urgent.ID || got[1].ID != low.ID {
		t.Errorf("List = %+v", got)
	}

	got, err = f.svc.List(ctx, ListFilters{AssignedTo: "bob"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].AssignedTo != "bob" {
		t.Errorf("List by assignee = %+v", got)
	}

	got, err = f.svc.List(ctx, ListFilters{Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("limit ignored: %d rows", len(got))
	}
}

func TestDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fid := f.failure(t, models.FailureOccurrence{CausedDowntime: true})
	wo := f.started(t, CreateOpts{FailureIDs: []uint{fid}, Priority: "P1"})
	if err := f.svc.Follow(ctx, wo.ID, technician); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	minutes := 30
	if _, err := f.svc.LogWork(ctx, wo.ID, LogWorkInput{ActivityType: "diagnosis", ActualMinutes: &minutes}, technician); err != nil {
		t.Fatalf("LogWork: %v", err)
	}
	f.advance(3*time.Hour + 10*time.Minute)

	d, err := f.svc.Detail(ctx, wo.ID)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if d.SLA == nil || d.SLA.Status != sla.StatusAtRisk {
		t.Errorf("SLA = %+v, want AT_RISK", d.SLA)
	}
	if d.OpenDowntime == nil || d.CloseBlocker != ReasonOpenDowntime {
		t.Errorf("open downtime %v blocker %q", d.OpenDowntime, d.CloseBlocker)
	}
	if d.LoggedMinutes != 30 || len(d.WorkLogs) != 1 {
		t.Errorf("logged %d entries %d", d.LoggedMinutes, len(d.WorkLogs))
	}
	if len(d.Watchers) != 1 || len(d.WorkOrder.Failures) != 1 {
		t.Errorf("watchers %v failures %d", d.Watchers, len(d.WorkOrder.Failures))
	}

	if _, err := f.svc.ConfirmReturnToProduction(ctx, wo.ID, ConfirmInput{}, technician); err != nil {
		t.Fatalf("ConfirmReturnToProduction: %v", err)
	}
	d, err = f.svc.Detail(ctx, wo.ID)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if d.CloseBlocker != "" || d.OpenDowntime != nil {
		t.Errorf("blocker %q after confirm", d.CloseBlocker)
	}
	if d.DowntimeMinutes != 190 {
		t.Errorf("DowntimeMinutes = %d, want 190", d.DowntimeMinutes)
	}
}

func TestDetail_WaitingOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wo := f.started(t, CreateOpts{})
	eta := t0.Add(time.Hour)
	if _, err := f.svc.EnterWaiting(ctx, wo.ID, WaitingInput{Reason: "APPROVAL", Description: "awaiting budget sign-off", ETA: &eta}, technician); err != nil {
		t.Fatalf("EnterWaiting: %v", err)
	}

	d, err := f.svc.Detail(ctx, wo.ID)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if d.WaitingOverdue {
		t.Error("should not be overdue before ETA")
	}
	f.advance(2 * time.Hour)
	if d, _ = f.svc.Detail(ctx, wo.ID); !d.WaitingOverdue {
		t.Error("should be overdue after ETA")
	}
}

func TestPriorSolutions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	machine := uint(9)

	closed := func(outcome models.Outcome, completed time.Time, solution string) uint {
		wo := models.WorkOrder{
			CompanyID:          1,
			MachineID:          &machine,
			Title:              "old",
			Priority:           models.PriorityP3,
			Status:             models.StatusClosed,
			CreatedAt:          completed.Add(-time.Hour),
			CompletedDate:      &completed,
			ResultNotes:        outcome,
			WorkPerformedNotes: solution,
		}
		if err := f.db.Create(&wo).Error; err != nil {
			t.Fatalf("seed closed order: %v", err)
		}
		return wo.ID
	}
	partial := closed(models.OutcomePartial, t0.Add(-24*time.Hour), "tightened fittings")
	worked := closed(models.OutcomeWorked, t0.Add(-72*time.Hour), "replaced pump")
	closed(models.OutcomeWorked, t0.Add(-96*time.Hour), "replaced pump again")

	cur := f.create(t, CreateOpts{MachineID: &machine})
	other := uint(10)
	f.create(t, CreateOpts{MachineID: &other})

	got, err := f.svc.PriorSolutions(ctx, cur.ID, 2)
	if err != nil {
		t.Fatalf("PriorSolutions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d solutions, want 2", len(got))
	}
	if got[0].WorkOrderID != worked {
		t.Errorf("first = %d, want most recent WORKED %d", got[0].WorkOrderID, worked)
	}
	for _, p := range got {
		if p.WorkOrderID == partial {
			t.Error("PARTIAL should rank after both WORKED solutions")
		}
	}

	none := f.create(t, CreateOpts{})
	if got, err := f.svc.PriorSolutions(ctx, none.ID, 0); err != nil || len(got) != 0 {
		t.Errorf("order without machine: %v %v", got, err)
	}
}

func TestLogWork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wo := f.started(t, CreateOpts{})

	_, err := f.svc.LogWork(ctx, wo.ID, LogWorkInput{ActivityType: "NAPPING"}, technician)
	wantKind(t, err, KindValidation)

	_, err = f.svc.LogWork(ctx, 999, LogWorkInput{ActivityType: "TRAVEL"}, technician)
	wantKind(t, err, KindNotFound)

	end := t0.Add(40 * time.Minute)
	entry, err := f.svc.LogWork(ctx, wo.ID, LogWorkInput{ActivityType: "travel", StartedAt: t0, EndedAt: &end}, technician)
	if err != nil {
		t.Fatalf("LogWork: %v", err)
	}
	if entry.PerformedBy != technician.ID || entry.ActualMinutes == nil || *entry.ActualMinutes != 40 {
		t.Errorf("entry = %+v", entry)
	}

	if _, err := f.svc.Close(ctx, wo.ID, validPayload(), technician); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err = f.svc.LogWork(ctx, wo.ID, LogWorkInput{ActivityType: "TRAVEL"}, technician)
	wantKind(t, err, KindInvalidState)
}
