package failure

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/otyard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.FailureOccurrence{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func TestReport_Success(t *testing.T) {
	db := testDB(t)
	machine := uint(4)
	stopped := t0.Add(-20 * time.Minute)

	f, err := Report(db, ReportOpts{
		CompanyID:         1,
		MachineID:         &machine,
		Title:             "  Spindle overheating ",
		CausedDowntime:    true,
		DowntimeStartedAt: &stopped,
		ReportedBy:        "op-7",
		ReportedAt:        t0,
	})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if f.ID == 0 || f.Title != "Spindle overheating" {
		t.Errorf("report = %+v", f)
	}
}

func TestReport_Validation(t *testing.T) {
	db := testDB(t)
	late := t0.Add(time.Hour)
	tests := []struct {
		name    string
		opts    ReportOpts
		wantErr string
	}{
		{"missing company", ReportOpts{Title: "x", ReportedBy: "a"}, "company id is required"},
		{"missing title", ReportOpts{CompanyID: 1, ReportedBy: "a"}, "title is required"},
		{"long title", ReportOpts{CompanyID: 1, Title: strings.Repeat("t", 256), ReportedBy: "a"}, "exceeds 255"},
		{"missing reporter", ReportOpts{CompanyID: 1, Title: "x"}, "reported by is required"},
		{"start without downtime", ReportOpts{CompanyID: 1, Title: "x", ReportedBy: "a", DowntimeStartedAt: &t0}, "did not cause downtime"},
		{"start after report", ReportOpts{CompanyID: 1, Title: "x", ReportedBy: "a", CausedDowntime: true, DowntimeStartedAt: &late, ReportedAt: t0}, "cannot start after"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Report(db, tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestGet_CompanyScope(t *testing.T) {
	db := testDB(t)
	f, err := Report(db, ReportOpts{CompanyID: 1, Title: "leak", ReportedBy: "a", ReportedAt: t0})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}

	if _, err := Get(db, 1, f.ID); err != nil {
		t.Errorf("Get: %v", err)
	}
	if _, err := Get(db, 2, f.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get other company = %v, want ErrNotFound", err)
	}
}

func TestList_Filters(t *testing.T) {
	db := testDB(t)
	m := uint(3)
	Report(db, ReportOpts{CompanyID: 1, MachineID: &m, Title: "a", ReportedBy: "x", CausedDowntime: true, ReportedAt: t0})
	Report(db, ReportOpts{CompanyID: 1, Title: "b", ReportedBy: "x", ReportedAt: t0.Add(time.Hour)})
	Report(db, ReportOpts{CompanyID: 2, Title: "c", ReportedBy: "x", ReportedAt: t0})

	all, err := List(db, 1, ListFilters{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].Title != "b" {
		t.Errorf("List = %+v, want newest first", all)
	}

	yes := true
	down, _ := List(db, 1, ListFilters{CausedDowntime: &yes})
	if len(down) != 1 || down[0].Title != "a" {
		t.Errorf("downtime filter = %+v", down)
	}
	byMachine, _ := List(db, 1, ListFilters{MachineID: &m, Limit: 5})
	if len(byMachine) != 1 {
		t.Errorf("machine filter = %+v", byMachine)
	}
}

func TestReport_InvalidSentinel(t *testing.T) {
	_, err := Report(testDB(t), ReportOpts{})
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}
