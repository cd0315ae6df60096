package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/zulandar/otyard/internal/cache"
	"github.com/zulandar/otyard/internal/models"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.WorkOrder{}, &models.FailureOccurrence{}, &models.DowntimeLog{}, &models.WorkLog{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func seed(t *testing.T, db *gorm.DB, orders ...models.WorkOrder) {
	t.Helper()
	for i := range orders {
		if err := db.Create(&orders[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestNew_RequiresDB(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestView_RequiresCompany(t *testing.T) {
	svc, _ := New(Opts{DB: testDB(t)})
	if _, err := svc.View(context.Background(), Scope{}); err == nil {
		t.Fatal("expected error for missing company")
	}
}

func TestView_ScopeFilters(t *testing.T) {
	db := testDB(t)
	m1, m2 := uint(1), uint(2)
	a := order(0, models.StatusPending, models.PriorityP1, "", t0)
	a.MachineID = &m1
	b := order(0, models.StatusInProgress, models.PriorityP2, "bob", t0)
	b.MachineID = &m2
	c := order(0, models.StatusClosed, models.PriorityP2, "bob", t0)
	c.MachineID = &m1
	d := order(0, models.StatusPending, models.PriorityP2, "", t0)
	d.CompanyID = 2
	seed(t, db, a, b, c, d)

	svc, _ := New(Opts{DB: db, Logger: zaptest.NewLogger(t), Now: func() time.Time { return t0.Add(time.Hour) }})
	ctx := context.Background()

	v, err := svc.View(ctx, Scope{CompanyID: 1})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if v.Summary.Total != 2 || v.Summary.Entrantes != 1 || v.Summary.InProgress != 1 {
		t.Errorf("summary = %+v", v.Summary)
	}

	v, err = svc.View(ctx, Scope{CompanyID: 1, MachineID: &m1})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if v.Summary.Total != 1 || v.Entrantes[0].MachineID == nil || *v.Entrantes[0].MachineID != m1 {
		t.Errorf("machine view = %+v", v.Summary)
	}
}

func TestView_CachedSnapshot(t *testing.T) {
	db := testDB(t)
	seed(t, db, order(0, models.StatusPending, models.PriorityP1, "", t0))
	mem := cache.NewMemory()
	now := t0
	svc, _ := New(Opts{DB: db, Cache: mem, TTL: time.Minute, Now: func() time.Time { return now }})
	ctx := context.Background()

	if _, err := svc.View(ctx, Scope{CompanyID: 1}); err != nil {
		t.Fatalf("View: %v", err)
	}
	if mem.Len() != 1 {
		t.Fatalf("cache entries = %d, want 1", mem.Len())
	}

	seed(t, db, order(0, models.StatusPending, models.PriorityP2, "", t0))
	now = t0.Add(4*time.Hour + time.Minute)
	v, err := svc.View(ctx, Scope{CompanyID: 1})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if v.Summary.Total != 1 {
		t.Errorf("Total = %d, want cached snapshot of 1", v.Summary.Total)
	}
	if v.Summary.SLABreached != 1 {
		t.Error("SLA should be recomputed against now even from cache")
	}

	svc.Invalidate(ctx, 1)
	v, err = svc.View(ctx, Scope{CompanyID: 1})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if v.Summary.Total != 2 {
		t.Errorf("Total after invalidate = %d, want 2", v.Summary.Total)
	}
}

func TestView_LegacySpellings(t *testing.T) {
	db := testDB(t)
	created := t0.Add(-(4*time.Hour + time.Minute))
	insert := "INSERT INTO work_orders (company_id, title, priority, status, assigned_to, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)"
	if err := db.Exec(insert, 1, "Horno 2 sin temperatura", "URGENT", "PENDING", "", created, created).Error; err != nil {
		t.Fatalf("insert legacy priority: %v", err)
	}
	if err := db.Exec(insert, 1, "Compresor 1 vibra", "P1", "pending", "", created, created).Error; err != nil {
		t.Fatalf("insert legacy status: %v", err)
	}
	if err := db.Exec(insert, 1, "Cinta 3 atascada", "high", "in_progress", "bob", created, created).Error; err != nil {
		t.Fatalf("insert legacy running: %v", err)
	}

	svc, _ := New(Opts{DB: db, Logger: zaptest.NewLogger(t), Now: func() time.Time { return t0 }})
	v, err := svc.View(context.Background(), Scope{CompanyID: 1})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if v.Summary.Total != 3 || v.Summary.Entrantes != 2 || v.Summary.InProgress != 1 {
		t.Fatalf("summary = %+v, want 3 total, 2 entrantes, 1 in progress", v.Summary)
	}
	if v.Summary.SLABreached != 2 {
		t.Errorf("SLABreached = %d, want 2", v.Summary.SLABreached)
	}
	for _, c := range v.Entrantes {
		if c.Priority != models.PriorityP1 || c.Status != models.StatusPending {
			t.Errorf("card %d = %s/%s, want P1/PENDING", c.ID, c.Priority, c.Status)
		}
		if c.Projection.Status != "BREACHED" {
			t.Errorf("card %d slaStatus = %s, want BREACHED", c.ID, c.Projection.Status)
		}
	}
	if got := v.EnEjecucion.InProgress[0].Priority; got != models.PriorityP2 {
		t.Errorf("in-progress priority = %s, want P2", got)
	}
}
