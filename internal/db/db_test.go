package db

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/zulandar/otyard/internal/config"
	"github.com/zulandar/otyard/internal/models"
)

func mysqlCfg(host string, port int, name string) config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver:   "mysql",
		Host:     host,
		Port:     port,
		User:     "otyard",
		Password: "s3cret",
		Name:     name,
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want []string
	}{
		{
			name: "default local",
			cfg:  mysqlCfg("127.0.0.1", 3306, "otyard"),
			want: []string{"otyard:s3cret@tcp(127.0.0.1:3306)/otyard?", "parseTime=true", "charset=utf8mb4"},
		},
		{
			name: "custom host and port",
			cfg:  mysqlCfg("10.0.0.5", 3307, "planta_norte"),
			want: []string{"@tcp(10.0.0.5:3307)/planta_norte?"},
		},
		{
			name: "ipv6 host",
			cfg:  mysqlCfg("::1", 3306, "otyard"),
			want: []string{"@tcp([::1]:3306)/otyard?"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.cfg)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("DSN() = %q, missing %q", got, w)
				}
			}
		})
	}
}

func TestDSN_RoundTrips(t *testing.T) {
	cfg := mysqlCfg("db.internal", 3306, "otyard")
	parsed, err := gomysql.ParseDSN(DSN(cfg))
	if err != nil {
		t.Fatalf("ParseDSN: %v", err)
	}
	if parsed.User != "otyard" || parsed.Passwd != "s3cret" {
		t.Errorf("credentials = %q/%q", parsed.User, parsed.Passwd)
	}
	if parsed.Addr != "db.internal:3306" || parsed.DBName != "otyard" {
		t.Errorf("addr/db = %q/%q", parsed.Addr, parsed.DBName)
	}
	if !parsed.ParseTime {
		t.Error("ParseTime should be set")
	}
	if !parsed.ClientFoundRows {
		t.Error("ClientFoundRows should be set")
	}
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect(config.DatabaseConfig{Driver: "postgres"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("error = %q", err)
	}
}

func TestConnect_SQLiteAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "otyard.db")
	gdb, err := Connect(config.DatabaseConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}

	// Migration is idempotent.
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("second AutoMigrate: %v", err)
	}

	wo := models.WorkOrder{CompanyID: 1, Title: "Cinta transportadora detenida"}
	if err := gdb.Create(&wo).Error; err != nil {
		t.Fatalf("create work order: %v", err)
	}
	if wo.Status != models.StatusPending || wo.Priority != models.PriorityP3 {
		t.Errorf("defaults = %s/%s, want PENDING/P3", wo.Status, wo.Priority)
	}
}

func TestAutoMigrate_NormalizesLegacyRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "otyard.db")
	gdb, err := Connect(config.DatabaseConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	insert := "INSERT INTO work_orders (company_id, title, priority, status, created_at, updated_at) VALUES (1, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)"
	rows := [][2]string{{"URGENT", "pending"}, {"P2", "on_hold"}, {"low", "COMPLETED"}, {"P3", "PENDING"}}
	for _, r := range rows {
		if err := gdb.Exec(insert, "legacy", r[0], r[1]).Error; err != nil {
			t.Fatalf("insert %v: %v", r, err)
		}
	}

	n, err := NormalizeLegacy(gdb)
	if err != nil {
		t.Fatalf("NormalizeLegacy: %v", err)
	}
	// URGENT, pending, on_hold, low, COMPLETED.
	if n != 5 {
		t.Errorf("NormalizeLegacy touched %d rows, want 5", n)
	}

	var stored []struct{ Priority, Status string }
	if err := gdb.Raw("SELECT priority, status FROM work_orders ORDER BY id").Scan(&stored).Error; err != nil {
		t.Fatalf("read rows: %v", err)
	}
	want := [][2]string{{"P1", "PENDING"}, {"P2", "WAITING"}, {"P4", "CLOSED"}, {"P3", "PENDING"}}
	for i, w := range want {
		if stored[i].Priority != w[0] || stored[i].Status != w[1] {
			t.Errorf("row %d = %s/%s, want %s/%s", i, stored[i].Priority, stored[i].Status, w[0], w[1])
		}
	}

	if n, _ := NormalizeLegacy(gdb); n != 0 {
		t.Errorf("second NormalizeLegacy touched %d rows, want 0", n)
	}
}

func TestConnectAdmin_RequiresMySQL(t *testing.T) {
	if _, err := ConnectAdmin(config.DatabaseConfig{Driver: "sqlite"}); err == nil {
		t.Fatal("expected error for sqlite admin connection")
	}
}

func TestConnect_MySQLError(t *testing.T) {
	// Port 1 is unlikely to have a MySQL server; expect connection error.
	_, err := Connect(mysqlCfg("127.0.0.1", 1, "nonexistent"))
	if err == nil {
		t.Fatal("expected error connecting to invalid port")
	}
	if !strings.Contains(err.Error(), "db: connect to") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db: connect to")
	}
}

func TestAllModels_Count(t *testing.T) {
	if got := len(AllModels()); got != 6 {
		t.Errorf("AllModels() returned %d models, want 6", got)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", driver.ErrBadConn, true},
		{"wrapped bad conn", fmt.Errorf("query: %w", driver.ErrBadConn), true},
		{"invalid conn", gomysql.ErrInvalidConn, true},
		{"deadlock", &gomysql.MySQLError{Number: 1213, Message: "Deadlock found"}, true},
		{"lock wait", &gomysql.MySQLError{Number: 1205}, true},
		{"duplicate key", &gomysql.MySQLError{Number: 1062}, false},
		{"other", errors.New("syntax error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
