package database

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pathakanu/pushminder/internal/model"
)

func TestNewSQLiteMigratesAndLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reminders.db")

	var buf bytes.Buffer
	db, err := New("", path, slog.New(slog.NewTextHandler(&buf, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("DB: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, table := range []interface{}{&model.RecurringSchedule{}, &model.PushSubscription{}, &model.DispatchRecord{}} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("table for %T not migrated", table)
		}
	}

	out := buf.String()
	if !strings.Contains(out, "database: using SQLite") || !strings.Contains(out, "path="+path) {
		t.Fatalf("unexpected log output: %s", out)
	}
}
