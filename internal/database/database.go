package database

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/pathakanu/pushminder/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New creates a GORM database connection.
// When databaseURL is provided PostgreSQL is used, otherwise SQLite at sqlitePath is used.
func New(databaseURL, sqlitePath string, log *slog.Logger) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	if databaseURL != "" {
		db, err = gorm.Open(postgres.Open(databaseURL), gormConfig)
	} else {
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	logBackend(log, db, sqlitePath)
	return db, nil
}

// OpenMemory opens a private in-memory SQLite database named name and migrates it.
// All connections share one cache, so the pool is limited to a single connection.
func OpenMemory(name string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the tables the reminder core reads and writes.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.RecurringSchedule{},
		&model.PushSubscription{},
		&model.DispatchRecord{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func logBackend(log *slog.Logger, db *gorm.DB, sqlitePath string) {
	dialector := db.Dialector.Name()
	switch strings.ToLower(dialector) {
	case "postgres":
		log.Info("database: connected to PostgreSQL")
	case "sqlite":
		log.Info("database: using SQLite", "path", sqlitePath)
	default:
		log.Info("database: connected", "dialector", dialector)
	}
}
