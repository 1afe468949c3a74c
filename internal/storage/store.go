// Package storage implements persistence for Ultralight using GORM.
// Two backends are supported: SQLite (default, zero-config, pure Go via
// glebarez/sqlite) and PostgreSQL (production/multi-instance).
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/evrydayimruslin/ultralight/internal/config"
	"github.com/evrydayimruslin/ultralight/internal/function"
	"github.com/evrydayimruslin/ultralight/internal/scheduler"
	"github.com/evrydayimruslin/ultralight/internal/services"
)

// Store is the unified persistence layer. Both backends share the same
// models and repositories; driver differences are confined to Open and
// the row-locking strategy in the schedule repository.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	driver string
}

// Open creates a Store for the configured driver.
func Open(cfg *config.Config, slogger *slog.Logger) (*Store, error) {
	gormLogger := logger.New(
		slogWriter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	gormCfg := &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	driver := cfg.StorageDriverName()
	var db *gorm.DB
	var err error

	switch driver {
	case "postgres":
		pg := cfg.Storage.Postgres
		db, err = gorm.Open(postgres.Open(pg.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("opening postgres database: %w", err)
		}
		sqlDB, poolErr := db.DB()
		if poolErr != nil {
			return nil, fmt.Errorf("accessing connection pool: %w", poolErr)
		}
		sqlDB.SetMaxOpenConns(defaultInt(pg.MaxOpenConns, 25))
		sqlDB.SetMaxIdleConns(defaultInt(pg.MaxIdleConns, 5))
		sqlDB.SetConnMaxLifetime(time.Duration(defaultInt(pg.ConnMaxLifetimeS, 1800)) * time.Second)

	default:
		path := cfg.DatabasePath()
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite database: %w", err)
		}
	}

	s := &Store{db: db, logger: slogger, driver: driver}
	slogger.Info("store opened", slog.String("driver", driver))
	return s, nil
}

func defaultInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Migrate runs GORM AutoMigrate to create/update tables.
func (s *Store) Migrate(_ context.Context) error {
	if err := s.db.AutoMigrate(
		&FunctionModel{},
		&AppDataModel{},
		&ScheduleModel{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns the storage driver name ("sqlite" or "postgres").
func (s *Store) Driver() string { return s.driver }

// Ping checks database connectivity, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// DB exposes the underlying handle for transaction wrapping.
func (s *Store) DB() *gorm.DB { return s.db }

// Functions returns the hosted function repository.
func (s *Store) Functions() function.Store {
	return NewFunctionRepository(s.db)
}

// AppData returns the key/value store scoped to one app. The scoping is
// the tenant-isolation boundary: keys from different apps never meet.
func (s *Store) AppData(appID string) services.AppDataService {
	return NewAppDataRepository(s.db, appID)
}

// Schedules returns the schedule repository.
func (s *Store) Schedules() scheduler.ScheduleStore {
	return NewScheduleRepository(s.db)
}

// ScheduleFactory returns a scheduler.StoreFactory for transaction-scoped
// schedule stores.
func ScheduleFactory() scheduler.StoreFactory {
	return func(db *gorm.DB) scheduler.ScheduleStore {
		return NewScheduleRepository(db)
	}
}

// slogWriter adapts slog to GORM's logger.Writer interface.
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Printf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Warn(fmt.Sprintf(format, args...))
}
