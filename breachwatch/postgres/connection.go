// File: connection.go
package postgres

import (
	"fmt"
	"log/slog"

	"github.com/SiriusScan/breachwatch/breachwatch/config"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres/models"
	"github.com/SiriusScan/breachwatch/breachwatch/slogger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the relational store described by cfg. The sqlite driver is
// meant for local runs and tests; production uses postgres.
func Connect(cfg config.DBConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	if slogger.IsDebug() {
		gormCfg.Logger = logger.Default.LogMode(logger.Info)
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(cfg.SQLitePath), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database %s: %w", cfg.SQLitePath, err)
		}
		// Every pooled connection to ":memory:" is a separate database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sqlite pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	case "postgres", "":
		db, err = gorm.Open(postgres.Open(cfg.DSN()), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres at %s:%d: %w", cfg.Host, cfg.Port, err)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	slog.Debug("Connected to database", "driver", db.Dialector.Name())
	return db, nil
}

// Migrate creates or updates every pipeline table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("error migrating database schema: %w", err)
	}
	return nil
}

// MissingTables lists the pipeline tables absent from db, in migration order.
func MissingTables(db *gorm.DB) []string {
	var missing []string
	for _, m := range models.All() {
		if db.Migrator().HasTable(m) {
			continue
		}
		name := fmt.Sprintf("%T", m)
		if t, ok := m.(tabler); ok {
			name = t.TableName()
		}
		missing = append(missing, name)
	}
	return missing
}

// Check connects without migrating, confirms the store answers a query, and
// reports which pipeline tables are missing. The schema is left untouched.
func Check(cfg config.DBConfig) (missing []string, err error) {
	db, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := closeDB(db); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var result int
	if err := db.Raw("SELECT 1").Scan(&result).Error; err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return MissingTables(db), nil
}

// Drop removes every pipeline table, newest dependency first.
func Drop(db *gorm.DB) error {
	all := models.All()
	for i := len(all) - 1; i >= 0; i-- {
		if err := db.Migrator().DropTable(all[i]); err != nil {
			return fmt.Errorf("error dropping %T: %w", all[i], err)
		}
	}
	return nil
}
