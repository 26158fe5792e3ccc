package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres" // lib/pq
	DriverPgx      = "pgx"      // pgx stdlib
)

// DB is a sqlx handle shared by the score audit and the dead-letter queue
type DB struct {
	*sqlx.DB
	driver string
	logger *logrus.Logger
}

// Open connects, tunes the pool for the driver and creates the schema if absent
func Open(driver, dsn string, logger *logrus.Logger) (*DB, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if dsn == "" {
		return nil, fmt.Errorf("empty dsn for %s", driver)
	}

	switch driver {
	case DriverSQLite:
		if !strings.HasPrefix(dsn, ":memory:") && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	case DriverPostgres, DriverPgx:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// Single writer; WAL lets readers proceed during ingestion
		db.SetMaxOpenConns(1)
		db.Exec("PRAGMA journal_mode = WAL")
		db.Exec("PRAGMA busy_timeout = 5000")
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	store := &DB{DB: db, driver: driver, logger: logger}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logger.WithFields(logrus.Fields{"driver": driver}).Debug("audit database ready")
	return store, nil
}

// Driver returns the driver name the handle was opened with
func (d *DB) Driver() string {
	return d.driver
}

func (d *DB) initSchema() error {
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.driver != DriverSQLite {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS score_audit (
			id TEXT PRIMARY KEY,
			transaction_id TEXT NOT NULL,
			fraud_probability REAL NOT NULL,
			model_backed BOOLEAN NOT NULL,
			outcome TEXT NOT NULL,
			risk_factors TEXT,
			latency_ms INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_score_audit_tx ON score_audit (transaction_id, created_at)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS dead_letter_queue (
			id %s,
			transaction_id TEXT NOT NULL UNIQUE,
			payload TEXT NOT NULL,
			error_message TEXT NOT NULL,
			error_type TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_retry_at TIMESTAMP NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, idColumn),
	}

	for _, stmt := range statements {
		if _, err := d.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.DB.Close()
}
