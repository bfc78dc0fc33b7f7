package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/rl1809/ticket-rush/internal/config"
)

// OpenDatabase opens and pings the configured SQL store. For sqlite the parent
// directory of the database file is created if missing.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, errors.Wrap(err, "create sqlite directory")
		}
		db, err = sql.Open("sqlite", cfg.SQLitePath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite")
		}
		// SQLite has a single writer.
		db.SetMaxOpenConns(1)
	default:
		db, err = sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, errors.Wrap(err, "open mysql")
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "ping %s", cfg.Driver)
	}
	return db, nil
}
