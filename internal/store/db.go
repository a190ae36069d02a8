package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder and type syntax for the SQL store.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const sqlitePrefix = "sqlite:"

// DialectFor reports which dialect a database URL refers to. URLs starting
// with "sqlite:" name a sqlite file; everything else is handed to pgx.
func DialectFor(databaseURL string) Dialect {
	if strings.HasPrefix(databaseURL, sqlitePrefix) {
		return DialectSQLite
	}
	return DialectPostgres
}

func Open(ctx context.Context, databaseURL string) (*sql.DB, Dialect, error) {
	dialect := DialectFor(databaseURL)

	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectSQLite:
		path := strings.TrimPrefix(databaseURL, sqlitePrefix)
		db, err = sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite")
		if err != nil {
			return nil, "", fmt.Errorf("open db: %w", err)
		}
		// one writer; also keeps ":memory:" databases on a single connection
		db.SetMaxOpenConns(1)
	default:
		db, err = sql.Open("pgx", databaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("open db: %w", err)
		}
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("ping db: %w", err)
	}
	return db, dialect, nil
}
