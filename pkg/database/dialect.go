package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	writerBusyTimeout = 15 * time.Second
	readerBusyTimeout = 5 * time.Second
)

// dsn builds the connection string for cfg. Readers get a read-only sqlite
// connection with a shorter busy timeout than the writer.
func dsn(cfg Config, readOnly bool) (string, error) {
	switch cfg.Driver {
	case DriverSQLite:
		if cfg.File == "" {
			return "", errors.New("database file is required for sqlite")
		}
		q := url.Values{}
		if readOnly {
			q.Set("mode", "ro")
			q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", readerBusyTimeout.Milliseconds()))
		} else {
			q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", writerBusyTimeout.Milliseconds()))
			q.Add("_pragma", "journal_mode(WAL)")
		}
		return "file:" + cfg.File + "?" + q.Encode(), nil
	case DriverPostgres:
		if cfg.URL == "" {
			return "", errors.New("database url is required for postgres")
		}
		return cfg.URL, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

// rebind rewrites ? placeholders into the driver's positional form
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// isUniqueViolation reports whether err is a primary key or unique constraint failure
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}

	return false
}

// readingTableExists reports whether the reading table is present
func readingTableExists(ctx context.Context, db *sql.DB, driver string) (bool, error) {
	var query string
	switch driver {
	case DriverSQLite:
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND lower(name) = 'reading'"
	case DriverPostgres:
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = 'reading'"
	default:
		return false, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	var n int
	if err := db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up reading table: %w", err)
	}
	return n > 0, nil
}
