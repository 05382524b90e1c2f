package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"deepscan/internal/config"
	"deepscan/internal/services"
)

// ErrNotFound reports a missing job or result. It matches services.ErrNotFound.
var ErrNotFound = fmt.Errorf("store: %w", services.ErrNotFound)

// Store persists jobs and results in a SQL database.
type Store struct {
	db       *sql.DB
	driver   string
	dsn      string
	postgres bool
	now      func() time.Time
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			return lastErr
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, s.rebind(query), args...)
		return execErr
	})
	return res, err
}

// Open connects to the configured store and applies the schema. SQLite
// databases are created under the data directory when no DSN is set.
func Open(cfg *config.Config) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("store: nil config")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenDSN(context.Background(), cfg.Store.Driver, cfg.StoreDSN())
}

// OpenDSN connects using an explicit driver name ("sqlite", "pgx" or "postgres").
func OpenDSN(ctx context.Context, driver, dsn string) (*Store, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = "sqlite"
	}
	store := &Store{driver: driver, dsn: dsn, now: time.Now}
	openDSN := dsn
	switch driver {
	case "sqlite":
		openDSN = sqliteDSN(dsn)
	case "pgx", "postgres":
		store.postgres = true
	default:
		return nil, services.Wrap(services.ErrConfiguration, "store", "open", "unsupported driver "+driver, nil)
	}

	db, err := sql.Open(driver, openDSN)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	if !store.postgres {
		// One writer at a time keeps WAL mode from surfacing SQLITE_BUSY on upserts.
		db.SetMaxOpenConns(1)
	}
	store.db = db

	if err := db.PingContext(ensureContext(ctx)); err != nil {
		_ = db.Close()
		return nil, services.Wrap(services.ErrTransient, "store", "ping", driver, err)
	}
	if err := store.initSchema(ensureContext(ctx)); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") || strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store: not open")
	}
	return s.db.PingContext(ensureContext(ctx))
}

// rebind rewrites `?` placeholders to `$n` for Postgres drivers.
func (s *Store) rebind(query string) string {
	if !s.postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) timestamp() string {
	return formatTime(s.now())
}
