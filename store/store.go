// Package store implements the durable tier of the cache: a single SQLite
// file holding result entries, raw gathered context, and periodic analytics
// snapshots, each indexed by expiry so bulk cleanup never scans.
//
// Every operation is fail-soft: I/O errors are logged (rate-limited) and
// reported to a circuit breaker, and the caller sees a miss or a no-op. A
// cache must never fail the request it is accelerating.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/promptpipe/enhancecache/breaker"
	"github.com/promptpipe/enhancecache/retry"
)

// DefaultTimeout bounds every durable operation so a slow disk cannot stall
// the request path. On timeout the operation degrades to a miss.
const DefaultTimeout = 50 * time.Millisecond

const schema = `
CREATE TABLE IF NOT EXISTS result_entries (
	key              TEXT PRIMARY KEY,
	original_input   TEXT NOT NULL,
	produced_result  TEXT NOT NULL,
	context_snapshot TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	ttl_ms           INTEGER NOT NULL,
	expires_at       INTEGER NOT NULL,
	hit_count        INTEGER NOT NULL DEFAULT 0,
	quality_score    REAL NOT NULL DEFAULT 0,
	size_estimate    INTEGER NOT NULL DEFAULT 0,
	metadata         TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS result_entries_expires ON result_entries (expires_at);

CREATE TABLE IF NOT EXISTS raw_context (
	id                TEXT PRIMARY KEY,
	project_signature TEXT NOT NULL,
	frameworks        TEXT NOT NULL DEFAULT '[]',
	gathered_facts    TEXT NOT NULL DEFAULT '',
	gathered_docs     TEXT NOT NULL DEFAULT '',
	gathered_snippets TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL,
	expires_at        INTEGER NOT NULL,
	access_count      INTEGER NOT NULL DEFAULT 0,
	last_accessed     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS raw_context_expires ON raw_context (expires_at);
CREATE INDEX IF NOT EXISTS raw_context_signature ON raw_context (project_signature);

CREATE TABLE IF NOT EXISTS stats_snapshots (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	taken_at    INTEGER NOT NULL,
	hits        INTEGER NOT NULL,
	misses      INTEGER NOT NULL,
	avg_hit_ms  REAL NOT NULL,
	avg_miss_ms REAL NOT NULL,
	entry_count INTEGER NOT NULL,
	total_size  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS stats_snapshots_taken ON stats_snapshots (taken_at);
`

// Store wraps the SQLite handle. It is opened once at startup and shared
// process-wide; all methods are safe for concurrent use (SQLite serializes
// writers internally, contention is absorbed by the busy retry).
type Store struct {
	db      *sql.DB
	log     logrus.FieldLogger
	logLim  *rate.Limiter
	brk     *breaker.Breaker
	timeout time.Duration
	busy    retry.Config
}

// Option configures a Store.
type Option func(*Store)

// WithTimeout sets the per-operation deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger used for fail-soft error reporting.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *breaker.Breaker) Option {
	return func(s *Store) {
		if b != nil {
			s.brk = b
		}
	}
}

// Open opens (creating if necessary) the cache database at path, applies
// the schema, and reclaims rows a previous process left expired. WAL mode
// keeps readers off the writer's lock.
func Open(path string, opts ...Option) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=20", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	s := &Store{
		db:      db,
		log:     logrus.StandardLogger(),
		logLim:  rate.NewLimiter(rate.Every(10*time.Second), 1),
		brk:     breaker.New(breaker.DefaultConfig()),
		timeout: DefaultTimeout,
		busy: retry.Config{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Millisecond,
			MaxDelay:    10 * time.Millisecond,
			Jitter:      0.2,
			Retryable:   retryableBusy,
		},
	}
	for _, o := range opts {
		o(s)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}

	// Reclaim whatever the previous process did not get to sweep.
	now := time.Now()
	s.DeleteExpired(context.Background(), now)
	s.DeleteRawExpired(context.Background(), now)

	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Available reports whether the breaker currently lets operations through.
// Analytics uses it for health reporting; it never affects correctness.
func (s *Store) Available() bool {
	return s.brk.State() != breaker.Tripped
}

// retryableBusy accepts the transient lock-contention codes SQLite returns
// while a concurrent writer holds the database.
func retryableBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// run executes op under the store's deadline and circuit breaker. Any error
// is logged (rate-limited) and swallowed; the boolean reports success so
// callers can degrade to a miss.
func (s *Store) run(ctx context.Context, name string, op func(ctx context.Context) error) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.brk.Do(func() error {
		_, err := retry.Do(ctx, s.busy, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, op(ctx)
		})
		return err
	})
	if err == nil {
		return true
	}
	if s.logLim.Allow() {
		s.log.WithError(err).WithField("op", name).Warn("durable store unavailable, degrading to miss")
	}
	return false
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }
