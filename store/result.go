package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/promptpipe/enhancecache/entry"
)

// FieldCount is one row of a grouping query: a field value and how many
// entries carry it.
type FieldCount struct {
	Value string
	Count int
}

// GetEntry returns the stored entry for key. Expired rows and I/O failures
// both report absent.
func (s *Store) GetEntry(ctx context.Context, key string, now time.Time) (*entry.Entry, bool) {
	var (
		e         entry.Entry
		createdMS int64
		ttlMS     int64
		expiresMS int64
		metaRaw   string
	)
	ok := s.run(ctx, "get_entry", func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `
			SELECT key, original_input, produced_result, context_snapshot,
			       created_at, ttl_ms, expires_at, hit_count, quality_score,
			       size_estimate, metadata
			FROM result_entries WHERE key = ?`, key)
		err := row.Scan(&e.Key, &e.OriginalInput, &e.ProducedResult, &e.ContextSnapshot,
			&createdMS, &ttlMS, &expiresMS, &e.HitCount, &e.QualityScore,
			&e.SizeEstimate, &metaRaw)
		if errors.Is(err, sql.ErrNoRows) {
			e.Key = ""
			return nil
		}
		return err
	})
	if !ok || e.Key == "" {
		return nil, false
	}

	e.CreatedAt = fromMillis(createdMS)
	e.TTL = time.Duration(ttlMS) * time.Millisecond
	e.ExpiresAt = fromMillis(expiresMS)
	if e.Expired(now) {
		return nil, false
	}
	_ = json.Unmarshal([]byte(metaRaw), &e.Metadata)
	return &e, true
}

// PutEntry upserts an entry by key, so recomputing an existing logical
// request overwrites the prior result. Failures are silently dropped.
func (s *Store) PutEntry(ctx context.Context, e *entry.Entry) {
	metaRaw, err := json.Marshal(e.Metadata)
	if err != nil {
		metaRaw = []byte("{}")
	}
	s.run(ctx, "put_entry", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO result_entries
				(key, original_input, produced_result, context_snapshot,
				 created_at, ttl_ms, expires_at, hit_count, quality_score,
				 size_estimate, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				original_input   = excluded.original_input,
				produced_result  = excluded.produced_result,
				context_snapshot = excluded.context_snapshot,
				created_at       = excluded.created_at,
				ttl_ms           = excluded.ttl_ms,
				expires_at       = excluded.expires_at,
				hit_count        = excluded.hit_count,
				quality_score    = excluded.quality_score,
				size_estimate    = excluded.size_estimate,
				metadata         = excluded.metadata`,
			e.Key, e.OriginalInput, e.ProducedResult, e.ContextSnapshot,
			millis(e.CreatedAt), e.TTL.Milliseconds(), millis(e.ExpiresAt),
			e.HitCount, e.QualityScore, e.SizeEstimate, string(metaRaw))
		return err
	})
}

// Touch increments the persisted hit count so eviction ranking survives a
// restart. Best effort; a lost touch only skews eviction ordering.
func (s *Store) Touch(ctx context.Context, key string) {
	s.run(ctx, "touch", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE result_entries SET hit_count = hit_count + 1 WHERE key = ?`, key)
		return err
	})
}

// DeleteExpired removes every result row expired at now, using the expiry
// index rather than a scan. Returns the number of rows removed.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) int {
	var n int64
	s.run(ctx, "delete_expired", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM result_entries WHERE expires_at < ?`, millis(now))
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return int(n)
}

// DeleteMatching removes every result row whose key or original input
// contains pattern. Returns the number of rows removed.
func (s *Store) DeleteMatching(ctx context.Context, pattern string) int {
	var n int64
	s.run(ctx, "delete_matching", func(ctx context.Context) error {
		like := "%" + escapeLike(pattern) + "%"
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM result_entries
			 WHERE key LIKE ? ESCAPE '\' OR original_input LIKE ? ESCAPE '\'`,
			like, like)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return int(n)
}

// EntryCount returns the number of result rows, expired included.
func (s *Store) EntryCount(ctx context.Context) int {
	var n int
	s.run(ctx, "entry_count", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM result_entries`).Scan(&n)
	})
	return n
}

// TotalSize sums the size estimates of all result rows.
func (s *Store) TotalSize(ctx context.Context) int64 {
	var n int64
	s.run(ctx, "total_size", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(size_estimate), 0) FROM result_entries`).Scan(&n)
	})
	return n
}

// TopCategories returns the most frequent detection categories across all
// stored entries, unnesting the category list in each row's metadata.
func (s *Store) TopCategories(ctx context.Context, limit int) []FieldCount {
	return s.group(ctx, `
		SELECT je.value, COUNT(*) AS n
		FROM result_entries, json_each(json_extract(result_entries.metadata, '$.categories')) AS je
		GROUP BY je.value ORDER BY n DESC LIMIT ?`, limit)
}

// TopByField returns the most frequent values of a groupable field. Only
// fields with a stable representation are allowed; anything else is an
// error so callers cannot inject arbitrary SQL.
func (s *Store) TopByField(ctx context.Context, field string, limit int) ([]FieldCount, error) {
	switch field {
	case "complexity":
		return s.group(ctx, `
			SELECT json_extract(metadata, '$.complexity') AS v, COUNT(*) AS n
			FROM result_entries GROUP BY v ORDER BY n DESC LIMIT ?`, limit), nil
	case "category":
		return s.TopCategories(ctx, limit), nil
	default:
		return nil, fmt.Errorf("store: field %q is not groupable", field)
	}
}

func (s *Store) group(ctx context.Context, query string, limit int) []FieldCount {
	if limit <= 0 {
		limit = 10
	}
	var out []FieldCount
	s.run(ctx, "group", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, query, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var fc FieldCount
			var v sql.NullString
			if err := rows.Scan(&v, &fc.Count); err != nil {
				return err
			}
			fc.Value = v.String
			out = append(out, fc)
		}
		return rows.Err()
	})
	return out
}

// escapeLike escapes LIKE metacharacters so a pattern is matched literally.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
