package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/promptpipe/enhancecache/entry"
)

// GetRaw returns the raw-context row for id. Expired rows and I/O failures
// both report absent. The row's access counters are bumped on a hit.
func (s *Store) GetRaw(ctx context.Context, id string, now time.Time) (*entry.RawContext, bool) {
	var (
		rc         entry.RawContext
		fwRaw      string
		createdMS  int64
		expiresMS  int64
		accessedMS int64
	)
	ok := s.run(ctx, "get_raw", func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, project_signature, frameworks, gathered_facts,
			       gathered_docs, gathered_snippets, created_at, expires_at,
			       access_count, last_accessed
			FROM raw_context WHERE id = ?`, id)
		err := row.Scan(&rc.ID, &rc.ProjectSignature, &fwRaw, &rc.GatheredFacts,
			&rc.GatheredDocs, &rc.GatheredSnippets, &createdMS, &expiresMS,
			&rc.AccessCount, &accessedMS)
		if errors.Is(err, sql.ErrNoRows) {
			rc.ID = ""
			return nil
		}
		return err
	})
	if !ok || rc.ID == "" {
		return nil, false
	}

	rc.CreatedAt = fromMillis(createdMS)
	rc.ExpiresAt = fromMillis(expiresMS)
	rc.LastAccessed = fromMillis(accessedMS)
	if rc.Expired(now) {
		return nil, false
	}
	_ = json.Unmarshal([]byte(fwRaw), &rc.Frameworks)

	rc.AccessCount++
	rc.LastAccessed = now
	s.run(ctx, "touch_raw", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE raw_context SET access_count = access_count + 1, last_accessed = ?
			WHERE id = ?`, millis(now), id)
		return err
	})
	return &rc, true
}

// PutRaw upserts a raw-context row by id. Failures are silently dropped.
func (s *Store) PutRaw(ctx context.Context, rc *entry.RawContext) {
	fwRaw, err := json.Marshal(rc.Frameworks)
	if err != nil {
		fwRaw = []byte("[]")
	}
	s.run(ctx, "put_raw", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO raw_context
				(id, project_signature, frameworks, gathered_facts,
				 gathered_docs, gathered_snippets, created_at, expires_at,
				 access_count, last_accessed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				project_signature = excluded.project_signature,
				frameworks        = excluded.frameworks,
				gathered_facts    = excluded.gathered_facts,
				gathered_docs     = excluded.gathered_docs,
				gathered_snippets = excluded.gathered_snippets,
				created_at        = excluded.created_at,
				expires_at        = excluded.expires_at,
				access_count      = excluded.access_count,
				last_accessed     = excluded.last_accessed`,
			rc.ID, rc.ProjectSignature, string(fwRaw), rc.GatheredFacts,
			rc.GatheredDocs, rc.GatheredSnippets, millis(rc.CreatedAt),
			millis(rc.ExpiresAt), rc.AccessCount, millis(rc.LastAccessed))
		return err
	})
}

// DeleteRawExpired removes every raw-context row expired at now and returns
// the number removed.
func (s *Store) DeleteRawExpired(ctx context.Context, now time.Time) int {
	var n int64
	s.run(ctx, "delete_raw_expired", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM raw_context WHERE expires_at < ?`, millis(now))
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return int(n)
}

// InvalidateSignature removes every raw-context row gathered for the given
// project signature. This is the one caller-triggered invalidation path:
// it runs when the pipeline notices a project's structure changed.
func (s *Store) InvalidateSignature(ctx context.Context, sig string) int {
	var n int64
	s.run(ctx, "invalidate_signature", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM raw_context WHERE project_signature = ?`, sig)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return int(n)
}
