package store

import (
	"context"
	"time"
)

// StatPoint is one persisted analytics sample. A periodic series of these
// answers windowed (hour/day/week) hit-rate questions that the in-process
// lifetime counters cannot.
type StatPoint struct {
	TakenAt    time.Time
	Hits       int64
	Misses     int64
	AvgHitMS   float64
	AvgMissMS  float64
	EntryCount int
	TotalSize  int64
}

// AppendSnapshot persists one analytics sample. Best effort.
func (s *Store) AppendSnapshot(ctx context.Context, p StatPoint) {
	s.run(ctx, "append_snapshot", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO stats_snapshots
				(taken_at, hits, misses, avg_hit_ms, avg_miss_ms, entry_count, total_size)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			millis(p.TakenAt), p.Hits, p.Misses, p.AvgHitMS, p.AvgMissMS,
			p.EntryCount, p.TotalSize)
		return err
	})
}

// SnapshotsSince returns the persisted samples taken at or after since, in
// chronological order. An unavailable store yields an empty slice.
func (s *Store) SnapshotsSince(ctx context.Context, since time.Time) []StatPoint {
	var out []StatPoint
	s.run(ctx, "snapshots_since", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT taken_at, hits, misses, avg_hit_ms, avg_miss_ms, entry_count, total_size
			FROM stats_snapshots WHERE taken_at >= ? ORDER BY taken_at`, millis(since))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p StatPoint
			var takenMS int64
			if err := rows.Scan(&takenMS, &p.Hits, &p.Misses, &p.AvgHitMS,
				&p.AvgMissMS, &p.EntryCount, &p.TotalSize); err != nil {
				return err
			}
			p.TakenAt = fromMillis(takenMS)
			out = append(out, p)
		}
		return rows.Err()
	})
	return out
}

// PruneSnapshots drops samples older than keep, bounding the table's growth.
func (s *Store) PruneSnapshots(ctx context.Context, olderThan time.Time) int {
	var n int64
	s.run(ctx, "prune_snapshots", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM stats_snapshots WHERE taken_at < ?`, millis(olderThan))
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return int(n)
}
