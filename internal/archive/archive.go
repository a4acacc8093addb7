// Package archive copies the in-memory occupancy history into SQLite so it
// outlives the bounded ring and process restarts.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/crowdcount/zonecount/internal/analytics"
	"github.com/crowdcount/zonecount/internal/logger"
)

var log = logger.For("Archive")

// Record is one archived history row.
type Record struct {
	RunID string
	analytics.HistoryEntry
}

// Archive appends history entries to a SQLite database. Entries are keyed by
// the process run id and their sequence number, so a re-flush is harmless.
type Archive struct {
	db    *sql.DB
	runID string

	mu      sync.Mutex
	lastSeq uint64
	written uint64
}

// Open creates or opens the database at path and migrates it to the latest
// schema.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	// a single connection keeps ":memory:" databases coherent
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	a := &Archive{db: db, runID: uuid.NewString()}
	log.Info("Archive ready at %s (run %s)", path, a.runID)
	return a, nil
}

// RunID identifies this process in the archive.
func (a *Archive) RunID() string { return a.runID }

// Written returns how many entries this process has archived.
func (a *Archive) Written() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.written
}

// Append stores the entries newer than the last archived sequence number and
// returns how many were written.
func (a *Archive) Append(ctx context.Context, entries []analytics.HistoryEntry) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pending := entries[:0:0]
	for _, e := range entries {
		if e.Seq > a.lastSeq {
			pending = append(pending, e)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO occupancy_history (run_id, seq, recorded_at, total, zones)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare archive insert: %w", err)
	}
	defer stmt.Close()

	last := a.lastSeq
	for _, e := range pending {
		zones, err := json.Marshal(e.Zones)
		if err != nil {
			return 0, fmt.Errorf("encode zones for seq %d: %w", e.Seq, err)
		}
		if _, err := stmt.ExecContext(ctx, a.runID, e.Seq, e.Time.UnixMilli(), e.Total, string(zones)); err != nil {
			return 0, fmt.Errorf("insert seq %d: %w", e.Seq, err)
		}
		last = max(last, e.Seq)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit archive tx: %w", err)
	}

	a.lastSeq = last
	a.written += uint64(len(pending))
	return len(pending), nil
}

// Recent returns up to limit archived records, newest last, across all runs.
func (a *Archive) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT run_id, seq, recorded_at, total, zones FROM (
			SELECT id, run_id, seq, recorded_at, total, zones
			FROM occupancy_history
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r     Record
			ms    int64
			zones string
		)
		if err := rows.Scan(&r.RunID, &r.Seq, &ms, &r.Total, &zones); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		r.Time = time.UnixMilli(ms)
		if err := json.Unmarshal([]byte(zones), &r.Zones); err != nil {
			return nil, fmt.Errorf("decode zones for seq %d: %w", r.Seq, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Source is the history provider the archive polls.
type Source interface {
	History(limit int) []analytics.HistoryEntry
}

// Run flushes src into the archive every interval until ctx is done, then
// performs one last flush. errs, when non-nil, is called for each failed flush.
func (a *Archive) Run(ctx context.Context, src Source, interval time.Duration, errs func(error)) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	flush := func(ctx context.Context) {
		n, err := a.Append(ctx, src.History(0))
		if err != nil {
			log.Warn("Flush failed: %v", err)
			if errs != nil {
				errs(err)
			}
			return
		}
		if n > 0 {
			log.Debug("Archived %d history entries", n)
		}
	}

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(final)
			cancel()
			return
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// Close releases the database.
func (a *Archive) Close() error {
	return a.db.Close()
}
