package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore claims tasks inside a transaction whose UPDATE only
// succeeds while the row is still pending, so two engine processes
// sharing the same file never both win a given task.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the sqlite file at dsn
// and ensures the tasks table exists.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("taskstore: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	priority      TEXT NOT NULL DEFAULT 'medium',
	feature       TEXT NOT NULL DEFAULT '',
	depends_on    TEXT NOT NULL DEFAULT '[]',
	failure_count INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT NOT NULL DEFAULT '',
	metadata      TEXT NOT NULL DEFAULT '{}'
)`)
	if err != nil {
		return fmt.Errorf("taskstore: migrate sqlite: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Claim picks the rowid-lowest pending task whose dependencies are all
// completed, flips it to in-progress, and returns it. The flip is an
// UPDATE guarded by status = 'pending' inside a transaction; a zero
// row count means another caller won, so concurrent callers never
// double-claim.
func (s *SQLiteStore) Claim(ctx context.Context, filter Filter) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("taskstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
SELECT id, title, description, priority, feature, depends_on, failure_count, last_error, metadata
FROM tasks WHERE status = 'pending'
ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("taskstore: scan pending: %w", err)
	}

	var candidate *Task
	all := map[string]*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		all[t.ID] = t
		if candidate == nil && matches(t, filter) {
			candidate = t
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskstore: iterate pending: %w", err)
	}

	// Need dependency status too; re-query completed ids cheaply.
	if candidate != nil && len(candidate.DependsOn) > 0 {
		depRows, err := tx.QueryContext(ctx, `SELECT id, status FROM tasks WHERE id IN (SELECT value FROM json_each(?))`, mustJSON(candidate.DependsOn))
		if err == nil {
			for depRows.Next() {
				var id, status string
				if depRows.Scan(&id, &status) == nil {
					all[id] = &Task{ID: id, Status: Status(status)}
				}
			}
			depRows.Close()
		}
		if !dependenciesSatisfied(candidate, all) {
			candidate = nil
		}
	}

	if candidate == nil {
		return nil, tx.Commit()
	}

	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status = 'in-progress' WHERE id = ? AND status = 'pending'`, candidate.ID)
	if err != nil {
		return nil, fmt.Errorf("taskstore: claim update: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Lost the race to another claimant between select and update.
		return nil, tx.Commit()
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("taskstore: commit claim: %w", err)
	}
	candidate.Status = StatusInProgress
	return candidate, nil
}

func (s *SQLiteStore) CountPending(ctx context.Context, filter Filter) (int, error) {
	q := `SELECT COUNT(*) FROM tasks WHERE status = 'pending'`
	args := []any{}
	if filter.Feature != "" {
		q += ` AND feature = ?`
		args = append(args, filter.Feature)
	}
	if filter.Priority != "" {
		q += ` AND priority = ?`
		args = append(args, string(filter.Priority))
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("taskstore: count pending: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) MarkCompleted(ctx context.Context, id, note string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = 'completed', last_error = '' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("taskstore: mark completed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = 'failed', failure_count = failure_count + 1, last_error = ? WHERE id = ?`, msg, id)
	if err != nil {
		return fmt.Errorf("taskstore: mark failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResetToPending(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = 'pending' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("taskstore: reset to pending: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkQuarantined(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = 'quarantined', last_error = ? WHERE id = ?`, reason, id)
	if err != nil {
		return fmt.Errorf("taskstore: mark quarantined: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResetAllInProgress(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = 'pending' WHERE status = 'in-progress'`)
	if err != nil {
		return fmt.Errorf("taskstore: reset all in-progress: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(rows rowScanner) (*Task, error) {
	var t Task
	var dependsOnRaw, metadataRaw string
	var priority, status string
	status = string(StatusPending)
	if err := rows.Scan(&t.ID, &t.Title, &t.Description, &priority, &t.Feature, &dependsOnRaw, &t.FailureCount, &t.LastError, &metadataRaw); err != nil {
		return nil, fmt.Errorf("taskstore: scan row: %w", err)
	}
	t.Priority = Priority(priority)
	t.Status = Status(status)
	if dependsOnRaw != "" {
		if err := json.Unmarshal([]byte(dependsOnRaw), &t.DependsOn); err != nil {
			return nil, fmt.Errorf("taskstore: decode depends_on: %w", err)
		}
	}
	if metadataRaw != "" {
		if err := json.Unmarshal([]byte(metadataRaw), &t.Metadata); err != nil {
			return nil, fmt.Errorf("taskstore: decode metadata: %w", err)
		}
	}
	return &t, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}
