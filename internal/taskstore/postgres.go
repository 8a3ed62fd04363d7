package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore claims tasks with SELECT ... FOR UPDATE SKIP LOCKED so
// many engine instances pointed at the same database partition the
// pending queue between them without blocking on each other's claims.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against dsn and ensures the
// tasks table exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("taskstore: open postgres: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	priority      TEXT NOT NULL DEFAULT 'medium',
	feature       TEXT NOT NULL DEFAULT '',
	depends_on    JSONB NOT NULL DEFAULT '[]',
	failure_count INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT NOT NULL DEFAULT '',
	metadata      JSONB NOT NULL DEFAULT '{}'
)`)
	if err != nil {
		return fmt.Errorf("taskstore: migrate postgres: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Claim(ctx context.Context, filter Filter) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("taskstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	q := `
SELECT id, title, description, priority, feature, depends_on, failure_count, last_error, metadata
FROM tasks
WHERE status = 'pending'`
	args := []any{}
	n := 1
	if filter.Feature != "" {
		q += fmt.Sprintf(" AND feature = $%d", n)
		args = append(args, filter.Feature)
		n++
	}
	if filter.Priority != "" {
		q += fmt.Sprintf(" AND priority = $%d", n)
		args = append(args, string(filter.Priority))
		n++
	}
	q += " ORDER BY ctid FOR UPDATE SKIP LOCKED"

	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("taskstore: scan pending: %w", err)
	}
	var candidates []*Task
	for rows.Next() {
		t, err := scanTaskPG(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskstore: iterate pending: %w", err)
	}

	if len(candidates) == 0 {
		return nil, tx.Commit()
	}

	completed := map[string]*Task{}
	depRows, err := tx.QueryContext(ctx, `SELECT id FROM tasks WHERE status = 'completed'`)
	if err == nil {
		for depRows.Next() {
			var id string
			if depRows.Scan(&id) == nil {
				completed[id] = &Task{ID: id, Status: StatusCompleted}
			}
		}
		depRows.Close()
	}

	var chosen *Task
	for _, t := range candidates {
		if dependenciesSatisfied(t, completed) {
			chosen = t
			break
		}
	}
	if chosen == nil {
		return nil, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = 'in-progress' WHERE id = $1`, chosen.ID); err != nil {
		return nil, fmt.Errorf("taskstore: claim update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("taskstore: commit claim: %w", err)
	}
	chosen.Status = StatusInProgress
	return chosen, nil
}

func (s *PostgresStore) CountPending(ctx context.Context, filter Filter) (int, error) {
	q := `SELECT COUNT(*) FROM tasks WHERE status = 'pending'`
	args := []any{}
	n := 1
	if filter.Feature != "" {
		q += fmt.Sprintf(" AND feature = $%d", n)
		args = append(args, filter.Feature)
		n++
	}
	if filter.Priority != "" {
		q += fmt.Sprintf(" AND priority = $%d", n)
		args = append(args, string(filter.Priority))
		n++
	}
	var count int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("taskstore: count pending: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id, note string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = 'completed', last_error = '' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("taskstore: mark completed: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = 'failed', failure_count = failure_count + 1, last_error = $1 WHERE id = $2`, msg, id)
	if err != nil {
		return fmt.Errorf("taskstore: mark failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) ResetToPending(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = 'pending' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("taskstore: reset to pending: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkQuarantined(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = 'quarantined', last_error = $1 WHERE id = $2`, reason, id)
	if err != nil {
		return fmt.Errorf("taskstore: mark quarantined: %w", err)
	}
	return nil
}

func (s *PostgresStore) ResetAllInProgress(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = 'pending' WHERE status = 'in-progress'`)
	if err != nil {
		return fmt.Errorf("taskstore: reset all in-progress: %w", err)
	}
	return nil
}

func scanTaskPG(rows rowScanner) (*Task, error) {
	var t Task
	var dependsOnRaw, metadataRaw []byte
	var priority string
	if err := rows.Scan(&t.ID, &t.Title, &t.Description, &priority, &t.Feature, &dependsOnRaw, &t.FailureCount, &t.LastError, &metadataRaw); err != nil {
		return nil, fmt.Errorf("taskstore: scan row: %w", err)
	}
	t.Priority = Priority(priority)
	t.Status = StatusPending
	if len(dependsOnRaw) > 0 {
		if err := json.Unmarshal(dependsOnRaw, &t.DependsOn); err != nil {
			return nil, fmt.Errorf("taskstore: decode depends_on: %w", err)
		}
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &t.Metadata); err != nil {
			return nil, fmt.Errorf("taskstore: decode metadata: %w", err)
		}
	}
	return &t, nil
}
