package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// sortableTime keeps a fixed width so updated_at orders lexically.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

const taskSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	target TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

// SQLiteTaskStore keeps task records in a local SQLite file so the CLI can
// track delegations across invocations.
type SQLiteTaskStore struct {
	db *sql.DB
}

func NewSQLiteTaskStore(path string) (*SQLiteTaskStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open task db: %w", err)
	}
	if _, err := db.Exec(taskSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply task schema: %w", err)
	}
	return &SQLiteTaskStore{db: db}, nil
}

func (s *SQLiteTaskStore) Save(ctx context.Context, rec TaskRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, description, target, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			description = excluded.description,
			target = excluded.target,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		rec.TaskID, rec.Description, rec.Target, string(rec.Status), rec.UpdatedAt.UTC().Format(sortableTime))
	if err != nil {
		return fmt.Errorf("save task %s: %w", rec.TaskID, err)
	}
	return nil
}

func (s *SQLiteTaskStore) Get(ctx context.Context, taskID string) (TaskRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT task_id, description, target, status, updated_at FROM tasks WHERE task_id = ?`, taskID)
	rec, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskRecord{}, false, nil
	}
	if err != nil {
		return TaskRecord{}, false, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return rec, true, nil
}

func (s *SQLiteTaskStore) Delete(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	return nil
}

func (s *SQLiteTaskStore) List(ctx context.Context) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, description, target, status, updated_at FROM tasks ORDER BY updated_at, task_id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteTaskStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (TaskRecord, error) {
	var rec TaskRecord
	var status, updated string
	if err := row.Scan(&rec.TaskID, &rec.Description, &rec.Target, &status, &updated); err != nil {
		return TaskRecord{}, err
	}
	rec.Status = TaskStatus(status)
	ts, err := time.Parse(sortableTime, updated)
	if err != nil {
		return TaskRecord{}, fmt.Errorf("parse updated_at: %w", err)
	}
	rec.UpdatedAt = ts
	return rec, nil
}
