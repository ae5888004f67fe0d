package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
	"github.com/tjfontaine/offside-zero/internal/core/ports"
)

// Store is a SQLite implementation of ports.TaskStore.
type Store struct {
	db *sqlx.DB
}

var _ ports.TaskStore = (*Store)(nil)

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection serialises writers and keeps :memory: databases alive
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			clip TEXT NOT NULL,
			submitted_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			result TEXT,
			error TEXT,
			seq INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_seq ON tasks(seq)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// taskRow is the persisted form of a task. seq preserves submission order
// when timestamps collide.
type taskRow struct {
	ID          string         `db:"id"`
	Status      string         `db:"status"`
	Clip        string         `db:"clip"`
	SubmittedAt time.Time      `db:"submitted_at"`
	StartedAt   sql.NullTime   `db:"started_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
	Result      sql.NullString `db:"result"`
	Error       sql.NullString `db:"error"`
	Seq         int64          `db:"seq"`
}

const selectColumns = `id, status, clip, submitted_at, started_at, completed_at, result, error, seq`

func (r *taskRow) toTask() (*domain.Task, error) {
	task := &domain.Task{
		ID:          r.ID,
		Status:      domain.TaskStatus(r.Status),
		Clip:        r.Clip,
		SubmittedAt: r.SubmittedAt.UTC(),
		Error:       r.Error.String,
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time.UTC()
		task.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time.UTC()
		task.CompletedAt = &t
	}
	if r.Result.Valid && r.Result.String != "" {
		var verdict domain.ClipVerdict
		if err := json.Unmarshal([]byte(r.Result.String), &verdict); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result of task %s: %w", r.ID, err)
		}
		task.Result = &verdict
	}
	return task, nil
}

func (s *Store) CreateTask(ctx context.Context, task *domain.Task) error {
	if task.Status != domain.TaskPending {
		return fmt.Errorf("task %s must be created %s, got %s", task.ID, domain.TaskPending, task.Status)
	}

	query := `INSERT INTO tasks (id, status, clip, submitted_at, seq)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM tasks))`
	if _, err := s.db.ExecContext(ctx, query, task.ID, string(task.Status), task.Clip, task.SubmittedAt.UTC()); err != nil {
		return fmt.Errorf("failed to create task %s: %w", task.ID, err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `SELECT `+selectColumns+` FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrTaskNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return row.toTask()
}

func (s *Store) ListTasks(ctx context.Context, opts ports.TaskListOptions) ([]*domain.Task, error) {
	query := `SELECT ` + selectColumns + ` FROM tasks`
	var args []any
	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY seq DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	tasks := make([]*domain.Task, 0, len(rows))
	for i := range rows {
		task, err := rows[i].toTask()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (s *Store) TransitionTask(ctx context.Context, id string, update domain.TaskUpdate) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row taskRow
	err = tx.GetContext(ctx, &row, `SELECT `+selectColumns+` FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("task %s: %w", id, domain.ErrTaskNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get task %s: %w", id, err)
	}

	task, err := row.toTask()
	if err != nil {
		return err
	}
	from := task.Status
	if err := task.Apply(update); err != nil {
		return fmt.Errorf("task %s %s -> %s: %w", id, from, update.Status, err)
	}

	var result sql.NullString
	if task.Result != nil {
		data, err := json.Marshal(task.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		result = sql.NullString{String: string(data), Valid: true}
	}

	query := `UPDATE tasks SET status = ?, started_at = ?, completed_at = ?, result = ?, error = ? WHERE id = ?`
	_, err = tx.ExecContext(ctx, query,
		string(task.Status),
		nullTime(task.StartedAt),
		nullTime(task.CompletedAt),
		result,
		sql.NullString{String: task.Error, Valid: task.Error != ""},
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", id, err)
	}

	return tx.Commit()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
