package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the tasks table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS tasks (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL,
    notes      TEXT NOT NULL DEFAULT '',
    priority   TEXT NOT NULL DEFAULT 'medium',
    completed  BOOLEAN NOT NULL DEFAULT FALSE,
    due_at     TIMESTAMPTZ,
    source     TEXT NOT NULL DEFAULT 'manual',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tasks_completed ON tasks(completed);
CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the tasks
// table and indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("task: migrate: %w", err)
	}
	return nil
}

// Create inserts a new task. An empty ID is replaced with a generated UUID.
// Returns an error if a task with the same ID already exists.
func (s *PostgresStore) Create(ctx context.Context, t *Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	const query = `
		INSERT INTO tasks (id, title, notes, priority, completed, due_at, source)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`

	err := s.db.QueryRow(ctx, query,
		t.ID, t.Title, t.Notes, defaultPriority(t.Priority), t.Completed, t.DueAt, defaultSource(t.Source),
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("task: task with id %q already exists", t.ID)
		}
		return fmt.Errorf("task: create: %w", err)
	}
	return nil
}

// Get retrieves a task by ID. It returns (nil, nil) if no task with the
// given ID exists.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Task, error) {
	const query = `
		SELECT id, title, notes, priority, completed, due_at, source, created_at, updated_at
		FROM tasks
		WHERE id = $1`

	var t Task
	err := s.db.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.Title, &t.Notes, &t.Priority, &t.Completed, &t.DueAt, &t.Source, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("task: get %q: %w", id, err)
	}
	return &t, nil
}

// Update replaces an existing task. It validates the new value and returns
// an error if the task is not found.
func (s *PostgresStore) Update(ctx context.Context, t *Task) error {
	if err := t.Validate(); err != nil {
		return err
	}

	const query = `
		UPDATE tasks SET
			title = $2, notes = $3, priority = $4, completed = $5,
			due_at = $6, source = $7, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := s.db.QueryRow(ctx, query,
		t.ID, t.Title, t.Notes, defaultPriority(t.Priority), t.Completed, t.DueAt, defaultSource(t.Source),
	).Scan(&t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("task: task with id %q not found", t.ID)
		}
		return fmt.Errorf("task: update: %w", err)
	}
	return nil
}

// Complete marks a task as done. Returns an error if the task is not found.
func (s *PostgresStore) Complete(ctx context.Context, id string) error {
	const query = `
		UPDATE tasks SET completed = TRUE, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	var updated any
	err := s.db.QueryRow(ctx, query, id).Scan(&updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("task: task with id %q not found", id)
		}
		return fmt.Errorf("task: complete %q: %w", id, err)
	}
	return nil
}

// Delete removes a task by ID. Deleting a non-existent task is not an error.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM tasks WHERE id = $1`
	_, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("task: delete %q: %w", id, err)
	}
	return nil
}

// List returns tasks matching the filter, ordered by completion state,
// priority, then due date.
func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Task, error) {
	query := `
		SELECT id, title, notes, priority, completed, due_at, source, created_at, updated_at
		FROM tasks
		WHERE 1=1`
	var args []any

	if f.Completed != nil {
		args = append(args, *f.Completed)
		query += fmt.Sprintf(" AND completed = $%d", len(args))
	}
	if f.Priority != "" {
		args = append(args, f.Priority)
		query += fmt.Sprintf(" AND priority = $%d", len(args))
	}
	query += `
		ORDER BY completed,
		         CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END,
		         due_at NULLS LAST,
		         created_at`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("task: list: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(
			&t.ID, &t.Title, &t.Notes, &t.Priority, &t.Completed, &t.DueAt, &t.Source, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("task: list scan: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task: list: %w", err)
	}
	return tasks, nil
}

// defaultPriority returns the priority value, defaulting to "medium" if empty.
func defaultPriority(p Priority) Priority {
	if p == "" {
		return PriorityMedium
	}
	return p
}

// defaultSource returns the source value, defaulting to "manual" if empty.
func defaultSource(src string) string {
	if src == "" {
		return SourceManual
	}
	return src
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
