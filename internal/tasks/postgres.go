package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/haasonsaas/taskhub/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	category_id TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	completed   BOOLEAN NOT NULL DEFAULT FALSE,
	position    INTEGER NOT NULL DEFAULT 0,
	reminder_at TIMESTAMPTZ,
	tags        TEXT[] NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks (user_id, position);
CREATE INDEX IF NOT EXISTS idx_tasks_reminder ON tasks (reminder_at) WHERE reminder_at IS NOT NULL AND NOT completed;
`

const taskColumns = "id, user_id, category_id, title, description, completed, position, reminder_at, tags, created_at, updated_at"

// Postgres implements Store on a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgresFromDB wraps an existing handle; used by tests.
func NewPostgresFromDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Close releases the connection pool.
func (s *Postgres) Close() error {
	return s.db.Close()
}

func (s *Postgres) Create(ctx context.Context, userID string, params CreateParams) (*models.Task, error) {
	now := time.Now().UTC()
	task := &models.Task{
		ID:          uuid.NewString(),
		UserID:      userID,
		CategoryID:  params.CategoryID,
		Title:       params.Title,
		Description: params.Description,
		ReminderAt:  params.ReminderAt,
		Tags:        params.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM tasks WHERE user_id = $1`, userID)
	if err := row.Scan(&task.Position); err != nil {
		return nil, wrapDBError(err)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		task.ID, task.UserID, task.CategoryID, task.Title, task.Description,
		task.Completed, task.Position, task.ReminderAt, pq.Array(task.Tags),
		task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return nil, wrapDBError(err)
	}
	return task, nil
}

func (s *Postgres) Get(ctx context.Context, userID, taskID string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2`, taskID, userID)
	return scanTask(row)
}

func (s *Postgres) Update(ctx context.Context, userID, taskID string, params UpdateParams) (*models.Task, error) {
	task, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	applyPatch(task, params)
	task.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks
		 SET category_id = $1, title = $2, description = $3, completed = $4,
		     reminder_at = $5, tags = $6, updated_at = $7
		 WHERE id = $8 AND user_id = $9`,
		task.CategoryID, task.Title, task.Description, task.Completed,
		task.ReminderAt, pq.Array(task.Tags), task.UpdatedAt, taskID, userID)
	if err != nil {
		return nil, wrapDBError(err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return nil, ErrNotFound
	}
	return task, nil
}

func (s *Postgres) Delete(ctx context.Context, userID, taskID string) (*models.Task, error) {
	task, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = $1 AND user_id = $2`, taskID, userID)
	if err != nil {
		return nil, wrapDBError(err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return nil, ErrNotFound
	}
	return task, nil
}

func (s *Postgres) Reorder(ctx context.Context, userID, taskID string, position int) (*models.Task, error) {
	if position < 0 {
		position = 0
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapDBError(err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2 FOR UPDATE`, taskID, userID)
	task, err := scanTask(row)
	if err != nil {
		return nil, err
	}

	// Close the gap at the old position, open one at the new.
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET position = position - 1
		 WHERE user_id = $1 AND position > $2`, userID, task.Position); err != nil {
		return nil, wrapDBError(err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET position = position + 1
		 WHERE user_id = $1 AND position >= $2`, userID, position); err != nil {
		return nil, wrapDBError(err)
	}

	task.Position = position
	task.UpdatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET position = $1, updated_at = $2 WHERE id = $3`,
		task.Position, task.UpdatedAt, task.ID); err != nil {
		return nil, wrapDBError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapDBError(err)
	}
	return task, nil
}

func (s *Postgres) FindDueReminders(ctx context.Context, from, until time.Time) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE NOT completed AND reminder_at IS NOT NULL
		   AND reminder_at >= $1 AND reminder_at <= $2
		 ORDER BY reminder_at`, from, until)
	if err != nil {
		return nil, wrapDBError(err)
	}
	defer rows.Close()

	out := make([]*models.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.Task, error) {
	var task models.Task
	var reminder sql.NullTime
	var tags pq.StringArray
	err := row.Scan(&task.ID, &task.UserID, &task.CategoryID, &task.Title,
		&task.Description, &task.Completed, &task.Position, &reminder, &tags,
		&task.CreatedAt, &task.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapDBError(err)
	}
	if reminder.Valid {
		at := reminder.Time
		task.ReminderAt = &at
	}
	task.Tags = []string(tags)
	return &task, nil
}

func applyPatch(task *models.Task, params UpdateParams) {
	if params.Title != nil {
		task.Title = *params.Title
	}
	if params.Description != nil {
		task.Description = *params.Description
	}
	if params.CategoryID != nil {
		task.CategoryID = *params.CategoryID
	}
	if params.Completed != nil {
		task.Completed = *params.Completed
	}
	if params.ClearReminder {
		task.ReminderAt = nil
	} else if params.ReminderAt != nil {
		task.ReminderAt = params.ReminderAt
	}
	if params.Tags != nil {
		task.Tags = params.Tags
	}
}

// wrapDBError maps transport failures onto ErrUnavailable so the
// bridge can fail closed with a stable code.
func wrapDBError(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
