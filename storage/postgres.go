// Package storage provides the Postgres-backed task and user stores plus a
// Redis read cache for task lists.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"todo-api/account"
	"todo-api/domain"
	"todo-api/todo"
)

// Postgres implements todo.Store and account.Store over a single database.
type Postgres struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(connStr string) (*Postgres, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// EnsureSchema creates the tables and indexes if they do not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			phone_number TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS todos (
			id SERIAL PRIMARY KEY,
			title TEXT NOT NULL,
			is_completed BOOLEAN NOT NULL DEFAULT FALSE,
			user_id TEXT NOT NULL,
			assigned_by TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			"position" INTEGER NOT NULL DEFAULT 0,
			sort_order INTEGER NOT NULL DEFAULT 0,
			due_date TIMESTAMPTZ,
			priority INTEGER,
			category TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_todos_user_id ON todos (user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const taskColumns = `id, title, is_completed, user_id, assigned_by, created_at, "position", sort_order, due_date, priority, category`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var (
		t          domain.Task
		assignedBy sql.NullString
		dueDate    sql.NullTime
		priority   sql.NullInt64
		category   sql.NullString
	)
	err := row.Scan(&t.ID, &t.Title, &t.IsCompleted, &t.UserID, &assignedBy,
		&t.CreatedAt, &t.Position, &t.Order, &dueDate, &priority, &category)
	if err != nil {
		return domain.Task{}, err
	}
	t.AssignedBy = assignedBy.String
	t.Category = category.String
	if dueDate.Valid {
		d := dueDate.Time
		t.DueDate = &d
	}
	if priority.Valid {
		p := int(priority.Int64)
		t.Priority = &p
	}
	return t, nil
}

func (p *Postgres) queryTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (p *Postgres) GetTask(ctx context.Context, id int) (domain.Task, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM todos WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, todo.ErrNotFound
	}
	return t, err
}

func (p *Postgres) GetTaskForOwner(ctx context.Context, id int, ownerID string) (domain.Task, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM todos WHERE id = $1 AND user_id = $2`, id, ownerID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, todo.ErrNotFound
	}
	return t, err
}

// ListByOwner returns the owner's tasks ascending by position; ties keep
// insertion order via the serial id.
func (p *Postgres) ListByOwner(ctx context.Context, ownerID string) ([]domain.Task, error) {
	return p.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM todos WHERE user_id = $1 ORDER BY "position", id`, ownerID)
}

func (p *Postgres) ListForAdmin(ctx context.Context, ownerID string) ([]domain.Task, error) {
	return p.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM todos WHERE user_id = $1 ORDER BY sort_order, id`, ownerID)
}

func (p *Postgres) ListByCompletion(ctx context.Context, ownerID string, completed bool) ([]domain.Task, error) {
	order := `"position", id`
	if completed {
		order = `created_at DESC, id DESC`
	}
	return p.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM todos WHERE user_id = $1 AND is_completed = $2 ORDER BY `+order,
		ownerID, completed)
}

func (p *Postgres) ListDueOn(ctx context.Context, ownerID string, day time.Time) ([]domain.Task, error) {
	return p.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM todos WHERE user_id = $1 AND due_date >= $2 AND due_date < $3 ORDER BY due_date, id`,
		ownerID, day, day.AddDate(0, 0, 1))
}

func (p *Postgres) ListPrioritized(ctx context.Context, ownerID string) ([]domain.Task, error) {
	return p.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM todos WHERE user_id = $1 AND priority IS NOT NULL ORDER BY priority, id`,
		ownerID)
}

func (p *Postgres) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM todos WHERE user_id = $1`, ownerID).Scan(&n)
	return n, err
}

func (p *Postgres) CountByCompletion(ctx context.Context, ownerID string, completed bool) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM todos WHERE user_id = $1 AND is_completed = $2`, ownerID, completed).Scan(&n)
	return n, err
}

func (p *Postgres) InsertTask(ctx context.Context, t *domain.Task) error {
	return p.db.QueryRowContext(ctx,
		`INSERT INTO todos (title, is_completed, user_id, assigned_by, created_at, "position", sort_order, due_date, priority, category)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		t.Title, t.IsCompleted, t.UserID, nullString(t.AssignedBy), t.CreatedAt,
		t.Position, t.Order, nullTime(t.DueDate), nullInt(t.Priority), nullString(t.Category),
	).Scan(&t.ID)
}

func (p *Postgres) UpdateTask(ctx context.Context, t domain.Task) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE todos SET title = $2, is_completed = $3, "position" = $4, due_date = $5, priority = $6, category = $7
		 WHERE id = $1`,
		t.ID, t.Title, t.IsCompleted, t.Position, nullTime(t.DueDate), nullInt(t.Priority), nullString(t.Category))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return todo.ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteTask(ctx context.Context, id int, ownerID string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM todos WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return todo.ErrNotFound
	}
	return nil
}

func (p *Postgres) SetPosition(ctx context.Context, id int, ownerID string, position int) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE todos SET "position" = $3 WHERE id = $1 AND user_id = $2`, id, ownerID, position)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

const userColumns = `id, email, name, phone_number, password_hash, is_admin, created_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PhoneNumber, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	return u, err
}

func (p *Postgres) CreateUser(ctx context.Context, u domain.User) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, phone_number, password_hash, is_admin, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.Name, u.PhoneNumber, u.PasswordHash, u.IsAdmin, u.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return account.ErrEmailTaken
	}
	return err
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, account.ErrNotFound
	}
	return u, err
}

func (p *Postgres) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, account.ErrNotFound
	}
	return u, err
}

func (p *Postgres) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *Postgres) UpdateUser(ctx context.Context, u domain.User) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE users SET name = $2, phone_number = $3, password_hash = $4, is_admin = $5 WHERE id = $1`,
		u.ID, u.Name, u.PhoneNumber, u.PasswordHash, u.IsAdmin)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return account.ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
