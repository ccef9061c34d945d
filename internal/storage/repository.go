// Package storage is the authoritative local store: users, expenses,
// sessions and the mirror outbox on a single SQLite database.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cashcompass/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// applies migrations.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// A single writer connection keeps same-table operations serialized and
	// avoids SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for components sharing the database,
// such as the settings store.
func (r *SQLiteRepository) DB() *sql.DB {
	return r.db
}

// CreateUser registers a new account. The username is a case-sensitive
// exact-match identity; duplicates return core.ErrAlreadyExists and never
// touch the stored hash of the existing user.
func (r *SQLiteRepository) CreateUser(ctx context.Context, username, passwordHash string) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES (?, ?)
		 ON CONFLICT (username) DO NOTHING`,
		username, passwordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user %q: %w", username, core.ErrAlreadyExists)
	}

	slog.InfoContext(ctx, "User registered", "username", username)
	return nil
}

// GetUserByUsername returns core.ErrNotFound when the user is absent.
func (r *SQLiteRepository) GetUserByUsername(ctx context.Context, username string) (*core.User, error) {
	u := &core.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT username, password_hash FROM users WHERE username = ?`, username).
		Scan(&u.Username, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

// UpdatePassword replaces the stored hash for an existing user.
func (r *SQLiteRepository) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE username = ?`, passwordHash, username)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user %q: %w", username, core.ErrNotFound)
	}
	return nil
}

// InsertExpense appends an expense and returns the assigned id. The id is
// store-local; the mirror key on the expense is the cross-store identity.
func (r *SQLiteRepository) InsertExpense(ctx context.Context, e *core.Expense) (int64, error) {
	id, err := insertExpense(ctx, r.db, e)
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Expense saved",
		"id", id,
		"user", e.UserID,
		"amount_cents", e.Amount.Cents,
		"category", e.Category,
		"date", e.Date)

	return id, nil
}

// InsertExpenseWithMirrorOp inserts the expense and its outbox row in one
// transaction, so a local row can never exist without a queued mirror
// write. buildOp runs after the id is assigned so the remote record can
// carry it; any failure rolls back both writes.
func (r *SQLiteRepository) InsertExpenseWithMirrorOp(
	ctx context.Context,
	e *core.Expense,
	buildOp func(saved core.Expense) (MirrorOp, error),
) (int64, int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id, err := insertExpense(ctx, tx, e)
	if err != nil {
		return 0, 0, err
	}

	op, err := buildOp(*e)
	if err != nil {
		return 0, 0, fmt.Errorf("build mirror op: %w", err)
	}

	queueID, err := enqueueMirrorOp(ctx, tx, op)
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit insert: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved",
		"id", id,
		"user", e.UserID,
		"amount_cents", e.Amount.Cents,
		"category", e.Category,
		"date", e.Date,
		"queue_id", queueID)

	return id, queueID, nil
}

// ListExpensesForUser returns the user's expenses in storage order.
// Ordering and filtering are caller contracts.
func (r *SQLiteRepository) ListExpensesForUser(ctx context.Context, userID string) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, amount_cents, date, category, description, image_uri, mirror_key
		 FROM expenses WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("select expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return out, nil
}

// GetExpense returns a single expense by id, core.ErrNotFound when absent.
func (r *SQLiteRepository) GetExpense(ctx context.Context, id int64) (*core.Expense, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, amount_cents, date, category, description, image_uri, mirror_key
		 FROM expenses WHERE id = ?`, id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// DeleteExpense removes an expense by id and returns the deleted row so
// the caller can enqueue the mirror removal. core.ErrNotFound when absent;
// the table is left unchanged in that case.
func (r *SQLiteRepository) DeleteExpense(ctx context.Context, id int64) (core.Expense, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Expense{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, user_id, amount_cents, date, category, description, image_uri, mirror_key
		 FROM expenses WHERE id = ?`, id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Expense{}, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id); err != nil {
		return core.Expense{}, fmt.Errorf("delete expense: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Expense{}, fmt.Errorf("commit delete: %w", err)
	}

	slog.InfoContext(ctx, "Expense deleted", "id", id, "user", e.UserID)
	return e, nil
}

// DeleteExpenseWithMirrorOp deletes the expense and enqueues its mirror
// removal in one transaction. buildOp sees the row as it was before the
// delete; any failure leaves both tables untouched.
func (r *SQLiteRepository) DeleteExpenseWithMirrorOp(
	ctx context.Context,
	id int64,
	buildOp func(deleted core.Expense) (MirrorOp, error),
) (core.Expense, int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Expense{}, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, user_id, amount_cents, date, category, description, image_uri, mirror_key
		 FROM expenses WHERE id = ?`, id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, 0, fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Expense{}, 0, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id); err != nil {
		return core.Expense{}, 0, fmt.Errorf("delete expense: %w", err)
	}

	op, err := buildOp(e)
	if err != nil {
		return core.Expense{}, 0, fmt.Errorf("build mirror op: %w", err)
	}

	queueID, err := enqueueMirrorOp(ctx, tx, op)
	if err != nil {
		return core.Expense{}, 0, err
	}

	if err := tx.Commit(); err != nil {
		return core.Expense{}, 0, fmt.Errorf("commit delete: %w", err)
	}

	slog.InfoContext(ctx, "Expense deleted", "id", id, "user", e.UserID, "queue_id", queueID)
	return e, queueID, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// dbtx is the subset of *sql.DB and *sql.Tx the write helpers need, so
// single writes and transactional ones share the same statements.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertExpense(ctx context.Context, q dbtx, e *core.Expense) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO expenses (user_id, amount_cents, date, category, description, image_uri, mirror_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Amount.Cents, e.Date, e.Category, e.Description, nullable(e.ImageURI), e.MirrorKey)
	if err != nil {
		return 0, fmt.Errorf("insert expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	return id, nil
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var (
		e        core.Expense
		imageURI sql.NullString
	)
	err := row.Scan(&e.ID, &e.UserID, &e.Amount.Cents, &e.Date, &e.Category,
		&e.Description, &imageURI, &e.MirrorKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Expense{}, err
		}
		return core.Expense{}, fmt.Errorf("scan expense: %w", err)
	}
	e.ImageURI = imageURI.String
	return e, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Sessions back the HTTP layer's bearer tokens.

func (r *SQLiteRepository) CreateSession(ctx context.Context, token, username string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (token, username, expires_at) VALUES (?, ?, ?)`,
		token, username, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSessionUser resolves a token to its username. Expired and unknown
// tokens both return core.ErrNotFound.
func (r *SQLiteRepository) GetSessionUser(ctx context.Context, token string, now time.Time) (string, error) {
	var (
		username  string
		expiresAt time.Time
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT username, expires_at FROM sessions WHERE token = ?`, token).
		Scan(&username, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("session: %w", core.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("select session: %w", err)
	}
	if now.After(expiresAt) {
		_, _ = r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
		return "", fmt.Errorf("session expired: %w", core.ErrNotFound)
	}
	return username, nil
}

func (r *SQLiteRepository) DeleteSession(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
