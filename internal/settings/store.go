// Package settings is the per-device key-value store for currency, budget
// and minimum-spend goal. Keys are namespaced per user; the original
// client wrote some keys per user but read a single global copy, so the
// legacy read path is kept behind an option until product clarifies it.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"cashcompass/internal/core"
)

const (
	KeyCurrency = "currency"
	KeyBudget   = "budget"
	KeyMinGoal  = "min_goal"
)

// DefaultCurrency matches the original client's default prefix.
const DefaultCurrency = "R"

// legacyNamespace is the username under which un-namespaced (global) keys
// are stored.
const legacyNamespace = ""

type Store struct {
	db *sql.DB

	// legacyGlobalReads reproduces the original read path: values are read
	// from the global keys regardless of user. Writes stay namespaced.
	legacyGlobalReads bool
}

type Option func(*Store)

// WithLegacyGlobalReads switches reads to the original's un-namespaced
// global keys.
func WithLegacyGlobalReads() Option {
	return func(s *Store) { s.legacyGlobalReads = true }
}

func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Set(ctx context.Context, username, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (username, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (username, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		username, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// Get returns core.ErrNotFound when the key has never been written.
func (s *Store) Get(ctx context.Context, username, key string) (string, error) {
	ns := username
	if s.legacyGlobalReads {
		ns = legacyNamespace
	}
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE username = ? AND key = ?`, ns, key).
		Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// SeedDefaults writes the registration-time defaults for a new user:
// zero budget and the default currency.
func (s *Store) SeedDefaults(ctx context.Context, username string) error {
	if err := s.Set(ctx, username, KeyBudget, "0"); err != nil {
		return err
	}
	return s.Set(ctx, username, KeyCurrency, DefaultCurrency)
}

func (s *Store) Currency(ctx context.Context, username string) string {
	v, err := s.Get(ctx, username, KeyCurrency)
	if err != nil || v == "" {
		return DefaultCurrency
	}
	return v
}

func (s *Store) SetCurrency(ctx context.Context, username, currency string) error {
	return s.Set(ctx, username, KeyCurrency, currency)
}

// Budget returns the configured budget, zero when unset.
func (s *Store) Budget(ctx context.Context, username string) core.Money {
	return s.money(ctx, username, KeyBudget)
}

func (s *Store) SetBudget(ctx context.Context, username string, m core.Money) error {
	return s.Set(ctx, username, KeyBudget, strconv.FormatInt(m.Cents, 10))
}

// MinGoal returns the minimum-spend goal, zero when unset.
func (s *Store) MinGoal(ctx context.Context, username string) core.Money {
	return s.money(ctx, username, KeyMinGoal)
}

func (s *Store) SetMinGoal(ctx context.Context, username string, m core.Money) error {
	return s.Set(ctx, username, KeyMinGoal, strconv.FormatInt(m.Cents, 10))
}

func (s *Store) money(ctx context.Context, username, key string) core.Money {
	v, err := s.Get(ctx, username, key)
	if err != nil {
		return core.Money{}
	}
	cents, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return core.Money{}
	}
	return core.Money{Cents: cents}
}
