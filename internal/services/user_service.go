package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"cashcompass/internal/core"
	"cashcompass/internal/storage"
)

// UserService handles registration and credential checks. Passwords are
// stored as bcrypt hashes; lookup misses and bad passwords both surface as
// ErrInvalidCredentials so callers cannot tell which part failed.
type UserService struct {
	storage *storage.SQLiteRepository
}

func NewUserService(storage *storage.SQLiteRepository) *UserService {
	return &UserService{storage: storage}
}

func (s *UserService) Register(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return core.ErrEmptyUsername
	}
	if password == "" {
		return core.ErrEmptyPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.storage.CreateUser(ctx, username, string(hash))
}

func (s *UserService) Authenticate(ctx context.Context, username, password string) (*core.User, error) {
	u, err := s.storage.GetUserByUsername(ctx, username)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, core.ErrInvalidCredentials
	}
	return u, nil
}

// ChangePassword verifies the old password and stores the new one. The
// "new must differ from old" guard belongs to the caller, not here.
func (s *UserService) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if newPassword == "" {
		return core.ErrEmptyPassword
	}

	if _, err := s.Authenticate(ctx, username, oldPassword); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.storage.UpdatePassword(ctx, username, string(hash))
}
