// Package rtdb mirrors expenses into a Firebase Realtime Database tree
// (expenses/{key}). Records are keyed by the client-generated mirror key,
// and reads filter by user client-side since the tree has no per-user
// partitioning.
package rtdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"

	"cashcompass/internal/mirror"
)

const expensesPath = "expenses"

type Client struct {
	expenses *db.Ref
}

var (
	_ mirror.Writer  = (*Client)(nil)
	_ mirror.Remover = (*Client)(nil)
	_ mirror.Finder  = (*Client)(nil)
)

// NewFromEnv creates an RTDB client from environment variables.
// Required: FIREBASE_DATABASE_URL.
// Optional auth: FIREBASE_CREDENTIALS_JSON or FIREBASE_CREDENTIALS_FILE
// (falls back to application default credentials).
func NewFromEnv(ctx context.Context) (*Client, error) {
	databaseURL := strings.TrimSpace(os.Getenv("FIREBASE_DATABASE_URL"))
	if databaseURL == "" {
		return nil, errors.New("missing FIREBASE_DATABASE_URL")
	}

	var opts []option.ClientOption
	if credJSON := os.Getenv("FIREBASE_CREDENTIALS_JSON"); credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	} else if credFile := os.Getenv("FIREBASE_CREDENTIALS_FILE"); credFile != "" {
		opts = append(opts, option.WithCredentialsFile(credFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: databaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("init realtime database client: %w", err)
	}

	slog.Info("Firebase RTDB mirror initialized", "path", expensesPath)

	return &Client{expenses: client.NewRef(expensesPath)}, nil
}

func (c *Client) Put(ctx context.Context, key string, r mirror.Record) error {
	if err := c.expenses.Child(key).Set(ctx, r); err != nil {
		return fmt.Errorf("put mirror record %s: %w", key, err)
	}
	return nil
}

func (c *Client) Remove(ctx context.Context, key string) error {
	if err := c.expenses.Child(key).Delete(ctx); err != nil {
		return fmt.Errorf("remove mirror record %s: %w", key, err)
	}
	return nil
}

// FindMatching does one indexed query (category or description) and
// filters the rest in memory.
func (c *Client) FindMatching(ctx context.Context, m mirror.Match) ([]mirror.Keyed, error) {
	var q *db.Query
	switch {
	case m.Category != "":
		q = c.expenses.OrderByChild("category").EqualTo(m.Category)
	case m.Description != "":
		q = c.expenses.OrderByChild("description").EqualTo(m.Description)
	default:
		return nil, errors.New("match needs a category or description")
	}

	var snapshot map[string]mirror.Record
	if err := q.Get(ctx, &snapshot); err != nil {
		return nil, fmt.Errorf("query mirror records: %w", err)
	}

	var out []mirror.Keyed
	for key, r := range snapshot {
		if m.Matches(r) {
			out = append(out, mirror.Keyed{Key: key, Record: r})
		}
	}
	return out, nil
}
