// Package mirror defines the ports for the remote expense mirror. The
// remote store duplicates local data best-effort and is never the source
// of truth; the local store stays authoritative for what the user sees.
package mirror

import (
	"context"

	"cashcompass/internal/core"
)

// Record is the denormalized remote copy of an expense, stored in a flat
// tree keyed by the client-generated mirror key. The remote tree has no
// per-user partitioning, so every read filters by userId client-side.
type Record struct {
	ID          int64   `json:"id"`
	UserID      string  `json:"userId"`
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Date        string  `json:"date"`
	Description string  `json:"description"`
	ImageURI    string  `json:"imageUri,omitempty"`
}

// RecordFromExpense builds the remote copy of a local expense.
func RecordFromExpense(e core.Expense) Record {
	return Record{
		ID:          e.ID,
		UserID:      e.UserID,
		Amount:      e.Amount.Units(),
		Category:    e.Category,
		Date:        e.Date,
		Description: e.Description,
		ImageURI:    e.ImageURI,
	}
}

// Keyed pairs a record with the key it is stored under.
type Keyed struct {
	Key    string
	Record Record
}

// Match locates records by value when no shared key exists (records
// written before mirror keys were introduced). Exactly one of Category or
// Description drives the indexed lookup; the remaining fields are applied
// as an in-memory secondary filter.
type Match struct {
	Category    string
	Description string

	UserID string
	Amount float64
	Date   string
}

// Matches applies the secondary filter to a candidate record.
func (m Match) Matches(r Record) bool {
	if m.UserID != "" && r.UserID != m.UserID {
		return false
	}
	if m.Amount != 0 && r.Amount != m.Amount {
		return false
	}
	if m.Date != "" && r.Date != m.Date {
		return false
	}
	if m.Category != "" && r.Category != m.Category {
		return false
	}
	if m.Description != "" && r.Description != m.Description {
		return false
	}
	return true
}

// Ports for the remote mirror adapters.
type (
	Writer interface {
		// Put upserts a record at key.
		Put(ctx context.Context, key string, r Record) error
	}

	Remover interface {
		// Remove deletes the record at key. Removing an absent key is not
		// an error.
		Remove(ctx context.Context, key string) error
	}

	Finder interface {
		// FindMatching returns a point-in-time snapshot of records
		// matching m.
		FindMatching(ctx context.Context, m Match) ([]Keyed, error)
	}

	// Mirror is the full adapter surface the sync processor needs.
	Mirror interface {
		Writer
		Remover
		Finder
	}
)
