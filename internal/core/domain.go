package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	CategoryGroceries     = "Groceries"
	CategoryTransport     = "Transport"
	CategoryEntertainment = "Entertainment"
	CategoryUtilities     = "Utilities"
	CategoryOther         = "Other"
)

// Categories is the closed set of expense categories, in display order.
var Categories = []string{
	CategoryGroceries,
	CategoryTransport,
	CategoryEntertainment,
	CategoryUtilities,
	CategoryOther,
}

// DateLayout is the textual expense date format carried end to end.
const DateLayout = "02/01/2006"

type (
	// User is an account holder. The username doubles as the login handle
	// and as the owner key on expenses.
	User struct {
		Username     string
		PasswordHash string
	}

	// Expense is a single recorded expense. Date stays textual (DD/MM/YYYY);
	// callers parse on demand for ordering and range filtering.
	Expense struct {
		ID          int64
		UserID      string
		Amount      Money
		Date        string
		Category    string
		Description string
		ImageURI    string
		// MirrorKey is the client-generated key the remote mirror record is
		// stored under. Assigned before either write so delete can join by
		// key instead of matching field values.
		MirrorKey string
	}
)

var (
	ErrAlreadyExists      = errors.New("already exists")
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidDate        = errors.New("invalid date")
	ErrInvalidCategory    = errors.New("invalid category")
	ErrEmptyUsername      = errors.New("empty username")
	ErrEmptyPassword      = errors.New("empty password")
	ErrUnparseableDate    = errors.New("unparseable date")
)

// ParseDate parses the textual DD/MM/YYYY form.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableDate, s)
	}
	return t, nil
}

// FormatDate renders t in the textual DD/MM/YYYY form.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func ValidCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

func (e Expense) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return ErrEmptyUsername
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if _, err := ParseDate(e.Date); err != nil {
		return ErrInvalidDate
	}
	if !ValidCategory(e.Category) {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, e.Category)
	}
	if len(e.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return nil
}

// SortMostRecentFirst orders expenses by parsed date, newest first.
// Rows with unparseable dates sink to the end; ties keep insertion order.
func SortMostRecentFirst(expenses []Expense) {
	sort.SliceStable(expenses, func(i, j int) bool {
		ti, erri := ParseDate(expenses[i].Date)
		tj, errj := ParseDate(expenses[j].Date)
		if erri != nil {
			return false
		}
		if errj != nil {
			return true
		}
		return ti.After(tj)
	})
}

// FilterExpenses applies the expense-list filters: exact date string
// equality when date is non-blank, category equality unless category is
// "All" or blank.
func FilterExpenses(expenses []Expense, date, category string) []Expense {
	out := make([]Expense, 0, len(expenses))
	for _, e := range expenses {
		if date != "" && e.Date != date {
			continue
		}
		if category != "" && category != "All" && e.Category != category {
			continue
		}
		out = append(out, e)
	}
	return out
}
