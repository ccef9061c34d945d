package core

import (
	"log/slog"
	"time"
)

// CategoryAmount is an amount aggregated under one category.
type CategoryAmount struct {
	Name   string
	Amount Money
}

// BudgetOverview is the dashboard summary: configured budget, total spent
// and what remains of the budget (never negative).
type BudgetOverview struct {
	Budget     Money
	TotalSpent Money
	Remaining  Money
}

// ReportWindow is how far back CategoryBreakdown reaches.
const ReportWindow = 30 * 24 * time.Hour

// TotalSpent sums the amounts of all expenses.
func TotalSpent(expenses []Expense) Money {
	var total int64
	for _, e := range expenses {
		total += e.Amount.Cents
	}
	return Money{Cents: total}
}

// NewBudgetOverview derives the dashboard numbers from the current data.
func NewBudgetOverview(expenses []Expense, budget Money) BudgetOverview {
	spent := TotalSpent(expenses)
	remaining := budget.Cents - spent.Cents
	if remaining < 0 {
		remaining = 0
	}
	return BudgetOverview{Budget: budget, TotalSpent: spent, Remaining: Money{Cents: remaining}}
}

// CategoryBreakdown groups spend by category over the report window ending
// at now. Rows whose date does not parse are skipped and logged; a bad row
// never aborts the batch. Result order follows the fixed category set.
func CategoryBreakdown(expenses []Expense, now time.Time) []CategoryAmount {
	cutoff := now.Add(-ReportWindow)
	totals := make(map[string]int64, len(Categories))
	for _, e := range expenses {
		d, err := ParseDate(e.Date)
		if err != nil {
			slog.Warn("Skipping expense with unparseable date",
				"id", e.ID, "date", e.Date)
			continue
		}
		if d.Before(cutoff) {
			continue
		}
		totals[e.Category] += e.Amount.Cents
	}

	out := make([]CategoryAmount, 0, len(totals))
	for _, c := range Categories {
		if cents, ok := totals[c]; ok {
			out = append(out, CategoryAmount{Name: c, Amount: Money{Cents: cents}})
		}
	}
	return out
}
