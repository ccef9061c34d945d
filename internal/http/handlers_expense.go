package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"cashcompass/internal/core"
	"cashcompass/internal/export"
)

type createExpenseRequest struct {
	Amount      string `json:"amount"`
	Date        string `json:"date"`
	Category    string `json:"category"`
	Description string `json:"description"`
	ImageURI    string `json:"imageUri"`
}

type expenseResponse struct {
	ID          int64   `json:"id"`
	Amount      float64 `json:"amount"`
	Formatted   string  `json:"formatted"`
	Date        string  `json:"date"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	ImageURI    string  `json:"imageUri,omitempty"`
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request, username string) {
	var req createExpenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	id, err := s.expenses.CreateExpense(r.Context(), core.Expense{
		UserID:      username,
		Amount:      core.Money{Cents: cents},
		Date:        strings.TrimSpace(req.Date),
		Category:    strings.TrimSpace(req.Category),
		Description: strings.TrimSpace(req.Description),
		ImageURI:    strings.TrimSpace(req.ImageURI),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.invalidateReports(username)

	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request, username string) {
	expenses, err := s.expenses.ListExpenses(r.Context(), username)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	date := strings.TrimSpace(r.URL.Query().Get("date"))
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	expenses = core.FilterExpenses(expenses, date, category)
	core.SortMostRecentFirst(expenses)

	currency := s.settings.Currency(r.Context(), username)
	out := make([]expenseResponse, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, expenseResponse{
			ID:          e.ID,
			Amount:      e.Amount.Units(),
			Formatted:   e.Amount.Format(currency),
			Date:        e.Date,
			Category:    e.Category,
			Description: e.Description,
			ImageURI:    e.ImageURI,
		})
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request, username string) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid expense id")
		return
	}

	// Ownership check before the delete touches anything.
	existing, err := s.storage.GetExpense(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if existing.UserID != username {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if err := s.expenses.DeleteExpense(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	s.invalidateReports(username)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatement(w http.ResponseWriter, r *http.Request, username string) {
	expenses, err := s.expenses.ListExpenses(r.Context(), username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	core.SortMostRecentFirst(expenses)

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "statement-"+username+".pdf"))

	if err := export.WriteStatement(w, export.Statement{
		Username: username,
		Currency: s.settings.Currency(r.Context(), username),
		Expenses: expenses,
	}); err != nil {
		// Headers are out already; all we can do is log.
		slog.ErrorContext(r.Context(), "Failed to render statement",
			"username", username, "error", err)
	}
}

func (s *Server) invalidateReports(username string) {
	s.reportsCache.Invalidate(func(key string) bool {
		return strings.HasPrefix(key, username+":")
	})
}
