package http

import (
	"net/http"
	"strings"
	"time"

	"cashcompass/internal/core"
)

type categoryAmountResponse struct {
	Name      string  `json:"name"`
	Amount    float64 `json:"amount"`
	Formatted string  `json:"formatted"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, username string) {
	expenses, err := s.expenses.ListExpenses(r.Context(), username)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	budget := s.settings.Budget(r.Context(), username)
	minGoal := s.settings.MinGoal(r.Context(), username)
	currency := s.settings.Currency(r.Context(), username)
	overview := core.NewBudgetOverview(expenses, budget)
	badges := core.EvaluateAchievements(expenses, budget)

	writeJSON(w, http.StatusOK, map[string]any{
		"currency":   currency,
		"budget":     overview.Budget.Units(),
		"totalSpent": overview.TotalSpent.Units(),
		"remaining":  overview.Remaining.Units(),
		"minGoal":    minGoal.Units(),
		// A configured minimum goal that spending has not reached yet.
		"belowMinGoal": minGoal.Cents > 0 && overview.TotalSpent.Cents < minGoal.Cents,
		"formatted": map[string]string{
			"budget":     overview.Budget.Format(currency),
			"totalSpent": overview.TotalSpent.Format(currency),
			"remaining":  overview.Remaining.Format(currency),
			"minGoal":    minGoal.Format(currency),
		},
		"achievements": achievementsResponse(badges),
	})
}

func (s *Server) handleCategoryReport(w http.ResponseWriter, r *http.Request, username string) {
	cacheKey := username + ":categories"
	breakdown, ok := s.reportsCache.Get(cacheKey)
	if !ok {
		expenses, err := s.expenses.ListExpenses(r.Context(), username)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		breakdown = core.CategoryBreakdown(expenses, time.Now())
		s.reportsCache.Set(cacheKey, breakdown)
	}

	currency := s.settings.Currency(r.Context(), username)
	out := make([]categoryAmountResponse, 0, len(breakdown))
	for _, ca := range breakdown {
		out = append(out, categoryAmountResponse{
			Name:      ca.Name,
			Amount:    ca.Amount.Units(),
			Formatted: ca.Amount.Format(currency),
		})
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request, username string) {
	expenses, err := s.expenses.ListExpenses(r.Context(), username)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	budget := s.settings.Budget(r.Context(), username)
	writeJSON(w, http.StatusOK, achievementsResponse(core.EvaluateAchievements(expenses, budget)))
}

func achievementsResponse(a core.Achievements) map[string]bool {
	return map[string]bool{
		"firstExpense": a.FirstExpense,
		"savedMoney":   a.SavedMoney,
		"budgetMaster": a.BudgetMaster,
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request, username string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"currency": s.settings.Currency(r.Context(), username),
		"budget":   s.settings.Budget(r.Context(), username).Units(),
		"minGoal":  s.settings.MinGoal(r.Context(), username).Units(),
	})
}

type updateSettingsRequest struct {
	Currency *string `json:"currency"`
	Budget   *string `json:"budget"`
	MinGoal  *string `json:"minGoal"`
}

// handleUpdateSettings applies a partial update; absent fields are left
// untouched.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request, username string) {
	var req updateSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Currency != nil {
		currency := strings.TrimSpace(*req.Currency)
		if currency == "" {
			writeError(w, http.StatusBadRequest, "currency cannot be empty")
			return
		}
		if err := s.settings.SetCurrency(r.Context(), username, currency); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	if req.Budget != nil {
		budget, err := parseSettingAmount(*req.Budget)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if err := s.settings.SetBudget(r.Context(), username, budget); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	if req.MinGoal != nil {
		minGoal, err := parseSettingAmount(*req.MinGoal)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if err := s.settings.SetMinGoal(r.Context(), username, minGoal); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	s.handleGetSettings(w, r, username)
}
