package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cashcompass/internal/core"
	"cashcompass/internal/services"
	"cashcompass/internal/settings"
	"cashcompass/internal/storage"
)

func nowDDMMYYYY() string {
	return core.FormatDate(time.Now())
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	srv := NewServer(
		":0",
		services.NewUserService(repo),
		services.NewExpenseService(repo, nil),
		settings.NewStore(repo.DB()),
		repo,
	)
	t.Cleanup(func() { srv.reportsCache.StopJanitor() })

	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func registerAndLogin(t *testing.T, srv *Server, username, password string) string {
	t.Helper()

	rec := doJSON(t, srv, http.MethodPost, "/api/register", "",
		map[string]string{"username": username, "password": password})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, srv, http.MethodPost, "/api/login", "",
		map[string]string{"username": username, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func createExpense(t *testing.T, srv *Server, token, amount, date, category, desc string) int64 {
	t.Helper()

	rec := doJSON(t, srv, http.MethodPost, "/api/expenses", token, map[string]string{
		"amount":      amount,
		"date":        date,
		"category":    category,
		"description": desc,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ID
}

func TestAuthFlow(t *testing.T) {
	srv := newTestServer(t)

	token := registerAndLogin(t, srv, "alice", "s3cret")

	// Duplicate registration conflicts.
	rec := doJSON(t, srv, http.MethodPost, "/api/register", "",
		map[string]string{"username": "alice", "password": "other"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Bad credentials are rejected.
	rec = doJSON(t, srv, http.MethodPost, "/api/login", "",
		map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Logout kills the session.
	rec = doJSON(t, srv, http.MethodPost, "/api/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, srv, http.MethodGet, "/api/expenses", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/expenses", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/expenses", "bogus-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExpenseLifecycle(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "s3cret")

	id := createExpense(t, srv, token, "45.50", "15/03/2026", "Groceries", "weekly shop")
	createExpense(t, srv, token, "12,00", "16/03/2026", "Transport", "bus pass")

	// Newest first, comma amount parsed.
	rec := doJSON(t, srv, http.MethodGet, "/api/expenses", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []expenseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "16/03/2026", list[0].Date)
	assert.InDelta(t, 12.0, list[0].Amount, 0.0001)
	assert.Equal(t, "R45.50", list[1].Formatted)

	// Category filter.
	rec = doJSON(t, srv, http.MethodGet, "/api/expenses?category=Transport", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Transport", list[0].Category)

	// "All" matches everything.
	rec = doJSON(t, srv, http.MethodGet, "/api/expenses?category=All", token, nil)
	list = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	// Delete then 404 on repeat.
	rec = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/expenses/%d", id), token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/expenses/%d", id), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExpenseValidation(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "s3cret")

	cases := []map[string]string{
		{"amount": "0", "date": "15/03/2026", "category": "Groceries"},
		{"amount": "-5", "date": "15/03/2026", "category": "Groceries"},
		{"amount": "10", "date": "2026-03-15", "category": "Groceries"},
		{"amount": "10", "date": "15/03/2026", "category": "Unknown"},
	}
	for _, body := range cases {
		rec := doJSON(t, srv, http.MethodPost, "/api/expenses", token, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %v", body)
	}
}

func TestDeleteExpense_OtherUsersRowHidden(t *testing.T) {
	srv := newTestServer(t)
	aliceToken := registerAndLogin(t, srv, "alice", "pw-a")
	bobToken := registerAndLogin(t, srv, "bob", "pw-b")

	id := createExpense(t, srv, aliceToken, "10", "15/03/2026", "Groceries", "mine")

	rec := doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/expenses/%d", id), bobToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Alice still sees it.
	rec = doJSON(t, srv, http.MethodGet, "/api/expenses", aliceToken, nil)
	var list []expenseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestDashboardAndAchievements(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "s3cret")

	// Fresh account: zero budget, no badges beyond none.
	rec := doJSON(t, srv, http.MethodGet, "/api/dashboard", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var dash struct {
		Currency     string          `json:"currency"`
		Budget       float64         `json:"budget"`
		TotalSpent   float64         `json:"totalSpent"`
		Remaining    float64         `json:"remaining"`
		Achievements map[string]bool `json:"achievements"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dash))
	assert.Equal(t, "R", dash.Currency)
	assert.Zero(t, dash.Budget)
	assert.False(t, dash.Achievements["firstExpense"])
	assert.False(t, dash.Achievements["budgetMaster"])

	// Set a budget and log spend under 80% of it.
	rec = doJSON(t, srv, http.MethodPut, "/api/settings", token,
		map[string]string{"budget": "100"})
	require.Equal(t, http.StatusOK, rec.Code)

	createExpense(t, srv, token, "50", "15/03/2026", "Groceries", "half the budget")

	rec = doJSON(t, srv, http.MethodGet, "/api/achievements", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var badges map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &badges))
	assert.True(t, badges["firstExpense"])
	assert.True(t, badges["savedMoney"])
	assert.True(t, badges["budgetMaster"])

	rec = doJSON(t, srv, http.MethodGet, "/api/dashboard", token, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dash))
	assert.InDelta(t, 100.0, dash.Budget, 0.0001)
	assert.InDelta(t, 50.0, dash.TotalSpent, 0.0001)
	assert.InDelta(t, 50.0, dash.Remaining, 0.0001)
}

func TestDashboardMinGoal(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "s3cret")

	rec := doJSON(t, srv, http.MethodPut, "/api/settings", token,
		map[string]string{"budget": "1000", "minGoal": "250"})
	require.Equal(t, http.StatusOK, rec.Code)

	var dash struct {
		MinGoal      float64           `json:"minGoal"`
		BelowMinGoal bool              `json:"belowMinGoal"`
		Formatted    map[string]string `json:"formatted"`
	}

	// No spending yet: the goal shows up and is flagged as unmet.
	rec = doJSON(t, srv, http.MethodGet, "/api/dashboard", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dash))
	assert.InDelta(t, 250.0, dash.MinGoal, 0.0001)
	assert.True(t, dash.BelowMinGoal)
	assert.Contains(t, dash.Formatted, "minGoal")

	// Spending past the goal clears the flag.
	createExpense(t, srv, token, "300", "15/03/2026", "Groceries", "stock up")
	rec = doJSON(t, srv, http.MethodGet, "/api/dashboard", token, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dash))
	assert.False(t, dash.BelowMinGoal)

	// With no goal configured the flag stays off.
	token2 := registerAndLogin(t, srv, "bob", "s3cret")
	rec = doJSON(t, srv, http.MethodGet, "/api/dashboard", token2, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dash))
	assert.Zero(t, dash.MinGoal)
	assert.False(t, dash.BelowMinGoal)
}

func TestSettings(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "s3cret")

	// Defaults seeded at registration.
	rec := doJSON(t, srv, http.MethodGet, "/api/settings", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Currency string  `json:"currency"`
		Budget   float64 `json:"budget"`
		MinGoal  float64 `json:"minGoal"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "R", got.Currency)
	assert.Zero(t, got.Budget)

	// Partial update leaves other keys alone.
	rec = doJSON(t, srv, http.MethodPut, "/api/settings", token,
		map[string]string{"currency": "EUR"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "EUR", got.Currency)
	assert.Zero(t, got.Budget)

	// Invalid budget rejected.
	rec = doJSON(t, srv, http.MethodPut, "/api/settings", token,
		map[string]string{"budget": "abc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCategoryReportCacheInvalidation(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "s3cret")

	rec := doJSON(t, srv, http.MethodGet, "/api/reports/categories", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report []categoryAmountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Empty(t, report)

	// A write must not be masked by the cached empty report. Use today so
	// the expense falls inside the report window.
	today := nowDDMMYYYY()
	createExpense(t, srv, token, "25", today, "Groceries", "fresh")

	rec = doJSON(t, srv, http.MethodGet, "/api/reports/categories", token, nil)
	report = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report, 1)
	assert.Equal(t, "Groceries", report[0].Name)
	assert.InDelta(t, 25.0, report[0].Amount, 0.0001)
}

func TestStatementDownload(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "s3cret")
	createExpense(t, srv, token, "45.50", "15/03/2026", "Groceries", "weekly shop")

	rec := doJSON(t, srv, http.MethodGet, "/api/statement", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))
}

func TestChangePassword(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "old-pw")

	// Same password rejected up front.
	rec := doJSON(t, srv, http.MethodPost, "/api/password", token,
		map[string]string{"oldPassword": "old-pw", "newPassword": "old-pw"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/password", token,
		map[string]string{"oldPassword": "old-pw", "newPassword": "new-pw"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/login", "",
		map[string]string{"username": "alice", "password": "new-pw"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestForgotPasswordDoesNotLeakAccounts(t *testing.T) {
	srv := newTestServer(t)
	registerAndLogin(t, srv, "alice", "s3cret")

	recKnown := doJSON(t, srv, http.MethodPost, "/api/password/forgot", "",
		map[string]string{"username": "alice"})
	recUnknown := doJSON(t, srv, http.MethodPost, "/api/password/forgot", "",
		map[string]string{"username": "ghost"})

	assert.Equal(t, http.StatusOK, recKnown.Code)
	assert.Equal(t, recKnown.Body.String(), recUnknown.Body.String())
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
