package http

import (
	"log/slog"
	"net/http"
	"time"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.users.Register(r.Context(), req.Username, req.Password); err != nil {
		writeDomainError(w, err)
		return
	}

	// New accounts start with a zero budget and the default currency.
	if err := s.settings.SeedDefaults(r.Context(), req.Username); err != nil {
		slog.ErrorContext(r.Context(), "Failed to seed default settings",
			"username", req.Username, "error", err)
	}

	writeJSON(w, http.StatusCreated, map[string]string{"username": req.Username})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	token, err := newSessionToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	expiresAt := time.Now().Add(sessionTTL)
	if err := s.storage.CreateSession(r.Context(), token, user.Username, expiresAt); err != nil {
		slog.ErrorContext(r.Context(), "Failed to create session",
			"username", user.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"username":  user.Username,
		"expiresAt": expiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, username string) {
	if err := s.storage.DeleteSession(r.Context(), bearerToken(r)); err != nil {
		slog.WarnContext(r.Context(), "Failed to delete session",
			"username", username, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, username string) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.NewPassword == req.OldPassword {
		writeError(w, http.StatusBadRequest, "new password must differ from the old one")
		return
	}

	if err := s.users.ChangePassword(r.Context(), username, req.OldPassword, req.NewPassword); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type forgotPasswordRequest struct {
	Username string `json:"username"`
}

// handleForgotPassword acknowledges the request without revealing whether
// the account exists. No mail is sent; there is no mail channel yet.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	slog.InfoContext(r.Context(), "Password reset requested", "username", req.Username)

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If the account exists, reset instructions have been sent.",
	})
}
