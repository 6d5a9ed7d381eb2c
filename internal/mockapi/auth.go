package mockapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bmr-systems/bmr-admin/internal/logging"
)

type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	email := req.Email
	if email == "" {
		email = req.Username
	}
	if strings.TrimSpace(email) == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "Email and password are required",
			"error":   map[string][]string{"email": {"This field is required."}},
		})
		return
	}

	acc, err := s.store.authenticate(email, req.Password)
	if err != nil {
		s.logger.InfoContext(r.Context(), "mock login rejected", "email", email)
		fail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	access, refresh, _, err := s.tokens.pair(acc.ID)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to issue tokens", logging.Error(err))
		fail(w, http.StatusInternalServerError, "Token generation failed")
		return
	}

	ok(w, http.StatusOK, map[string]any{
		"user":   acc,
		"tokens": map[string]string{"access": access, "refresh": refresh},
	}, "Login successful")
}

// refresh rotates the refresh token and blacklists the one presented.
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Refresh == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"refresh": {"This field is required."}})
		return
	}

	claims, err := s.tokens.validate(req.Refresh, typeRefresh)
	if err != nil || s.store.revoked(claims.ID) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "Token is invalid or expired",
			"code":   "token_not_valid",
		})
		return
	}
	if _, found := s.store.account(claims.UserID); !found {
		detail(w, http.StatusUnauthorized, "User not found")
		return
	}

	access, refresh, _, err := s.tokens.pair(claims.UserID)
	if err != nil {
		fail(w, http.StatusInternalServerError, "Token generation failed")
		return
	}
	s.store.revoke(claims.ID)
	writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Refresh == "" {
		fail(w, http.StatusBadRequest, "Refresh token is required")
		return
	}
	claims, err := s.tokens.validate(req.Refresh, typeRefresh)
	if err != nil {
		fail(w, http.StatusBadRequest, "Invalid token")
		return
	}
	s.store.revoke(claims.ID)
	ok(w, http.StatusOK, nil, "Logout successful")
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	ok(w, http.StatusOK, accountFrom(r.Context()), "")
}
