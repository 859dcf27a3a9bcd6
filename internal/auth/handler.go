package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/eren/reddilite/internal/models"
	"github.com/eren/reddilite/internal/store"
)

// UserStore defines the interface for user persistence.
type UserStore interface {
	CreateUser(ctx context.Context, username, hashedPw string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// Handler holds auth-related HTTP handlers.
type Handler struct {
	users      UserStore
	tokens     *TokenManager
	revoked    RevocationList
	bcryptCost int
}

func NewHandler(users UserStore, tokens *TokenManager, revoked RevocationList, bcryptCost int) *Handler {
	return &Handler{users: users, tokens: tokens, revoked: revoked, bcryptCost: bcryptCost}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

// Register creates a new user.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "username and password are required")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.bcryptCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	user, err := h.users.CreateUser(r.Context(), req.Username, string(hashed))
	if err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			writeError(w, http.StatusBadRequest, "username_taken", "this username is already taken")
			return
		}
		log.Printf("create user error: %v", err)
		writeError(w, http.StatusInternalServerError, "store_error", "database error")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// Login verifies credentials and issues a bearer token. Unknown username
// and wrong password produce the same response so usernames cannot be
// enumerated.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	user, err := h.users.GetUserByUsername(r.Context(), req.Username)
	if err != nil || user == nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	token, err := h.tokens.Issue(user.ID, user.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "token creation failed")
		return
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{
		Token:    token,
		Username: user.Username,
		UserID:   user.ID,
	})
}

// Logout revokes the presented token until its natural expiry.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ident, ok := r.Context().Value("identity").(*Identity)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not_authenticated", "not authenticated")
		return
	}

	if err := h.revoked.Revoke(r.Context(), ident.TokenID, time.Until(ident.ExpiresAt)); err != nil {
		log.Printf("revoke token error: %v", err)
		writeError(w, http.StatusInternalServerError, "store_error", "logout failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Me returns the currently authenticated user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	ident, ok := r.Context().Value("identity").(*Identity)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not_authenticated", "not authenticated")
		return
	}

	user, err := h.users.GetUserByID(r.Context(), ident.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}

	writeJSON(w, http.StatusOK, user)
}
