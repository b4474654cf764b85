package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/middleware"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/models"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/repository"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// UserHandler handles account and profile HTTP requests
type UserHandler struct {
	sessions *services.SessionService
	users    *repository.UserRepository
}

// NewUserHandler creates a new user handler
func NewUserHandler(sessions *services.SessionService, users *repository.UserRepository) *UserHandler {
	return &UserHandler{
		sessions: sessions,
		users:    users,
	}
}

// CreateUserRequest represents the sign-up request body
type CreateUserRequest struct {
	EmailAddress      string            `json:"email_address"`
	FirstName         string            `json:"first_name"`
	LastName          string            `json:"last_name"`
	PhoneNumber       string            `json:"phone_number"`
	Bio               string            `json:"bio"`
	BirthDate         string            `json:"birth_date"`
	Factoids          map[string]string `json:"factoids"`
	QuestionsAnswered *bool             `json:"questions_answered"`
}

// AuthResponse carries a session token and its user
type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// CreateUser handles POST /api/v1/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.EmailAddress == "" || req.FirstName == "" {
		respondError(w, "email_address and first_name are required", http.StatusBadRequest)
		return
	}

	params := repository.CreateUserParams{
		EmailAddress:      req.EmailAddress,
		FirstName:         req.FirstName,
		LastName:          req.LastName,
		PhoneNumber:       req.PhoneNumber,
		Factoids:          req.Factoids,
		Data:              models.UserData{Bio: req.Bio},
		QuestionsAnswered: req.QuestionsAnswered,
	}
	if req.BirthDate != "" {
		birth, err := time.Parse(time.DateOnly, req.BirthDate)
		if err != nil {
			respondError(w, "birth_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		params.Data.BirthDate = &birth
	}

	user, token, err := h.sessions.CreateAccount(ctx, params)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create user")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, AuthResponse{Token: token, User: user})
}

// LoginRequest represents the sign-in request body
type LoginRequest struct {
	AccountID    string `json:"account_id"`
	EmailAddress string `json:"email_address"`
}

// Login handles POST /api/v1/sessions
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" || req.EmailAddress == "" {
		respondError(w, "account_id and email_address are required", http.StatusBadRequest)
		return
	}

	token, user, err := h.sessions.Login(r.Context(), req.AccountID, req.EmailAddress)
	if err != nil {
		log.Warn().Err(err).Str("user_id", req.AccountID).Msg("Login failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, AuthResponse{Token: token, User: user})
}

// Logout handles DELETE /api/v1/sessions
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(middleware.GetSession(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// GetUser handles GET /api/v1/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// GetUsers handles GET /api/v1/users?ids=a,b. Any missing user fails the
// whole request.
func (h *UserHandler) GetUsers(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		respondError(w, "ids is required", http.StatusBadRequest)
		return
	}

	users, err := h.users.GetMany(r.Context(), strings.Split(raw, ","))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": users})
}

// PushTokenRequest represents the device token registration body
type PushTokenRequest struct {
	Token string `json:"token"`
}

// RegisterPushToken handles POST /api/v1/push-token
func (h *UserHandler) RegisterPushToken(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())

	var req PushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.users.SetPushToken(r.Context(), session.AccountID, req.Token); err != nil {
		log.Error().Err(err).Str("user_id", session.AccountID).Msg("Failed to store push token")
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
