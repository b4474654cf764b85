package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/repository"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/services"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// statusFor maps a service or repository error onto an HTTP status.
func statusFor(err error) int {
	var deserialize *repository.DeserializeError
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, services.ErrMessageNotInThread):
		return http.StatusNotFound
	case errors.As(err, &deserialize):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotMatched):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidSwipe),
		errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrOwnMessage),
		errors.Is(err, services.ErrUnsupportedContentType),
		errors.Is(err, services.ErrInvalidInitialMessage),
		errors.Is(err, repository.ErrInvalidParticipants):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError writes err with the status it maps to. Server errors
// do not leak their details.
func respondServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		respondError(w, "Internal server error", status)
		return
	}
	respondError(w, err.Error(), status)
}
