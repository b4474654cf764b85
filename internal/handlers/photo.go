package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/middleware"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/services"

	"github.com/rs/zerolog/log"
)

// PhotoHandler handles profile image HTTP requests
type PhotoHandler struct {
	photoService *services.PhotoService
}

// NewPhotoHandler creates a new photo handler
func NewPhotoHandler(photoService *services.PhotoService) *PhotoHandler {
	return &PhotoHandler{
		photoService: photoService,
	}
}

// UploadPhoto handles POST /api/v1/photos/upload
func (h *PhotoHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())

	var req services.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ContentType == "" {
		req.ContentType = "image/jpeg"
	}

	response, err := h.photoService.PresignProfileImage(r.Context(), session, req.ContentType)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", session.AccountID).
			Str("content_type", req.ContentType).
			Msg("Failed to generate pre-signed URL")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, response)
}
