package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ArielSulton/tunarasa-sub001/internal/identity"
	"github.com/ArielSulton/tunarasa-sub001/pkg/auth"
	apperrors "github.com/ArielSulton/tunarasa-sub001/pkg/errors"
)

type syncUserRequest struct {
	SubjectID string `json:"subjectId" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	ImageURL  string `json:"imageUrl"`
	IsNewUser bool   `json:"isNewUser"`
}

type syncUserResponse struct {
	Success bool                 `json:"success"`
	Data    *identity.SyncResult `json:"data,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// handleSyncUser applies a client-triggered sync. The session must belong to
// the subject being synced; one user cannot rewrite another's record.
func handleSyncUser(service identity.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := auth.SessionFromContext(r.Context())
		if !ok {
			writeError(w, r, apperrors.CodeUnauthenticated, "missing session")
			return
		}

		var req syncUserRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			writeError(w, r, apperrors.CodeBadRequest, "invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeJSON(w, http.StatusBadRequest, syncUserResponse{Success: false, Error: "subjectId and a valid email are required"})
			return
		}
		if req.SubjectID != session.SubjectID {
			writeError(w, r, apperrors.CodeForbidden, "session subject mismatch")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
		defer cancel()

		result, err := service.SyncUser(ctx, identity.SyncInput{
			ExternalID: req.SubjectID,
			Email:      req.Email,
			FirstName:  req.FirstName,
			LastName:   req.LastName,
			ImageURL:   req.ImageURL,
			IsNewUser:  req.IsNewUser,
		})
		if errors.Is(err, identity.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, syncUserResponse{Success: false, Error: err.Error()})
			return
		}
		if err != nil {
			logRequestError(r.Context(), logger, "failed to sync user", err, req.SubjectID)
			writeJSON(w, http.StatusInternalServerError, syncUserResponse{Success: false, Error: "sync failed"})
			return
		}
		writeJSON(w, http.StatusOK, syncUserResponse{Success: true, Data: result})
	}
}
