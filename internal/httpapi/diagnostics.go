package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ArielSulton/tunarasa-sub001/internal/accessgate"
	"github.com/ArielSulton/tunarasa-sub001/internal/diagnostics"
	"github.com/ArielSulton/tunarasa-sub001/internal/provider"
	apperrors "github.com/ArielSulton/tunarasa-sub001/pkg/errors"
)

func handleDiagnosticsSnapshot(service diagnostics.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subjectID := chi.URLParam(r, "subjectID")

		ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
		defer cancel()

		snap, err := service.Snapshot(ctx, subjectID)
		if err != nil {
			logRequestError(r.Context(), logger, "failed to build diagnostics snapshot", err, subjectID)
			writeError(w, r, apperrors.CodeInternal, "failed to build diagnostics snapshot")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

type repairRequest struct {
	Action string `json:"action" validate:"required"`
	Force  bool   `json:"force"`
}

func handleDiagnosticsRepair(service diagnostics.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subjectID := chi.URLParam(r, "subjectID")

		var req repairRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			writeError(w, r, apperrors.CodeBadRequest, "invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, r, apperrors.CodeBadRequest, "action is required")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
		defer cancel()

		result, err := service.Repair(ctx, subjectID, req.Action, req.Force)
		switch {
		case errors.Is(err, diagnostics.ErrUnknownAction):
			writeError(w, r, apperrors.CodeBadRequest, err.Error())
		case errors.Is(err, diagnostics.ErrNeedsSync):
			writeError(w, r, apperrors.CodeNeedsSync, "subject has not synced locally yet")
		case errors.Is(err, provider.ErrUserNotFound):
			writeError(w, r, apperrors.CodeNotFound, "subject unknown to provider")
		case err != nil:
			logRequestError(r.Context(), logger, "repair action failed", err, subjectID)
			writeError(w, r, apperrors.CodeInternal, "repair action failed")
		default:
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
		}
	}
}

// handleDashboardMe reports what the gate resolved for the caller. The
// response is computed entirely from the request context, so hitting it
// repeatedly exercises the cookie cache rather than the store.
func handleDashboardMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resolution, ok := accessgate.ResolutionFromContext(r.Context())
		if !ok {
			writeError(w, r, apperrors.CodeUnauthenticated, "missing session")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"subjectId": resolution.Session.SubjectID,
			"email":     resolution.Session.Email,
			"roleId":    resolution.RoleID,
			"state":     resolution.State,
		})
	}
}
