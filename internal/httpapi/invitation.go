package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ArielSulton/tunarasa-sub001/internal/accessgate"
	"github.com/ArielSulton/tunarasa-sub001/internal/db/models"
	"github.com/ArielSulton/tunarasa-sub001/internal/identity"
	"github.com/ArielSulton/tunarasa-sub001/internal/invitation"
	"github.com/ArielSulton/tunarasa-sub001/pkg/auth"
	apperrors "github.com/ArielSulton/tunarasa-sub001/pkg/errors"
)

// invitationView is the public shape of an invitation; the token never leaves
// through list or validate responses except as the path segment the caller
// already holds.
type invitationView struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	RoleID        int       `json:"roleId"`
	InvitedBy     string    `json:"invitedBy"`
	CustomMessage string    `json:"customMessage,omitempty"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expiresAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toInvitationView(inv *models.Invitation, now time.Time) invitationView {
	return invitationView{
		ID:            inv.ID,
		Email:         inv.Email,
		RoleID:        inv.RoleID,
		InvitedBy:     inv.InvitedByExternalID,
		CustomMessage: inv.CustomMessage,
		Status:        string(inv.EffectiveStatus(now)),
		ExpiresAt:     inv.ExpiresAt,
		CreatedAt:     inv.CreatedAt,
	}
}

func handleValidateInvitation(service invitation.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")

		ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
		defer cancel()

		snap, err := service.Validate(ctx, token)
		if errors.Is(err, invitation.ErrInvalidToken) {
			writeError(w, r, apperrors.CodeInvalidToken, "invitation not found")
			return
		}
		if err != nil {
			logRequestError(r.Context(), logger, "failed to validate invitation", err, "")
			writeError(w, r, apperrors.CodeInternal, "failed to validate invitation")
			return
		}

		now := time.Now().UTC()
		writeJSON(w, http.StatusOK, map[string]any{
			"invitation":           toInvitationView(snap.Invitation, now),
			"isExpired":            snap.IsExpired,
			"isAlreadyAccepted":    snap.IsAlreadyAccepted,
			"isCancelled":          snap.IsCancelled,
			"timeRemainingSeconds": int64(snap.TimeRemaining / time.Second),
		})
	}
}

// handleAcceptInvitation ties the token capability to the caller's fresh
// session: the invited role lands on whoever holds both.
func handleAcceptInvitation(invitations invitation.Service, identities identity.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := auth.SessionFromContext(r.Context())
		if !ok {
			writeError(w, r, apperrors.CodeUnauthenticated, "missing session")
			return
		}
		token := chi.URLParam(r, "token")

		var body struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
			ImageURL  string `json:"imageUrl"`
		}
		if r.ContentLength > 0 {
			if err := decodeJSONBody(w, r, &body); err != nil {
				writeError(w, r, apperrors.CodeBadRequest, "invalid request body")
				return
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
		defer cancel()

		inv, err := invitations.ResolveForAcceptance(ctx, token)
		if err != nil {
			writeInvitationError(w, r, logger, err)
			return
		}

		// Acceptance marks the invitation accepted and grants its role in one
		// transaction, whether the identity record exists yet or not.
		result, err := identities.AcceptInvitation(ctx, identity.SyncInput{
			ExternalID: session.SubjectID,
			FirstName:  body.FirstName,
			LastName:   body.LastName,
			ImageURL:   body.ImageURL,
			IsNewUser:  true,
		}, inv)
		if err != nil {
			writeInvitationError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    result,
		})
	}
}

type createInvitationRequest struct {
	Email         string `json:"email" validate:"required,email"`
	RoleID        int    `json:"roleId" validate:"required"`
	CustomMessage string `json:"customMessage"`
}

func handleCreateInvitation(service invitation.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resolution, ok := accessgate.ResolutionFromContext(r.Context())
		if !ok {
			writeError(w, r, apperrors.CodeUnauthenticated, "missing session")
			return
		}

		var req createInvitationRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			writeError(w, r, apperrors.CodeBadRequest, "invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, r, apperrors.CodeBadRequest, "a valid email and roleId are required")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
		defer cancel()

		inv, err := service.Create(ctx, invitation.CreateInput{
			Email:               req.Email,
			RoleID:              req.RoleID,
			InvitedByExternalID: resolution.Session.SubjectID,
			CustomMessage:       req.CustomMessage,
		})
		if errors.Is(err, invitation.ErrInvalidInput) {
			writeError(w, r, apperrors.CodeBadRequest, err.Error())
			return
		}
		if err != nil {
			logRequestError(r.Context(), logger, "failed to create invitation", err, resolution.Session.SubjectID)
			writeError(w, r, apperrors.CodeInternal, "failed to create invitation")
			return
		}

		// Creation is the one response that includes the token; the caller
		// delivers it to the invitee out of band.
		writeJSON(w, http.StatusCreated, map[string]any{
			"invitation": toInvitationView(inv, time.Now().UTC()),
			"token":      inv.Token,
		})
	}
}

func handleListInvitations(service invitation.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
		defer cancel()

		invs, err := service.List(ctx)
		if err != nil {
			logRequestError(r.Context(), logger, "failed to list invitations", err, "")
			writeError(w, r, apperrors.CodeInternal, "failed to list invitations")
			return
		}

		now := time.Now().UTC()
		views := make([]invitationView, 0, len(invs))
		for i := range invs {
			views = append(views, toInvitationView(&invs[i], now))
		}
		writeJSON(w, http.StatusOK, map[string]any{"invitations": views})
	}
}

func handleCancelInvitation(service invitation.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
		defer cancel()

		if err := service.Cancel(ctx, id); err != nil {
			if errors.Is(err, invitation.ErrNotFound) {
				writeError(w, r, apperrors.CodeNotFound, "invitation not found")
				return
			}
			writeInvitationError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// writeInvitationError maps the typed lifecycle errors onto distinct wire
// codes so clients can route each case differently.
func writeInvitationError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, invitation.ErrInvalidToken):
		writeError(w, r, apperrors.CodeInvalidToken, "invitation not found")
	case errors.Is(err, invitation.ErrExpired):
		writeError(w, r, apperrors.CodeExpired, "invitation has expired")
	case errors.Is(err, invitation.ErrCancelled):
		writeError(w, r, apperrors.CodeCancelled, "invitation was cancelled")
	case errors.Is(err, invitation.ErrAlreadyAccepted):
		writeError(w, r, apperrors.CodeAlreadyAccepted, "invitation was already accepted")
	default:
		logRequestError(r.Context(), logger, "invitation operation failed", err, "")
		writeError(w, r, apperrors.CodeInternal, "invitation operation failed")
	}
}
