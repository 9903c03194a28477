package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/ArielSulton/tunarasa-sub001/internal/accessgate"
	"github.com/ArielSulton/tunarasa-sub001/internal/diagnostics"
	"github.com/ArielSulton/tunarasa-sub001/internal/identity"
	"github.com/ArielSulton/tunarasa-sub001/internal/invitation"
	"github.com/ArielSulton/tunarasa-sub001/internal/provider"
	"github.com/ArielSulton/tunarasa-sub001/pkg/auth"
	apperrors "github.com/ArielSulton/tunarasa-sub001/pkg/errors"
)

const (
	serviceTimeout      = 8 * time.Second
	maxJSONBodyBytes    = 64 * 1024
	maxWebhookBodyBytes = 1 << 20 // provider events carry the full user object
)

var validate = validator.New()

// Deps carries the wired services the HTTP surface dispatches to.
type Deps struct {
	Identity    identity.Service
	Invitations invitation.Service
	Diagnostics diagnostics.Service
	Webhooks    *provider.WebhookVerifier
	Verifier    auth.Verifier
	Gate        *accessgate.Gate
	Logger      *slog.Logger
}

// Policies are the gate route classes, assembled by the caller.
type Policies struct {
	Dashboard accessgate.Policy
	AdminView accessgate.Policy
	AdminEdit accessgate.Policy
}

// RegisterRoutes registers all API routes
func RegisterRoutes(r chi.Router, deps Deps, policies Policies) {
	r.Route("/api/webhooks", func(r chi.Router) {
		r.Use(middleware.Recoverer)
		r.Post("/clerk", handleWebhook(deps.Webhooks, deps.Identity, deps.Logger))
	})

	r.Route("/api/sync", func(r chi.Router) {
		r.Use(middleware.Recoverer)
		r.Use(auth.Middleware(deps.Verifier))
		r.Post("/user", handleSyncUser(deps.Identity, deps.Logger))
	})

	r.Route("/api/invitations", func(r chi.Router) {
		r.Use(middleware.Recoverer)
		r.Get("/{token}", handleValidateInvitation(deps.Invitations, deps.Logger))

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(deps.Verifier))
			r.Post("/{token}/accept", handleAcceptInvitation(deps.Invitations, deps.Identity, deps.Logger))
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Recoverer)

		r.Group(func(r chi.Router) {
			r.Use(deps.Gate.Protect(policies.AdminView))
			r.Get("/invitations", handleListInvitations(deps.Invitations, deps.Logger))
			r.Get("/diagnostics/{subjectID}", handleDiagnosticsSnapshot(deps.Diagnostics, deps.Logger))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Gate.Protect(policies.AdminEdit))
			r.Post("/invitations", handleCreateInvitation(deps.Invitations, deps.Logger))
			r.Post("/invitations/{id}/cancel", handleCancelInvitation(deps.Invitations, deps.Logger))
			r.Patch("/diagnostics/{subjectID}", handleDiagnosticsRepair(deps.Diagnostics, deps.Logger))
		})
	})

	r.Route("/api/dashboard", func(r chi.Router) {
		r.Use(middleware.Recoverer)
		r.Use(deps.Gate.Protect(policies.Dashboard))
		r.Get("/me", handleDashboardMe())
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, code, message string) {
	writeJSON(w, apperrors.ToStatusCode(code), apperrors.ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func logRequestError(ctx context.Context, logger *slog.Logger, message string, err error, subjectID string) {
	if logger == nil || err == nil {
		return
	}
	attrs := []any{
		slog.String("subjectId", subjectID),
		slog.Any("error", err),
	}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		attrs = append(attrs, slog.String("requestId", reqID))
	}
	logger.Error(message, attrs...)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
