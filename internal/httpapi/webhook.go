package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ArielSulton/tunarasa-sub001/internal/identity"
	"github.com/ArielSulton/tunarasa-sub001/internal/provider"
	apperrors "github.com/ArielSulton/tunarasa-sub001/pkg/errors"
)

// handleWebhook verifies the provider signature before anything else touches
// the payload. A signature failure rejects with no state change; a processing
// failure still acknowledges the delivery because the attempt is recorded in
// the audit log.
func handleWebhook(verifier *provider.WebhookVerifier, service identity.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
		defer r.Body.Close()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, r, apperrors.CodeBadRequest, "failed to read request body")
			return
		}

		if err := verifier.Verify(r.Header, body); err != nil {
			switch {
			case errors.Is(err, provider.ErrMissingSignatureHeaders):
				writeError(w, r, apperrors.CodeBadRequest, "missing webhook signature headers")
			case errors.Is(err, provider.ErrTimestampOutOfRange):
				writeError(w, r, apperrors.CodeBadRequest, "webhook timestamp outside tolerance")
			default:
				writeError(w, r, apperrors.CodeBadRequest, "webhook signature verification failed")
			}
			return
		}

		evt, err := provider.ParseEvent(body)
		if err != nil {
			writeError(w, r, apperrors.CodeBadRequest, "malformed webhook payload")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
		defer cancel()

		outcome, err := service.IngestEvent(ctx, evt)
		if err != nil {
			// Only the audit write can fail here; without a durable record the
			// provider must redeliver.
			logRequestError(r.Context(), logger, "failed to record webhook attempt", err, evt.User.ID)
			writeError(w, r, apperrors.CodeInternal, "failed to process webhook")
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	}
}
