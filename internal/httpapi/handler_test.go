package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ArielSulton/tunarasa-sub001/internal/db/models"
	"github.com/ArielSulton/tunarasa-sub001/internal/identity"
	"github.com/ArielSulton/tunarasa-sub001/internal/invitation"
	"github.com/ArielSulton/tunarasa-sub001/internal/provider"
	"github.com/ArielSulton/tunarasa-sub001/pkg/auth"
)

const testWebhookSecret = "whsec_MfKQ9r8GKYqrTwjUPD8ILPZIo2LaLaSw"

type fakeIdentityService struct {
	ingestFn func(context.Context, provider.Event) (identity.Outcome, error)
	syncFn   func(context.Context, identity.SyncInput) (*identity.SyncResult, error)
	acceptFn func(context.Context, identity.SyncInput, *models.Invitation) (*identity.SyncResult, error)
}

func (f *fakeIdentityService) IngestEvent(ctx context.Context, evt provider.Event) (identity.Outcome, error) {
	if f.ingestFn != nil {
		return f.ingestFn(ctx, evt)
	}
	return identity.Outcome{EventType: string(evt.Type), SubjectID: evt.User.ID}, nil
}

func (f *fakeIdentityService) SyncUser(ctx context.Context, in identity.SyncInput) (*identity.SyncResult, error) {
	if f.syncFn != nil {
		return f.syncFn(ctx, in)
	}
	return &identity.SyncResult{RoleID: models.RoleUserID, IsActive: true, IsNewRecord: true}, nil
}

func (f *fakeIdentityService) AcceptInvitation(ctx context.Context, in identity.SyncInput, inv *models.Invitation) (*identity.SyncResult, error) {
	if f.acceptFn != nil {
		return f.acceptFn(ctx, in, inv)
	}
	return &identity.SyncResult{RoleID: inv.RoleID, IsActive: true, IsNewRecord: true}, nil
}

func (f *fakeIdentityService) ForceSync(context.Context, provider.UserPayload) (*identity.SyncResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeIdentityService) GetByExternalID(context.Context, string) (*models.Identity, error) {
	return nil, identity.ErrNotFound
}

type fakeInvitationService struct {
	validateFn func(context.Context, string) (*invitation.Snapshot, error)
	resolveFn  func(context.Context, string) (*models.Invitation, error)
	cancelFn   func(context.Context, string) error
}

func (f *fakeInvitationService) Create(context.Context, invitation.CreateInput) (*models.Invitation, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeInvitationService) Validate(ctx context.Context, token string) (*invitation.Snapshot, error) {
	if f.validateFn != nil {
		return f.validateFn(ctx, token)
	}
	return nil, invitation.ErrInvalidToken
}

func (f *fakeInvitationService) ResolveForAcceptance(ctx context.Context, token string) (*models.Invitation, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, token)
	}
	return nil, invitation.ErrInvalidToken
}

func (f *fakeInvitationService) Cancel(ctx context.Context, id string) error {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, id)
	}
	return nil
}

func (f *fakeInvitationService) List(context.Context) ([]models.Invitation, error) { return nil, nil }

func signWebhook(t *testing.T, body []byte, at time.Time) http.Header {
	t.Helper()

	raw, err := base64.StdEncoding.DecodeString(testWebhookSecret[len("whsec_"):])
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}

	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, raw)
	mac.Write([]byte("msg_1." + ts + "."))
	mac.Write(body)

	h := http.Header{}
	h.Set(provider.HeaderWebhookID, "msg_1")
	h.Set(provider.HeaderWebhookTimestamp, ts)
	h.Set(provider.HeaderWebhookSignature, "v1,"+base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return h
}

func newWebhookVerifier(t *testing.T) *provider.WebhookVerifier {
	t.Helper()
	v, err := provider.NewWebhookVerifier(testWebhookSecret)
	if err != nil {
		t.Fatalf("NewWebhookVerifier: %v", err)
	}
	return v
}

func TestHandleWebhook_AcceptsSignedEvent(t *testing.T) {
	var ingested provider.Event
	svc := &fakeIdentityService{
		ingestFn: func(_ context.Context, evt provider.Event) (identity.Outcome, error) {
			ingested = evt
			return identity.Outcome{EventType: string(evt.Type), SubjectID: evt.User.ID}, nil
		},
	}

	body := []byte(`{"type":"user.created","data":{"id":"user_1","email_addresses":[{"id":"em_1","email_address":"a@example.com"}]}}`)
	r := httptest.NewRequest(http.MethodPost, "/api/webhooks/clerk", bytes.NewReader(body))
	r.Header = signWebhook(t, body, time.Now())

	rec := httptest.NewRecorder()
	handleWebhook(newWebhookVerifier(t), svc, nil)(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ingested.Type != provider.EventUserCreated || ingested.User.ID != "user_1" {
		t.Fatalf("event not ingested: %+v", ingested)
	}
}

func TestHandleWebhook_RejectsBadSignature(t *testing.T) {
	called := false
	svc := &fakeIdentityService{
		ingestFn: func(context.Context, provider.Event) (identity.Outcome, error) {
			called = true
			return identity.Outcome{}, nil
		},
	}

	body := []byte(`{"type":"user.created","data":{"id":"user_1"}}`)
	r := httptest.NewRequest(http.MethodPost, "/api/webhooks/clerk", bytes.NewReader(body))
	r.Header = signWebhook(t, []byte(`different body`), time.Now())

	rec := httptest.NewRecorder()
	handleWebhook(newWebhookVerifier(t), svc, nil)(rec, r)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if called {
		t.Fatal("unverified events must never reach the service")
	}
}

func TestHandleWebhook_RejectsMissingHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/webhooks/clerk", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	handleWebhook(newWebhookVerifier(t), &fakeIdentityService{}, nil)(rec, r)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func syncRequestWithSession(t *testing.T, subjectID string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, "/api/sync/user", bytes.NewReader(body))
	ctx := auth.ContextWithSession(r.Context(), auth.Session{SubjectID: subjectID, Email: "a@example.com"})
	return r.WithContext(ctx)
}

func TestHandleSyncUser_Succeeds(t *testing.T) {
	svc := &fakeIdentityService{
		syncFn: func(_ context.Context, in identity.SyncInput) (*identity.SyncResult, error) {
			if in.ExternalID != "user_1" {
				t.Errorf("unexpected subject %q", in.ExternalID)
			}
			return &identity.SyncResult{RoleID: models.RoleAdminID, IsActive: true}, nil
		},
	}

	r := syncRequestWithSession(t, "user_1", map[string]any{
		"subjectId": "user_1",
		"email":     "a@example.com",
	})
	rec := httptest.NewRecorder()
	handleSyncUser(svc, nil)(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp syncUserResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Data == nil || resp.Data.RoleID != models.RoleAdminID {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHandleSyncUser_RejectsSubjectMismatch(t *testing.T) {
	r := syncRequestWithSession(t, "user_2", map[string]any{
		"subjectId": "user_1",
		"email":     "a@example.com",
	})
	rec := httptest.NewRecorder()
	handleSyncUser(&fakeIdentityService{}, nil)(rec, r)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleSyncUser_RejectsInvalidPayload(t *testing.T) {
	r := syncRequestWithSession(t, "user_1", map[string]any{"subjectId": "user_1"})
	rec := httptest.NewRecorder()
	handleSyncUser(&fakeIdentityService{}, nil)(rec, r)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var resp syncUserResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success {
		t.Fatal("expected success=false")
	}
}

func invitationRouter(svc invitation.Service, identities identity.Service) chi.Router {
	r := chi.NewRouter()
	r.Get("/api/invitations/{token}", handleValidateInvitation(svc, nil))
	r.Post("/api/invitations/{token}/accept", handleAcceptInvitation(svc, identities, nil))
	r.Post("/api/admin/invitations/{id}/cancel", handleCancelInvitation(svc, nil))
	return r
}

func TestHandleValidateInvitation_UnknownToken(t *testing.T) {
	router := invitationRouter(&fakeInvitationService{}, &fakeIdentityService{})

	r := httptest.NewRequest(http.MethodGet, "/api/invitations/deadbeef", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleValidateInvitation_ReturnsFlags(t *testing.T) {
	now := time.Now().UTC()
	svc := &fakeInvitationService{
		validateFn: func(_ context.Context, token string) (*invitation.Snapshot, error) {
			return &invitation.Snapshot{
				Invitation: &models.Invitation{
					ID:        "inv_1",
					Email:     "invited@example.com",
					RoleID:    models.RoleAdminID,
					Status:    models.InvitationPending,
					Token:     token,
					ExpiresAt: now.Add(time.Hour),
				},
				TimeRemaining: time.Hour,
			}, nil
		},
	}

	r := httptest.NewRequest(http.MethodGet, "/api/invitations/tok1", nil)
	rec := httptest.NewRecorder()
	invitationRouter(svc, &fakeIdentityService{}).ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Invitation           invitationView `json:"invitation"`
		IsExpired            bool           `json:"isExpired"`
		TimeRemainingSeconds int64          `json:"timeRemainingSeconds"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Invitation.ID != "inv_1" || resp.IsExpired {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.TimeRemainingSeconds != 3600 {
		t.Fatalf("expected 3600s remaining, got %d", resp.TimeRemainingSeconds)
	}
}

func TestHandleAcceptInvitation_MapsTypedErrors(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
	}{
		{invitation.ErrInvalidToken, http.StatusNotFound},
		{invitation.ErrExpired, http.StatusGone},
		{invitation.ErrCancelled, http.StatusGone},
		{invitation.ErrAlreadyAccepted, http.StatusConflict},
	}

	for _, tc := range cases {
		svc := &fakeInvitationService{
			resolveFn: func(context.Context, string) (*models.Invitation, error) {
				return nil, tc.err
			},
		}
		router := invitationRouter(svc, &fakeIdentityService{})

		r := httptest.NewRequest(http.MethodPost, "/api/invitations/tok1/accept", nil)
		ctx := auth.ContextWithSession(r.Context(), auth.Session{SubjectID: "user_1"})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r.WithContext(ctx))

		if rec.Code != tc.wantStatus {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.wantStatus, rec.Code)
		}
	}
}

func TestHandleAcceptInvitation_RedeemsForSessionSubject(t *testing.T) {
	inv := &models.Invitation{ID: "inv_1", Email: "invited@example.com", RoleID: models.RoleAdminID, Status: models.InvitationPending}
	invSvc := &fakeInvitationService{
		resolveFn: func(context.Context, string) (*models.Invitation, error) { return inv, nil },
	}

	var accepted identity.SyncInput
	var acceptedInv *models.Invitation
	idSvc := &fakeIdentityService{
		acceptFn: func(_ context.Context, in identity.SyncInput, inv *models.Invitation) (*identity.SyncResult, error) {
			accepted = in
			acceptedInv = inv
			return &identity.SyncResult{RoleID: models.RoleAdminID, IsActive: true, IsNewRecord: true}, nil
		},
	}

	r := httptest.NewRequest(http.MethodPost, "/api/invitations/tok1/accept", nil)
	ctx := auth.ContextWithSession(r.Context(), auth.Session{SubjectID: "user_9"})
	rec := httptest.NewRecorder()
	invitationRouter(invSvc, idSvc).ServeHTTP(rec, r.WithContext(ctx))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if accepted.ExternalID != "user_9" {
		t.Fatalf("unexpected accept input %+v", accepted)
	}
	if acceptedInv == nil || acceptedInv.ID != "inv_1" {
		t.Fatalf("unexpected invitation %+v", acceptedInv)
	}
}

func TestHandleAcceptInvitation_MapsAcceptStageConflict(t *testing.T) {
	inv := &models.Invitation{ID: "inv_1", Email: "invited@example.com", RoleID: models.RoleAdminID, Status: models.InvitationPending}
	invSvc := &fakeInvitationService{
		resolveFn: func(context.Context, string) (*models.Invitation, error) { return inv, nil },
	}
	idSvc := &fakeIdentityService{
		acceptFn: func(context.Context, identity.SyncInput, *models.Invitation) (*identity.SyncResult, error) {
			return nil, invitation.ErrAlreadyAccepted
		},
	}

	r := httptest.NewRequest(http.MethodPost, "/api/invitations/tok1/accept", nil)
	ctx := auth.ContextWithSession(r.Context(), auth.Session{SubjectID: "user_9"})
	rec := httptest.NewRecorder()
	invitationRouter(invSvc, idSvc).ServeHTTP(rec, r.WithContext(ctx))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleCancelInvitation_AlreadyAccepted(t *testing.T) {
	svc := &fakeInvitationService{
		cancelFn: func(context.Context, string) error { return invitation.ErrAlreadyAccepted },
	}

	r := httptest.NewRequest(http.MethodPost, "/api/admin/invitations/inv_1/cancel", nil)
	rec := httptest.NewRecorder()
	invitationRouter(svc, &fakeIdentityService{}).ServeHTTP(rec, r)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}
