package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ArielSulton/tunarasa-sub001/internal/db/models"
)

type fakeCaller struct {
	syncFn func(context.Context, Input) (int, bool, error)
	calls  int
}

func (f *fakeCaller) Sync(ctx context.Context, in Input) (int, bool, error) {
	f.calls++
	if f.syncFn != nil {
		return f.syncFn(ctx, in)
	}
	return models.RoleUserID, false, nil
}

type memPendingStore struct {
	records map[string]*models.PendingSync
}

func newMemPendingStore() *memPendingStore {
	return &memPendingStore{records: map[string]*models.PendingSync{}}
}

func (s *memPendingStore) Upsert(_ context.Context, pending *models.PendingSync) error {
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = time.Now().UTC()
	}
	if existing, ok := s.records[pending.ExternalID]; ok {
		existing.Email = pending.Email
		existing.IsNewUser = pending.IsNewUser
		return nil
	}
	cp := *pending
	s.records[pending.ExternalID] = &cp
	return nil
}

func (s *memPendingStore) Delete(_ context.Context, externalID string) error {
	delete(s.records, externalID)
	return nil
}

func (s *memPendingStore) List(context.Context) ([]models.PendingSync, error) {
	out := make([]models.PendingSync, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	return out, nil
}

func (s *memPendingStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	pruned := 0
	for id, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.records, id)
			pruned++
		}
	}
	return pruned, nil
}

func testConfig() Config {
	return Config{
		Cooldown:       time.Minute,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		PendingMaxAge:  time.Hour,
	}
}

func TestReconcile_ValidationFailsBeforeAnyCall(t *testing.T) {
	caller := &fakeCaller{}
	r := New(caller, newMemPendingStore(), testConfig(), nil)

	for _, in := range []Input{{}, {SubjectID: "user_1"}, {Email: "a@example.com"}} {
		result := r.Reconcile(context.Background(), in)
		if result.Status != StatusFailed || !errors.Is(result.Err, ErrInvalidInput) {
			t.Fatalf("input %+v: expected validation failure, got %+v", in, result)
		}
	}
	if caller.calls != 0 {
		t.Fatalf("validation must fail before the caller runs, got %d calls", caller.calls)
	}
}

func TestReconcile_CooldownSkipsSecondRun(t *testing.T) {
	caller := &fakeCaller{}
	r := New(caller, newMemPendingStore(), testConfig(), nil)
	in := Input{SubjectID: "user_1", Email: "a@example.com"}

	if result := r.Reconcile(context.Background(), in); result.Status != StatusSynced {
		t.Fatalf("first run: expected synced, got %+v", result)
	}
	if result := r.Reconcile(context.Background(), in); result.Status != StatusSkipped {
		t.Fatalf("second run: expected skipped, got %+v", result)
	}
	if caller.calls != 1 {
		t.Fatalf("cooldown must suppress the second call, got %d", caller.calls)
	}
}

func TestReconcile_RetriesTransientFailure(t *testing.T) {
	caller := &fakeCaller{}
	caller.syncFn = func(context.Context, Input) (int, bool, error) {
		if caller.calls < 3 {
			return 0, true, errors.New("connection refused")
		}
		return models.RoleAdminID, false, nil
	}

	r := New(caller, newMemPendingStore(), testConfig(), nil)
	result := r.Reconcile(context.Background(), Input{SubjectID: "user_1", Email: "a@example.com"})
	if result.Status != StatusSynced || result.RoleID != models.RoleAdminID {
		t.Fatalf("expected recovery on retry, got %+v", result)
	}
	if caller.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", caller.calls)
	}
}

func TestReconcile_TerminalFailureDoesNotRetry(t *testing.T) {
	wantErr := errors.New("bad request")
	caller := &fakeCaller{
		syncFn: func(context.Context, Input) (int, bool, error) {
			return 0, false, wantErr
		},
	}

	store := newMemPendingStore()
	r := New(caller, store, testConfig(), nil)
	result := r.Reconcile(context.Background(), Input{SubjectID: "user_1", Email: "a@example.com"})
	if result.Status != StatusFailed || !errors.Is(result.Err, wantErr) {
		t.Fatalf("expected terminal failure, got %+v", result)
	}
	if caller.calls != 1 {
		t.Fatalf("terminal failures must not retry, got %d attempts", caller.calls)
	}
	if _, ok := store.records["user_1"]; !ok {
		t.Fatal("failed sync must be persisted as pending")
	}
}

func TestReconcile_ExhaustedRetriesPersistPending(t *testing.T) {
	caller := &fakeCaller{
		syncFn: func(context.Context, Input) (int, bool, error) {
			return 0, true, errors.New("still down")
		},
	}

	store := newMemPendingStore()
	r := New(caller, store, testConfig(), nil)
	result := r.Reconcile(context.Background(), Input{SubjectID: "user_1", Email: "a@example.com", IsNewUser: true})
	if result.Status != StatusFailed {
		t.Fatalf("expected failure, got %+v", result)
	}
	// MaxRetries bounds the retries, so attempts = retries + 1.
	if caller.calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", caller.calls)
	}

	rec, ok := store.records["user_1"]
	if !ok {
		t.Fatal("pending record missing")
	}
	if rec.Email != "a@example.com" || !rec.IsNewUser {
		t.Fatalf("pending payload wrong: %+v", rec)
	}
}

func TestReconcile_SuccessClearsPending(t *testing.T) {
	store := newMemPendingStore()
	store.records["user_1"] = &models.PendingSync{ExternalID: "user_1", Email: "a@example.com", CreatedAt: time.Now()}

	r := New(&fakeCaller{}, store, testConfig(), nil)
	if result := r.Reconcile(context.Background(), Input{SubjectID: "user_1", Email: "a@example.com"}); result.Status != StatusSynced {
		t.Fatalf("expected synced, got %+v", result)
	}
	if _, ok := store.records["user_1"]; ok {
		t.Fatal("successful sync must drop the pending record")
	}
}

func TestFlushPending_DropsStaleAndRetriesRest(t *testing.T) {
	store := newMemPendingStore()
	store.records["stale"] = &models.PendingSync{
		ExternalID: "stale",
		Email:      "stale@example.com",
		CreatedAt:  time.Now().UTC().Add(-2 * time.Hour),
	}
	store.records["fresh"] = &models.PendingSync{
		ExternalID: "fresh",
		Email:      "fresh@example.com",
		CreatedAt:  time.Now().UTC().Add(-time.Minute),
	}

	var seen []string
	caller := &fakeCaller{
		syncFn: func(_ context.Context, in Input) (int, bool, error) {
			seen = append(seen, in.SubjectID)
			return models.RoleUserID, false, nil
		},
	}

	r := New(caller, store, testConfig(), nil)
	if err := r.FlushPending(context.Background()); err != nil {
		t.Fatalf("FlushPending returned error: %v", err)
	}

	if len(seen) != 1 || seen[0] != "fresh" {
		t.Fatalf("expected only the fresh record to retry, got %v", seen)
	}
	if len(store.records) != 0 {
		t.Fatalf("expected an empty store, got %+v", store.records)
	}
}

func TestPersistPending_KeepsOriginalCreatedAt(t *testing.T) {
	store := newMemPendingStore()
	r := New(&fakeCaller{}, store, testConfig(), nil)

	in := Input{SubjectID: "user_1", Email: "a@example.com"}
	if err := r.PersistPending(context.Background(), in); err != nil {
		t.Fatalf("PersistPending: %v", err)
	}
	first := store.records["user_1"].CreatedAt

	in.Email = "renamed@example.com"
	if err := r.PersistPending(context.Background(), in); err != nil {
		t.Fatalf("PersistPending repeat: %v", err)
	}

	rec := store.records["user_1"]
	if rec.Email != "renamed@example.com" {
		t.Fatalf("payload should refresh, got %q", rec.Email)
	}
	if !rec.CreatedAt.Equal(first) {
		t.Fatal("repeat failures must keep the original created at")
	}
}
