package reconciler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPCallerSync_ParsesSuccessResponse(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var body struct {
			SubjectID string `json:"subjectId"`
			Email     string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.SubjectID != "user_1" || body.Email != "a@example.com" {
			t.Errorf("unexpected request body: %+v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"roleId":2,"isActive":true,"isNewRecord":false}}`))
	}))
	defer srv.Close()

	caller := NewHTTPCaller(srv.URL, time.Second)
	roleID, retryable, err := caller.Sync(context.Background(), Input{
		SubjectID:    "user_1",
		Email:        "a@example.com",
		SessionToken: "tok123",
	})
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if retryable {
		t.Fatal("success must not be retryable")
	}
	if roleID != 2 {
		t.Fatalf("expected role 2, got %d", roleID)
	}
	if gotAuth != "Bearer tok123" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
}

func TestHTTPCallerSync_ClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusForbidden, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))

		caller := NewHTTPCaller(srv.URL, time.Second)
		_, retryable, err := caller.Sync(context.Background(), Input{SubjectID: "user_1", Email: "a@example.com"})
		srv.Close()

		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if retryable != tc.retryable {
			t.Fatalf("status %d: expected retryable=%v, got %v", tc.status, tc.retryable, retryable)
		}
	}
}

func TestHTTPCallerSync_TransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	caller := NewHTTPCaller(srv.URL, time.Second)
	_, retryable, err := caller.Sync(context.Background(), Input{SubjectID: "user_1", Email: "a@example.com"})
	if err == nil {
		t.Fatal("expected a transport error")
	}
	if !retryable {
		t.Fatal("transport errors must be retryable")
	}
}

func TestHTTPCallerSync_RejectedResponseIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false,"error":"subjectId and email are required"}`))
	}))
	defer srv.Close()

	caller := NewHTTPCaller(srv.URL, time.Second)
	_, retryable, err := caller.Sync(context.Background(), Input{SubjectID: "user_1", Email: "a@example.com"})
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if retryable {
		t.Fatal("application-level rejection must be terminal")
	}
}
