package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"arrowhead/api/internal/auth"
	"arrowhead/api/internal/clock"
	"arrowhead/api/internal/cors"
	"arrowhead/api/internal/lock"
)

func TestLockHandoffBetweenUsers(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/objectives/obj-1/lock", "user-a", "")
	expectStatus(t, rec, http.StatusCreated)
	if body["message"] != "Lock acquired" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
	held, _ := body["lock"].(map[string]any)
	if held["duration_ms"] != float64(300000) {
		t.Fatalf("expected duration_ms 300000, got %v", held["duration_ms"])
	}
	if held["objective_id"] != "obj-1" {
		t.Fatalf("unexpected objective_id: %v", held["objective_id"])
	}
	if held["expires_at"] != "2025-05-01T09:05:00.000Z" {
		t.Fatalf("unexpected expires_at: %v", held["expires_at"])
	}

	rec, body = env.do(t, http.MethodPost, "/api/objectives/obj-1/lock", "user-b", "")
	expectStatus(t, rec, http.StatusLocked)
	if body["message"] != "Locked" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
	lockedUntil, err := time.Parse(time.RFC3339, body["locked_until"].(string))
	if err != nil {
		t.Fatalf("parse locked_until: %v", err)
	}
	if !lockedUntil.After(env.clock.Now()) {
		t.Fatalf("locked_until %s is not in the future", lockedUntil)
	}

	rec, body = env.do(t, http.MethodDelete, "/api/objectives/obj-1/lock", "user-a", "")
	expectStatus(t, rec, http.StatusOK)
	if body["message"] != "Lock released" || body["objective_id"] != "obj-1" {
		t.Fatalf("unexpected release body: %v", body)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/objectives/obj-1/lock", "user-b", "")
	expectStatus(t, rec, http.StatusCreated)
}

func TestLockRenewalExtendsExpiry(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/objectives/obj-1/lock", "user-a", "")
	expectStatus(t, rec, http.StatusCreated)

	env.clock.Advance(time.Minute)
	rec, body := env.do(t, http.MethodPost, "/api/objectives/obj-1/lock", "user-a", "")
	expectStatus(t, rec, http.StatusOK)
	if body["message"] != "Lock renewed" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
	held, _ := body["lock"].(map[string]any)
	if held["expires_at"] != "2025-05-01T09:06:00.000Z" {
		t.Fatalf("unexpected expires_at: %v", held["expires_at"])
	}
}

func TestExpiredLockIsReclaimed(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/objectives/obj-1/lock", "user-a", "")
	expectStatus(t, rec, http.StatusCreated)

	env.clock.Advance(lock.Duration)
	rec, _ = env.do(t, http.MethodPost, "/api/objectives/obj-1/lock", "user-b", "")
	expectStatus(t, rec, http.StatusCreated)

	rec, body := env.do(t, http.MethodDelete, "/api/objectives/obj-1/lock", "user-a", "")
	expectStatus(t, rec, http.StatusForbidden)
	if body["error"] != "You can only release your own lock" {
		t.Fatalf("unexpected error: %v", body["error"])
	}
}

func TestAcquireRequiresTeamMembership(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name   string
		path   string
		user   string
		status int
		detail string
	}{
		{name: "missing objective", path: "/api/objectives/nope/lock", user: "user-a", status: http.StatusNotFound, detail: "Objective not found"},
		{name: "missing project", path: "/api/objectives/obj-orphan/lock", user: "user-a", status: http.StatusNotFound, detail: "Project not found"},
		{name: "other team", path: "/api/objectives/obj-1/lock", user: "user-x", status: http.StatusForbidden, detail: "You can only edit objectives in your own team"},
		{name: "no membership", path: "/api/objectives/obj-1/lock", user: "user-z", status: http.StatusForbidden, detail: "You can only edit objectives in your own team"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := env.do(t, http.MethodPost, tc.path, tc.user, "")
			expectStatus(t, rec, tc.status)
			if body["error"] != tc.detail {
				t.Fatalf("expected error %q, got %v", tc.detail, body["error"])
			}
		})
	}
	if env.locks.Len() != 0 {
		t.Fatalf("expected no locks after rejected acquires, got %d", env.locks.Len())
	}
}

func TestReleaseOutcomes(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodDelete, "/api/objectives/obj-1/lock", "user-a", "")
	expectStatus(t, rec, http.StatusNotFound)
	if body["error"] != "No active lock for this objective" {
		t.Fatalf("unexpected error: %v", body["error"])
	}

	rec, _ = env.do(t, http.MethodPost, "/api/objectives/obj-1/lock", "user-a", "")
	expectStatus(t, rec, http.StatusCreated)

	rec, _ = env.do(t, http.MethodDelete, "/api/objectives/obj-1/lock", "user-b", "")
	expectStatus(t, rec, http.StatusForbidden)
	if env.locks.Len() != 1 {
		t.Fatalf("forbidden release must not remove the lock")
	}

	env.clock.Advance(lock.Duration)
	rec, _ = env.do(t, http.MethodDelete, "/api/objectives/obj-1/lock", "user-a", "")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestBearerTokenFailures(t *testing.T) {
	env := newTestEnv(t)

	expired, err := auth.Sign(testSecret, auth.Claims{Sub: "user-a", Exp: env.clock.Now().Add(-time.Second).Unix()})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	noSubject, err := auth.Sign(testSecret, auth.Claims{Email: "a@example.com"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	foreign, err := auth.Sign([]byte("other-secret"), auth.Claims{Sub: "user-a"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := []struct {
		name   string
		header string
		detail string
	}{
		{name: "missing", header: "", detail: "Missing or invalid Authorization header"},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", detail: "Missing or invalid Authorization header"},
		{name: "garbage", header: "Bearer not-a-jwt", detail: "Invalid or expired token"},
		{name: "expired", header: "Bearer " + expired, detail: "Invalid or expired token"},
		{name: "wrong secret", header: "Bearer " + foreign, detail: "Invalid or expired token"},
		{name: "empty subject", header: "Bearer " + noSubject, detail: "Invalid token payload"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/objectives/obj-1/lock", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)
			expectStatus(t, rec, http.StatusUnauthorized)
			body := decodeResponse(t, rec)
			if body["message"] != "Unauthorized" || body["error"] != tc.detail {
				t.Fatalf("unexpected body: %v", body)
			}
		})
	}
}

func TestMissingSecretIsServerMisconfiguration(t *testing.T) {
	dir := newFakeDirectory()
	clk := clock.NewManual(testEpoch)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := NewHTTPServer(New(dir, lock.NewMemoryStore(clk), clk, logger), nil, cors.NewPolicy("", ""), logger, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/objectives/obj-1/resume", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	expectStatus(t, rec, http.StatusInternalServerError)
	body := decodeResponse(t, rec)
	if body["error"] != "Server misconfiguration" {
		t.Fatalf("unexpected body: %v", body)
	}
}
