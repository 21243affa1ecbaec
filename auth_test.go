package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestAuth(t *testing.T) *AuthMiddleware {
	t.Helper()
	return NewAuthMiddleware(testCredentials(t), "secret-key", time.Minute)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_Check(t *testing.T) {
	am := newTestAuth(t)
	token, _, err := am.GenerateStreamToken()
	if err != nil {
		t.Fatalf("GenerateStreamToken: %v", err)
	}

	foreign := NewAuthMiddleware(testCredentials(t), "other-key", time.Minute)
	foreignToken, _, err := foreign.GenerateStreamToken()
	if err != nil {
		t.Fatalf("GenerateStreamToken: %v", err)
	}

	tests := []struct {
		name  string
		path  string
		setup func(r *http.Request)
		want  int
	}{
		{"health needs no auth", "/health", func(r *http.Request) {}, http.StatusOK},
		{"no credentials", "/api/status", func(r *http.Request) {}, http.StatusUnauthorized},
		{"basic auth", "/api/status", func(r *http.Request) { r.SetBasicAuth(testUser, testPassword) }, http.StatusOK},
		{"wrong password", "/api/status", func(r *http.Request) { r.SetBasicAuth(testUser, "nope") }, http.StatusUnauthorized},
		{"wrong user", "/api/status", func(r *http.Request) { r.SetBasicAuth("admin", testPassword) }, http.StatusUnauthorized},
		{"bearer token", "/api/stream/mjpeg", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK},
		{"query token", "/api/stream/mjpeg?token=" + token, func(r *http.Request) {}, http.StatusOK},
		{"foreign token", "/api/stream/mjpeg?token=" + foreignToken, func(r *http.Request) {}, http.StatusUnauthorized},
		{"garbage token", "/api/stream/mjpeg?token=abc", func(r *http.Request) {}, http.StatusUnauthorized},
	}

	h := am.Check(okHandler())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAuthMiddleware_ChallengesBrowsers(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestAuth(t).Check(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != authRealm {
		t.Errorf("WWW-Authenticate = %q, want %q", got, authRealm)
	}
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	am := &AuthMiddleware{
		creds:     testCredentials(t),
		secretKey: "secret-key",
		tokenTTL:  -time.Minute,
	}
	token, expires, err := am.GenerateStreamToken()
	if err != nil {
		t.Fatalf("GenerateStreamToken: %v", err)
	}
	if !expires.Before(time.Now()) {
		t.Fatalf("expected expiry in the past, got %v", expires)
	}
	if err := am.VerifyStreamToken(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestAuthMiddleware_NoCredentials(t *testing.T) {
	am := NewAuthMiddleware(nil, "secret-key", 0)
	if am.VerifyPassword(testUser, testPassword) {
		t.Fatal("expected rejection without configured credentials")
	}
	if am.tokenTTL != DefaultStreamTokenTTL {
		t.Errorf("tokenTTL = %v, want default %v", am.tokenTTL, DefaultStreamTokenTTL)
	}
}
