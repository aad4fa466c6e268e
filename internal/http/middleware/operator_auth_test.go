package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestOperatorJWTRejects(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		header string
	}{
		{"missing secret", "", "Bearer " + signOperatorToken(t, "secret", "ops")},
		{"missing header", "secret", ""},
		{"wrong scheme", "secret", "Basic abc"},
		{"wrong key", "secret", "Bearer " + signOperatorToken(t, "wrong", "ops")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/sync", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			OperatorJWT(tc.secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("handler must not run")
			})).ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
			}
		})
	}
}

func TestOperatorJWTValidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	req.Header.Set("Authorization", "Bearer "+signOperatorToken(t, "secret", "ops-user"))
	rec := httptest.NewRecorder()

	var subject string
	OperatorJWT("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = OperatorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if subject != "ops-user" {
		t.Fatalf("expected operator subject, got %q", subject)
	}
}

func TestOperatorJWTRejectsExpiredToken(t *testing.T) {
	claims := jwt.RegisteredClaims{Subject: "ops", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	OperatorJWT("secret")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestOperatorFromContextWithoutClaims(t *testing.T) {
	if _, ok := OperatorFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()); ok {
		t.Fatalf("expected no operator")
	}
}

func signOperatorToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
