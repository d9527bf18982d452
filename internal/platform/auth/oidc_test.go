package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
)

type jwksServer struct {
	mu       sync.Mutex
	requests int
	status   int
	jwk      jose.JSONWebKey
	server   *httptest.Server
}

func newJWKSServer(t *testing.T, key *rsa.PrivateKey, kid string) *jwksServer {
	t.Helper()
	s := &jwksServer{
		status: http.StatusOK,
		jwk: jose.JSONWebKey{
			Key:       &key.PublicKey,
			KeyID:     kid,
			Algorithm: jwt.SigningMethodRS256.Alg(),
			Use:       "sig",
		},
	}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		status := s.status
		s.mu.Unlock()
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{s.jwk}})
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *jwksServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func TestJWKSCache_KeyHonoursMaxAge(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	server := newJWKSServer(t, key, "key1")

	now := time.Unix(1_700_000_000, 0)
	cache := NewJWKSCache(server.server.URL, WithJWKSClock(func() time.Time { return now }))

	for range 3 {
		if _, err := cache.Key(context.Background(), "key1"); err != nil {
			t.Fatalf("key lookup: %v", err)
		}
	}
	if got := server.count(); got != 1 {
		t.Fatalf("expected single fetch while fresh, got %d", got)
	}

	now = now.Add(11 * time.Minute)
	if _, err := cache.Key(context.Background(), "key1"); err != nil {
		t.Fatalf("key lookup after expiry: %v", err)
	}
	if got := server.count(); got != 2 {
		t.Fatalf("expected refetch after max-age, got %d", got)
	}
}

func TestJWKSCache_UnknownKid(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	server := newJWKSServer(t, key, "key1")
	cache := NewJWKSCache(server.server.URL)

	if _, err := cache.Key(context.Background(), "other"); !errors.Is(err, ErrJWKSKeyNotFound) {
		t.Fatalf("expected ErrJWKSKeyNotFound, got %v", err)
	}
}

func TestParseMaxAge(t *testing.T) {
	cases := map[string]time.Duration{
		"public, max-age=3600, must-revalidate": time.Hour,
		"no-store":                              0,
		"max-age=abc":                           0,
		"":                                      0,
	}
	for header, want := range cases {
		if got := parseMaxAge(header); got != want {
			t.Fatalf("parseMaxAge(%q) = %v, want %v", header, got, want)
		}
	}
}

func TestRequireOIDC_AllowsValidToken(t *testing.T) {
	validator, _, token := setupOIDCTest(t, nil)

	middleware := validator.RequireOIDC("https://api.example.com", []string{"https://accounts.google.com"})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/payments/pay_1:confirm", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := ServiceIdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected service identity")
		}
		if identity.Email != "worker@example.iam.gserviceaccount.com" {
			t.Fatalf("unexpected email %q", identity.Email)
		}
		if identity.Issuer != "https://accounts.google.com" {
			t.Fatalf("unexpected issuer %q", identity.Issuer)
		}
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}
}

func TestRequireOIDC_RejectsAudienceMismatch(t *testing.T) {
	validator, logs, token := setupOIDCTest(t, func(claims jwt.MapClaims) {
		claims["aud"] = "https://other.example.com"
	})

	middleware := validator.RequireOIDC("https://api.example.com", []string{"https://accounts.google.com"})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/payments/pay_1:confirm", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	if logs.FilterMessage("oidc audience mismatch").Len() != 1 {
		t.Fatalf("expected audience mismatch log, got %+v", logs.All())
	}
}

func TestRequireOIDC_RejectsUnknownIssuer(t *testing.T) {
	validator, _, token := setupOIDCTest(t, func(claims jwt.MapClaims) {
		claims["iss"] = "https://issuer.example.com"
	})

	middleware := validator.RequireOIDC("https://api.example.com", []string{"https://accounts.google.com"})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/payments/pay_1:confirm", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestRequireOIDC_RejectsExpiredToken(t *testing.T) {
	validator, _, token := setupOIDCTest(t, func(claims jwt.MapClaims) {
		claims["exp"] = float64(time.Unix(1_700_000_000, 0).Add(-time.Minute).Unix())
	})

	middleware := validator.RequireOIDC("https://api.example.com", nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/payments/pay_1:confirm", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestRequireOIDC_JWKSUnavailable(t *testing.T) {
	validator, _, token := setupOIDCTest(t, nil)
	validator.cache.url = "http://127.0.0.1:1/unreachable"

	middleware := validator.RequireOIDC("https://api.example.com", []string{"https://accounts.google.com"})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/payments/pay_1:confirm", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestRequireOIDC_MissingToken(t *testing.T) {
	validator, _, _ := setupOIDCTest(t, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/payments/pay_1:confirm", nil)

	validator.RequireOIDC("https://api.example.com", nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func setupOIDCTest(t *testing.T, mutateClaims func(jwt.MapClaims)) (*OIDCValidator, *observer.ObservedLogs, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	server := newJWKSServer(t, key, "svc-key")

	now := time.Unix(1_700_000_000, 0)
	originalTimeFunc := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.TimeFunc = originalTimeFunc })

	core, logs := observer.New(zapcore.WarnLevel)
	validator := NewOIDCValidator(
		NewJWKSCache(server.server.URL, WithJWKSClock(func() time.Time { return now })),
		zap.New(core),
	)

	claims := jwt.MapClaims{
		"aud":   "https://api.example.com",
		"iss":   "https://accounts.google.com",
		"sub":   "1234567890",
		"email": "worker@example.iam.gserviceaccount.com",
		"exp":   float64(now.Add(time.Hour).Unix()),
		"iat":   float64(now.Unix()),
	}
	if mutateClaims != nil {
		mutateClaims(claims)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "svc-key"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	return validator, logs, signed
}
