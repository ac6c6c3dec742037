package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key")

func signTestToken(t *testing.T, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSigningKey)
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func invokeWithAuth(mw echo.MiddlewareFunc, authHeader string) (echo.Context, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	return c, h(c)
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "staff-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "nurse@clinic.example",
		Roles: []string{"staff"},
	}

	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	c, err := invokeWithAuth(mw, "Bearer "+signTestToken(t, claims))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	ctx := c.Request().Context()
	if got := UserIDFromContext(ctx); got != "staff-1" {
		t.Errorf("expected user ID staff-1, got %q", got)
	}
	if got := EmailFromContext(ctx); got != "nurse@clinic.example" {
		t.Errorf("expected email on context, got %q", got)
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != "staff" {
		t.Errorf("expected roles [staff], got %v", roles)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	_, err := invokeWithAuth(mw, "")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "staff-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}

	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	_, err := invokeWithAuth(mw, "Bearer "+signTestToken(t, claims))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %v", err)
	}
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "staff-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("a-different-key"))
	if err != nil {
		t.Fatal(err)
	}

	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	_, herr := invokeWithAuth(mw, "Bearer "+signed)
	he, ok := herr.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong signing key, got %v", herr)
	}
}

func TestJWTMiddleware_JWKSFetchedOnceAcrossRequests(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}

	var fetches int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		resp := JWKSResponse{Keys: []JWKSKey{{
			Kty: "RSA",
			Kid: "k1",
			N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode JWKS: %v", err)
		}
	}))
	defer srv.Close()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "staff-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"staff"},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("signing RS256 token: %v", err)
	}

	// One middleware instance, several requests: the key set is fetched on
	// the first request and served from the cache afterwards.
	mw := JWTMiddleware(JWTConfig{JWKSURL: srv.URL})
	for i := 0; i < 3; i++ {
		if _, err := invokeWithAuth(mw, "Bearer "+signed); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	if got := atomic.LoadInt32(&fetches); got != 1 {
		t.Errorf("expected 1 JWKS fetch across requests, got %d", got)
	}
}

func TestSchedulerAuth_ValidToken(t *testing.T) {
	mw := SchedulerAuth("cron-secret")
	if _, err := invokeWithAuth(mw, "Bearer cron-secret"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestSchedulerAuth_WrongToken(t *testing.T) {
	mw := SchedulerAuth("cron-secret")
	_, err := invokeWithAuth(mw, "Bearer wrong")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestSchedulerAuth_MissingHeader(t *testing.T) {
	mw := SchedulerAuth("cron-secret")
	_, err := invokeWithAuth(mw, "")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestSchedulerAuth_Unconfigured(t *testing.T) {
	mw := SchedulerAuth("")
	_, err := invokeWithAuth(mw, "Bearer anything")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when token not configured, got %v", err)
	}
}

func TestSchedulerAuth_CaseInsensitiveBearer(t *testing.T) {
	mw := SchedulerAuth("cron-secret")
	if _, err := invokeWithAuth(mw, "bearer cron-secret"); err != nil {
		t.Fatalf("expected lowercase bearer to pass, got %v", err)
	}
}

func TestDevAuthMiddleware_Defaults(t *testing.T) {
	c, err := invokeWithAuth(DevAuthMiddleware(), "")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got := UserIDFromContext(c.Request().Context()); got != "dev-user" {
		t.Errorf("expected dev-user, got %q", got)
	}
}
