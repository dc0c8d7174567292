package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testKey = []byte("test-signing-key")

func signToken(t *testing.T, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testKey)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func doRequest(mw echo.MiddlewareFunc, authHeader string) (*httptest.ResponseRecorder, string, []string) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var gotUser string
	var gotRoles []string
	handler := mw(func(c echo.Context) error {
		gotUser = UserIDFromContext(c.Request().Context())
		gotRoles = RolesFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec, gotUser, gotRoles
}

func TestMiddleware_ValidToken(t *testing.T) {
	token := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"billing"},
	})

	rec, user, roles := doRequest(Middleware(Config{SigningKey: testKey}), "Bearer "+token)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if user != "user-42" {
		t.Errorf("expected subject user-42, got %q", user)
	}
	if len(roles) != 1 || roles[0] != "billing" {
		t.Errorf("unexpected roles: %v", roles)
	}
}

func TestMiddleware_MissingHeader(t *testing.T) {
	rec, _, _ := doRequest(Middleware(Config{SigningKey: testKey}), "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_MalformedHeader(t *testing.T) {
	rec, _, _ := doRequest(Middleware(Config{SigningKey: testKey}), "Token abc")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_WrongKey(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-42"},
	})
	signed, err := token.SignedString([]byte("other-key"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	rec, _, _ := doRequest(Middleware(Config{SigningKey: testKey}), "Bearer "+signed)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	token := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	rec, _, _ := doRequest(Middleware(Config{SigningKey: testKey}), "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestDevMiddleware_NoHeader(t *testing.T) {
	rec, user, roles := doRequest(DevMiddleware(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if user != "dev-user" {
		t.Errorf("expected dev-user, got %q", user)
	}
	if len(roles) != 1 || roles[0] != "admin" {
		t.Errorf("unexpected roles: %v", roles)
	}
}
