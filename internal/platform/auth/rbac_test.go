package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func invokeWithRoles(mw echo.MiddlewareFunc, roles []string) error {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), UserRolesKey, roles)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	return h(c)
}

func TestRequireRole_HasRole(t *testing.T) {
	if err := invokeWithRoles(RequireRole("staff"), []string{"staff"}); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestRequireRole_AdminOverride(t *testing.T) {
	if err := invokeWithRoles(RequireRole("staff"), []string{"admin"}); err != nil {
		t.Fatalf("expected admin to pass, got %v", err)
	}
}

func TestRequireRole_MissingRole(t *testing.T) {
	err := invokeWithRoles(RequireRole("staff"), []string{"viewer"})
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestRequireRole_AnyOf(t *testing.T) {
	if err := invokeWithRoles(RequireRole("staff", "viewer"), []string{"viewer"}); err != nil {
		t.Fatalf("expected any-of match, got %v", err)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	err := invokeWithRoles(RequireRole("staff"), nil)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}
