package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasRole(t *testing.T) {
	tests := []struct {
		name     string
		held     []string
		required []string
		want     bool
	}{
		{"provider approves notes", []string{RoleProvider}, []string{RoleProvider}, true},
		{"pharmacist reads queue", []string{RolePharmacist}, []string{RoleProvider, RolePharmacist}, true},
		{"support cannot approve", []string{RoleSupport}, []string{RoleProvider}, false},
		{"admin holds everything", []string{RoleAdmin}, []string{RolePharmacist}, true},
		{"no roles", nil, []string{RoleSupport}, false},
		{"nothing required", []string{RoleProvider}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithUser(context.Background(), "u-1", tt.held...)
			assert.Equal(t, tt.want, HasRole(ctx, tt.required...))
		})
	}
}

func guarded(mw echo.MiddlewareFunc, ctx context.Context) (int, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rx-queue/invoice/x/approve-note", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	err := mw(func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })(e.NewContext(req, rec))
	return rec.Code, err
}

func TestRequireRole(t *testing.T) {
	mw := RequireRole(RoleProvider)

	code, err := guarded(mw, WithUser(context.Background(), "dr-1", RoleProvider))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, code)

	_, err = guarded(mw, WithUser(context.Background(), "s-1", RoleSupport, RolePharmacist))
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusForbidden, he.Code)
	assert.Equal(t, "required role: provider", he.Message)

	_, err = guarded(RequireRole(RoleProvider, RolePharmacist), context.Background())
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "required role: provider or pharmacist", he.Message)
}

func TestRequireAuthenticated(t *testing.T) {
	mw := RequireAuthenticated()

	code, err := guarded(mw, WithUser(context.Background(), "dr-1"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, code)

	_, err = guarded(mw, context.Background())
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusUnauthorized, he.Code)
}

func TestContextAccessorsOnEmptyContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, UserIDFromContext(ctx))
	assert.Empty(t, UserNameFromContext(ctx))
	assert.Nil(t, RolesFromContext(ctx))

	ctx = WithUser(ctx, "ph-7", RolePharmacist)
	assert.Equal(t, "ph-7", UserIDFromContext(ctx))
	assert.Equal(t, []string{RolePharmacist}, RolesFromContext(ctx))
}
