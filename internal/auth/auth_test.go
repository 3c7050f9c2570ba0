package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kaz/mcpsql/internal/config"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.AuthConfig {
	cfg := config.DefaultConfig().Auth
	cfg.SecretKey = "test-secret"
	return cfg
}

func newAuth(t *testing.T, mutate ...func(*config.AuthConfig)) *Auth {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	a, err := New(cfg)
	require.NoError(t, err)
	return a
}

func TestGenerateAndValidate(t *testing.T) {
	a := newAuth(t)

	token, err := a.GenerateToken("usuario123", []string{"read:data", "write:data"}, 0)
	require.NoError(t, err)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "usuario123", claims.Subject)
	assert.Equal(t, "servicio-autenticacion-interno", claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{"mcp-api-interna"}, claims.Audience)
	assert.Equal(t, []string{"read:data", "write:data"}, claims.Scopes)
	assert.Equal(t, DefaultTTL, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestDefaultScopes(t *testing.T) {
	a := newAuth(t)
	token, err := a.GenerateToken("u", nil, time.Minute)
	require.NoError(t, err)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, DefaultScopes, claims.Scopes)
}

func TestValidateRejects(t *testing.T) {
	a := newAuth(t)

	tests := map[string]*Auth{
		"wrong secret":    newAuth(t, func(c *config.AuthConfig) { c.SecretKey = "other" }),
		"wrong issuer":    newAuth(t, func(c *config.AuthConfig) { c.Issuer = "someone-else" }),
		"wrong audience":  newAuth(t, func(c *config.AuthConfig) { c.Audience = "another-api" }),
		"wrong algorithm": newAuth(t, func(c *config.AuthConfig) { c.Algorithm = "HS512" }),
	}
	for name, issuer := range tests {
		t.Run(name, func(t *testing.T) {
			token, err := issuer.GenerateToken("u", nil, time.Minute)
			require.NoError(t, err)
			_, err = a.ValidateToken(token)
			assert.Error(t, err)
		})
	}

	t.Run("expired", func(t *testing.T) {
		past := newAuth(t)
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, err := past.GenerateToken("u", nil, time.Hour)
		require.NoError(t, err)
		_, err = a.ValidateToken(token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := a.ValidateToken("not.a.token")
		assert.Error(t, err)
	})
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Algorithm = "RS256"
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.SecretKey = ""
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	a := newAuth(t)
	e := echo.New()
	e.GET("/mcp", func(c echo.Context) error {
		claims, ok := ClaimsFromContext(c.Request().Context())
		require.True(t, ok)
		return c.String(http.StatusOK, claims.Subject)
	}, a.Middleware())

	token, err := a.GenerateToken("agent-1", nil, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"lower case scheme", "bearer " + token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"basic", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "agent-1", rec.Body.String())
			}
		})
	}
}

func TestClaimsFromContextEmpty(t *testing.T) {
	_, ok := ClaimsFromContext(context.Background())
	assert.False(t, ok)
}
