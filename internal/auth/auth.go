// Package auth verifies and issues the HMAC signed bearer tokens that guard
// the MCP endpoint.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kaz/mcpsql/internal/config"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

const DefaultTTL = time.Hour

var DefaultScopes = []string{"read:data"}

var ErrMissingToken = errors.New("missing bearer token")

type Auth struct {
	secret   []byte
	method   jwt.SigningMethod
	issuer   string
	audience string
	now      func() time.Time
}

type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

func New(cfg config.AuthConfig) (*Auth, error) {
	method := jwt.GetSigningMethod(cfg.Algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key is required")
	}
	return &Auth{
		secret:   []byte(cfg.SecretKey),
		method:   method,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      time.Now,
	}, nil
}

// GenerateToken issues a token for subject valid for ttl.
func (a *Auth) GenerateToken(subject string, scopes []string, ttl time.Duration) (string, error) {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := a.now()
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			Audience:  jwt.ClaimStrings{a.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(a.method, claims).SignedString(a.secret)
}

// ValidateToken checks signature, algorithm, expiry, issuer and audience.
func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{a.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get(echo.HeaderAuthorization)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

// Middleware rejects requests without a valid token and stores the claims
// in the request context.
func (a *Auth) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := BearerToken(c.Request())
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			claims, err := a.ValidateToken(tokenStr)
			if err != nil {
				log.Infof("auth: rejected token from %s: %v", c.RealIP(), err)
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			req := c.Request()
			c.SetRequest(req.WithContext(WithClaims(req.Context(), claims)))
			c.Set("claims", claims)
			return next(c)
		}
	}
}

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims of an authenticated request, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}
