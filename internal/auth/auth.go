// Package auth validates bearer tokens against a remote JWKS and binds
// requests to session handles.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
)

// SessionHeader carries the session handle a client learned from its
// created notice.
const SessionHeader = "X-Strimo-Session-ID"

type Auth struct {
	jwks *keyfunc.JWKS
}

func New(jwksURL string, logger zerolog.Logger) (*Auth, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			logger.Error().Err(err).Msg("refresh jwks")
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, err
	}

	return &Auth{jwks: jwks}, nil
}

// UserID validates the request's bearer token and returns its sub claim.
func (a *Auth) UserID(r *http.Request) (string, error) {
	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("invalid authorization http header")
	}

	token, err := jwt.Parse(parts[1], a.jwks.Keyfunc)
	if err != nil {
		return "", errors.New("failed to parse the JWT")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("the token is not valid")
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return "", errors.New("missing sub claim")
	}

	return sub, nil
}

// SessionID returns the caller's session handle, empty when absent.
func (a *Auth) SessionID(r *http.Request) string {
	return r.Header.Get(SessionHeader)
}
