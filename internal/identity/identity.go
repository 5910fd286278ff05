// Package identity verifies Supabase sessions and drives the GoTrue OAuth flow.
package identity

import (
	"errors"
	"net/http"
	"strings"
)

// Supabase session cookie names
const (
	AccessTokenCookie  = "sb-access-token"
	RefreshTokenCookie = "sb-refresh-token"
	VerifierCookie     = "sb-pkce-verifier"
)

// SessionCookies is the fixed set of cookies cleared on sign-out
var SessionCookies = []string{AccessTokenCookie, RefreshTokenCookie, VerifierCookie}

// ErrNoToken is returned when a request carries no access token
var ErrNoToken = errors.New("no access token")

// User is the authenticated caller
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// TokenFromRequest extracts the access token from the Authorization header,
// falling back to the session cookie.
func TokenFromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && strings.TrimSpace(parts[1]) != "" {
			return strings.TrimSpace(parts[1]), nil
		}
	}

	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	return "", ErrNoToken
}
