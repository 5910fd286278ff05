package identity

import (
	"net/http"
	"time"
)

// CookieOptions controls the attributes of session cookies
type CookieOptions struct {
	Domain string
	Secure bool
}

func (o CookieOptions) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   o.Domain,
		MaxAge:   maxAge,
		Secure:   o.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// SetSessionCookies stores the session tokens and drops the PKCE verifier
func SetSessionCookies(w http.ResponseWriter, opts CookieOptions, s *Session) {
	maxAge := s.ExpiresIn
	if maxAge <= 0 {
		maxAge = int(time.Hour.Seconds())
	}

	http.SetCookie(w, opts.cookie(AccessTokenCookie, s.AccessToken, maxAge))
	if s.RefreshToken != "" {
		http.SetCookie(w, opts.cookie(RefreshTokenCookie, s.RefreshToken, int((30*24*time.Hour).Seconds())))
	}
	http.SetCookie(w, opts.cookie(VerifierCookie, "", -1))
}

// SetVerifierCookie keeps the PKCE verifier until the OAuth callback
func SetVerifierCookie(w http.ResponseWriter, opts CookieOptions, verifier string) {
	http.SetCookie(w, opts.cookie(VerifierCookie, verifier, int((10*time.Minute).Seconds())))
}

// ClearSessionCookies expires every session cookie
func ClearSessionCookies(w http.ResponseWriter, opts CookieOptions) {
	for _, name := range SessionCookies {
		http.SetCookie(w, opts.cookie(name, "", -1))
	}
}
