package main

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/haircutfun/haircutfun/internal/identity"
)

const defaultOAuthProvider = "google"

// safeNext keeps post-login redirects on our own site
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}

// login starts the OAuth flow and remembers the PKCE verifier in a cookie
func (api *API) login(c *gin.Context) {
	provider := c.DefaultQuery("provider", defaultOAuthProvider)

	callback := api.siteURL + "/auth/callback"
	if next := c.Query("next"); next != "" {
		callback += "?next=" + url.QueryEscape(safeNext(next))
	}

	authorizeURL, verifier := api.auth.AuthorizeURL(provider, callback)
	identity.SetVerifierCookie(c.Writer, api.cookies, verifier)
	c.Redirect(http.StatusFound, authorizeURL)
}

// callback exchanges the authorization code for a session
func (api *API) callback(c *gin.Context) {
	code := c.Query("code")
	verifier, _ := c.Cookie(identity.VerifierCookie)
	if code == "" || verifier == "" {
		c.Redirect(http.StatusFound, api.siteURL+"/auth/auth-code-error")
		return
	}

	session, err := api.auth.ExchangeCode(c.Request.Context(), code, verifier)
	if err != nil {
		api.logger.WithError(err).Warn("OAuth code exchange failed")
		c.Redirect(http.StatusFound, api.siteURL+"/auth/auth-code-error")
		return
	}

	identity.SetSessionCookies(c.Writer, api.cookies, session)
	c.Redirect(http.StatusFound, api.siteURL+safeNext(c.Query("next")))
}

// signOut revokes the session when possible and always clears the cookies
func (api *API) signOut(c *gin.Context) {
	if token, err := identity.TokenFromRequest(c.Request); err == nil {
		if err := api.auth.SignOut(c.Request.Context(), token); err != nil {
			api.logger.WithError(err).Warn("Provider sign-out failed")
		}
	}

	identity.ClearSessionCookies(c.Writer, api.cookies)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
