package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/haircutfun/haircutfun/internal/identity"
)

const (
	AuthContextKey = "user_id"
	UserContextKey = "user"
)

// TokenVerifier validates an access token and returns the caller
type TokenVerifier interface {
	Verify(token string) (*identity.User, error)
}

func authenticate(c *gin.Context, verifier TokenVerifier) (*identity.User, error) {
	token, err := identity.TokenFromRequest(c.Request)
	if err != nil {
		return nil, err
	}
	return verifier.Verify(token)
}

func setUser(c *gin.Context, user *identity.User) {
	c.Set(UserContextKey, user)
	c.Set(AuthContextKey, user.ID)
}

// RequireAuth rejects requests without a valid Supabase session.
// A caller already attached by OptionalAuth is not verified again.
func RequireAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetUser(c); ok {
			c.Next()
			return
		}

		user, err := authenticate(c, verifier)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		setUser(c, user)
		c.Next()
	}
}

// OptionalAuth attaches the caller when a valid session is present and
// lets anonymous requests through otherwise
func OptionalAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user, err := authenticate(c, verifier); err == nil {
			setUser(c, user)
		}
		c.Next()
	}
}

// GetUser retrieves the authenticated caller from the context
func GetUser(c *gin.Context) (*identity.User, bool) {
	value, exists := c.Get(UserContextKey)
	if !exists {
		return nil, false
	}

	user, ok := value.(*identity.User)
	return user, ok && user != nil
}

// GetUserID retrieves the user ID from the context
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(AuthContextKey)
	if !exists {
		return "", false
	}

	userIDStr, ok := userID.(string)
	return userIDStr, ok
}
