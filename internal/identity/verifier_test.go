package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func signHS256(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func validClaims(sub string) Claims {
	return Claims{
		Email: "ada@example.com",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestVerifyHS256(t *testing.T) {
	v, err := NewVerifier(testSecret, nil)
	require.NoError(t, err)

	user, err := v.Verify(signHS256(t, validClaims("user-1")))
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, "authenticated", user.Role)
}

func TestVerifyRejects(t *testing.T) {
	v, err := NewVerifier(testSecret, nil)
	require.NoError(t, err)

	expired := validClaims("user-1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	noExpiry := validClaims("user-1")
	noExpiry.ExpiresAt = nil

	wrongSecret, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("user-1")).SignedString([]byte("another-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", signHS256(t, expired)},
		{"missing exp", signHS256(t, noExpiry)},
		{"missing sub", signHS256(t, validClaims(""))},
		{"wrong secret", wrongSecret},
		{"garbage", "not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.True(t, errors.Is(err, ErrInvalidToken), "got %v", err)
		})
	}
}

func TestNewVerifierRequiresKeyMaterial(t *testing.T) {
	_, err := NewVerifier("", nil)
	assert.Error(t, err)
}

func TestVerifyJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks, err := json.Marshal(map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "test-key",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	})
	require.NoError(t, err)

	keys, err := keyfunc.NewJWKSetJSON(jwks)
	require.NoError(t, err)

	v, err := NewVerifier("", keys)
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("user-rsa"))
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	user, err := v.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-rsa", user.ID)

	// HS256 is not accepted when no shared secret is configured
	_, err = v.Verify(signHS256(t, validClaims("user-1")))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := TokenFromRequest(req)
	assert.ErrorIs(t, err, ErrNoToken)

	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "cookie-token"})
	token, err := TokenFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "cookie-token", token)

	req.Header.Set("Authorization", "Bearer header-token")
	token, err = TokenFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "header-token", token, "header wins over cookie")

	req.Header.Set("Authorization", "Basic abc")
	token, err = TokenFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "cookie-token", token)
}
