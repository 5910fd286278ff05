package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/haircutfun/haircutfun/internal/config"
)

const defaultLeeway = 30 * time.Second

// ErrInvalidToken wraps every token validation failure
var ErrInvalidToken = errors.New("invalid access token")

// Claims is the subset of a Supabase access token the service reads
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates Supabase access tokens. Legacy projects sign with the
// shared HS256 secret; newer ones publish asymmetric keys through JWKS.
type Verifier struct {
	secret []byte
	keys   keyfunc.Keyfunc
	parser *jwt.Parser
}

// NewVerifier builds a verifier from an HS256 secret, a JWKS key source, or both
func NewVerifier(secret string, keys keyfunc.Keyfunc) (*Verifier, error) {
	if secret == "" && keys == nil {
		return nil, errors.New("either a JWT secret or a JWKS key source is required")
	}

	methods := []string{}
	if secret != "" {
		methods = append(methods, jwt.SigningMethodHS256.Name)
	}
	if keys != nil {
		methods = append(methods,
			jwt.SigningMethodRS256.Name, jwt.SigningMethodES256.Name, jwt.SigningMethodEdDSA.Alg())
	}

	return &Verifier{
		secret: []byte(secret),
		keys:   keys,
		parser: jwt.NewParser(
			jwt.WithLeeway(defaultLeeway),
			jwt.WithExpirationRequired(),
			jwt.WithValidMethods(methods),
		),
	}, nil
}

// NewVerifierFromConfig builds a verifier for the configured Supabase project
func NewVerifierFromConfig(cfg config.SupabaseConfig) (*Verifier, error) {
	var keys keyfunc.Keyfunc
	if cfg.JWKSURL != "" {
		k, err := keyfunc.NewDefault([]string{cfg.JWKSURL})
		if err != nil {
			return nil, fmt.Errorf("failed to init JWKS keyfunc: %w", err)
		}
		keys = k
	}
	return NewVerifier(cfg.JWTSecret, keys)
}

func (v *Verifier) keyFor(token *jwt.Token) (interface{}, error) {
	if token.Method.Alg() == jwt.SigningMethodHS256.Name {
		return v.secret, nil
	}
	if v.keys == nil {
		return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
	}
	return v.keys.Keyfunc(token)
}

// Verify parses and validates a token, returning the caller it identifies
func (v *Verifier) Verify(tokenString string) (*User, error) {
	var claims Claims
	token, err := v.parser.ParseWithClaims(tokenString, &claims, v.keyFor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token missing sub", ErrInvalidToken)
	}

	return &User{ID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}
