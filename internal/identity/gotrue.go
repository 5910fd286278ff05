package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haircutfun/haircutfun/internal/config"
	"github.com/haircutfun/haircutfun/internal/metrics"
	"golang.org/x/oauth2"
)

// Session is the token pair GoTrue issues after a successful login
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// APIError is a non-2xx answer from GoTrue
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gotrue returned %d: %s", e.StatusCode, e.Message)
}

// GoTrue is a minimal client for the Supabase auth API
type GoTrue struct {
	baseURL string
	anonKey string
	client  *http.Client
}

// NewGoTrue creates a GoTrue client for the configured project
func NewGoTrue(cfg config.SupabaseConfig, client *http.Client) *GoTrue {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoTrue{
		baseURL: strings.TrimRight(cfg.URL, "/") + "/auth/v1",
		anonKey: cfg.AnonKey,
		client:  client,
	}
}

// AuthorizeURL returns the provider login URL and the PKCE verifier the
// callback must present. The verifier is kept in a cookie between the two.
func (g *GoTrue) AuthorizeURL(provider, redirectTo string) (string, string) {
	verifier := oauth2.GenerateVerifier()

	q := url.Values{}
	q.Set("provider", provider)
	q.Set("redirect_to", redirectTo)
	q.Set("code_challenge", oauth2.S256ChallengeFromVerifier(verifier))
	q.Set("code_challenge_method", "s256")

	return g.baseURL + "/authorize?" + q.Encode(), verifier
}

// ExchangeCode trades an authorization code for a session
func (g *GoTrue) ExchangeCode(ctx context.Context, code, verifier string) (*Session, error) {
	body, err := json.Marshal(map[string]string{
		"auth_code":     code,
		"code_verifier": verifier,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token request: %w", err)
	}

	var session Session
	if err := g.do(ctx, "token", http.MethodPost, "/token?grant_type=pkce", "", body, &session); err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	if session.AccessToken == "" {
		return nil, fmt.Errorf("failed to exchange code: empty access token")
	}
	return &session, nil
}

// SignOut revokes the session behind accessToken
func (g *GoTrue) SignOut(ctx context.Context, accessToken string) error {
	if err := g.do(ctx, "logout", http.MethodPost, "/logout", accessToken, nil, nil); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

func (g *GoTrue) do(ctx context.Context, operation, method, path, bearer string, body []byte, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordProviderCall("gotrue", operation, time.Since(start).Seconds(), err)
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", g.anonKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
