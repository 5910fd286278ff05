// Package profile manages the per-user profile row.
package profile

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/haircutfun/haircutfun/internal/identity"
	"github.com/haircutfun/haircutfun/pkg/models"
	"github.com/microcosm-cc/bluemonday"
)

const maxFullNameLength = 120

// Repository is the profile storage the service needs
type Repository interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	EnsureProfile(ctx context.Context, userID, email string) (*models.UserProfile, error)
	UpdateProfile(ctx context.Context, userID, fullName, avatarURL string) (*models.UserProfile, error)
	SetProAccess(ctx context.Context, userID string, granted bool) error
}

// ValidationError describes rejected profile input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Service manages profiles
type Service struct {
	repo   Repository
	policy *bluemonday.Policy
}

// NewService creates a profile service
func NewService(repo Repository) *Service {
	return &Service{repo: repo, policy: bluemonday.StrictPolicy()}
}

// GetOrCreate returns the caller's profile, creating it lazily
func (s *Service) GetOrCreate(ctx context.Context, user *identity.User) (*models.UserProfile, error) {
	p, err := s.repo.EnsureProfile(ctx, user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return p, nil
}

// Get returns a profile by user id
func (s *Service) Get(ctx context.Context, userID string) (*models.UserProfile, error) {
	return s.repo.GetProfile(ctx, userID)
}

// Update sets the editable fields after stripping markup
func (s *Service) Update(ctx context.Context, user *identity.User, fullName, avatarURL string) (*models.UserProfile, error) {
	fullName = strings.TrimSpace(s.policy.Sanitize(fullName))
	if len([]rune(fullName)) > maxFullNameLength {
		return nil, &ValidationError{Field: "full_name", Reason: fmt.Sprintf("must be at most %d characters", maxFullNameLength)}
	}

	avatarURL = strings.TrimSpace(avatarURL)
	if avatarURL != "" {
		u, err := url.Parse(avatarURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return nil, &ValidationError{Field: "avatar_url", Reason: "must be an http(s) URL"}
		}
	}

	if _, err := s.GetOrCreate(ctx, user); err != nil {
		return nil, err
	}

	p, err := s.repo.UpdateProfile(ctx, user.ID, fullName, avatarURL)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return p, nil
}

// GrantProAccess records a legacy one-time purchase
func (s *Service) GrantProAccess(ctx context.Context, userID string) error {
	if err := s.repo.SetProAccess(ctx, userID, true); err != nil {
		return fmt.Errorf("failed to grant pro access: %w", err)
	}
	return nil
}
