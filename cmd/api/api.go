package main

import (
	"context"
	"net/http"

	"github.com/haircutfun/haircutfun/internal/checkout"
	"github.com/haircutfun/haircutfun/internal/gallery"
	"github.com/haircutfun/haircutfun/internal/generation"
	"github.com/haircutfun/haircutfun/internal/identity"
	"github.com/haircutfun/haircutfun/internal/logging"
	"github.com/haircutfun/haircutfun/internal/metrics"
	"github.com/haircutfun/haircutfun/internal/usage"
	"github.com/haircutfun/haircutfun/pkg/models"
)

// AuthClient drives the Supabase OAuth flow
type AuthClient interface {
	AuthorizeURL(provider, redirectTo string) (string, string)
	ExchangeCode(ctx context.Context, code, verifier string) (*identity.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// ProfileService manages the caller's profile
type ProfileService interface {
	GetOrCreate(ctx context.Context, user *identity.User) (*models.UserProfile, error)
	Update(ctx context.Context, user *identity.User, fullName, avatarURL string) (*models.UserProfile, error)
}

// UsageService reports the caller's monthly allowance
type UsageService interface {
	CanGenerate(ctx context.Context, userID string) (*usage.Entitlement, error)
}

// SubscriptionService re-syncs and summarizes subscriptions
type SubscriptionService interface {
	Refresh(ctx context.Context, userID string) (*models.Subscription, error)
	Status(ctx context.Context, userID string) (*models.SubscriptionStatusView, error)
}

// CheckoutService opens Stripe checkout and portal sessions
type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, user *identity.User, plan models.PlanType) (*checkout.Session, error)
	CreatePortalSession(ctx context.Context, userID, returnURL string) (string, error)
}

// Generator renders hairstyle previews
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Result, error)
}

// GalleryService stores saved previews
type GalleryService interface {
	Save(ctx context.Context, userID string, req gallery.SaveRequest) (*models.GeneratedImage, error)
	List(ctx context.Context, userID string) ([]*models.GeneratedImage, error)
	Delete(ctx context.Context, userID, id string) error
}

// API holds the handlers' dependencies
type API struct {
	auth      AuthClient
	cookies   identity.CookieOptions
	siteURL   string
	profiles  ProfileService
	usage     UsageService
	subs      SubscriptionService
	checkout  CheckoutService
	generator Generator
	gallery   GalleryService
	webhooks  http.Handler
	checks    map[string]metrics.HealthCheck
	logger    *logging.Logger
}
