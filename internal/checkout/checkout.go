// Package checkout creates Stripe checkout and billing portal sessions.
package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/haircutfun/haircutfun/internal/billing"
	"github.com/haircutfun/haircutfun/internal/config"
	"github.com/haircutfun/haircutfun/internal/database"
	"github.com/haircutfun/haircutfun/internal/identity"
	"github.com/haircutfun/haircutfun/internal/logging"
	"github.com/haircutfun/haircutfun/internal/metrics"
	"github.com/haircutfun/haircutfun/internal/subscription"
	"github.com/haircutfun/haircutfun/pkg/models"
)

var (
	// ErrAlreadySubscribed is returned when the user already holds paid access
	ErrAlreadySubscribed = errors.New("user already has an active subscription")

	// ErrInvalidPlan is returned for plans that cannot be purchased
	ErrInvalidPlan = errors.New("plan cannot be purchased")

	// ErrNoActiveSubscription is returned when a portal is requested without a paid subscription
	ErrNoActiveSubscription = errors.New("no active subscription")
)

// PriceError means the configured price could not be used, commonly a test/live key mismatch
type PriceError struct {
	PriceID string
	Err     error
}

func (e *PriceError) Error() string {
	return fmt.Sprintf("price %s unavailable: %v", e.PriceID, e.Err)
}

func (e *PriceError) Unwrap() error {
	return e.Err
}

// Repository is the storage checkout needs
type Repository interface {
	GetCurrentSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
}

// Profiles loads the caller's profile
type Profiles interface {
	GetOrCreate(ctx context.Context, user *identity.User) (*models.UserProfile, error)
}

// Session is a created checkout session
type Session struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

// Service orchestrates checkout and portal sessions
type Service struct {
	repo     Repository
	profiles Profiles
	provider billing.Provider
	catalog  billing.PriceCatalog
	cfg      config.StripeConfig
	logger   *logging.Logger
}

// NewService creates a checkout service
func NewService(repo Repository, profiles Profiles, provider billing.Provider, cfg config.StripeConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		repo:     repo,
		profiles: profiles,
		provider: provider,
		catalog:  billing.NewPriceCatalog(cfg),
		cfg:      cfg,
		logger:   logger,
	}
}

func (s *Service) currentSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := s.repo.GetCurrentSubscription(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return sub, nil
}

// customerFor returns the user's Stripe customer id, creating and persisting one on first use
func (s *Service) customerFor(ctx context.Context, user *identity.User, email string, current *models.Subscription) (string, error) {
	if current != nil && current.StripeCustomerID != "" {
		return current.StripeCustomerID, nil
	}

	cust, err := s.provider.CreateCustomer(ctx, email, user.ID)
	if err != nil {
		return "", err
	}

	placeholder := &models.Subscription{
		UserID:           user.ID,
		StripeCustomerID: cust.ID,
		Status:           models.SubscriptionStatusNone,
		PlanType:         models.PlanFree,
	}
	if err := s.repo.UpsertSubscription(ctx, placeholder); err != nil {
		return "", fmt.Errorf("failed to save customer: %w", err)
	}

	s.logger.WithUserID(user.ID).WithCustomerID(cust.ID).Info("Created Stripe customer")
	return cust.ID, nil
}

// CreateCheckoutSession starts a subscription checkout for plan
func (s *Service) CreateCheckoutSession(ctx context.Context, user *identity.User, plan models.PlanType) (*Session, error) {
	priceID, ok := s.catalog.PriceForPlan(plan)
	if !ok {
		return nil, ErrInvalidPlan
	}

	profile, err := s.profiles.GetOrCreate(ctx, user)
	if err != nil {
		return nil, err
	}
	if profile.HasProAccess {
		return nil, ErrAlreadySubscribed
	}

	current, err := s.currentSubscription(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	// Plan changes for paying users go through the billing portal so only one subscription stays live
	if current.HasPaidPlan() {
		return nil, ErrAlreadySubscribed
	}

	price, err := s.provider.GetPrice(ctx, priceID)
	if err != nil {
		return nil, &PriceError{PriceID: priceID, Err: err}
	}
	if !price.Active {
		return nil, &PriceError{PriceID: priceID, Err: errors.New("price is not active")}
	}

	email := profile.Email
	if email == "" {
		email = user.Email
	}
	customerID, err := s.customerFor(ctx, user, email, current)
	if err != nil {
		return nil, err
	}

	sess, err := s.provider.CreateCheckoutSession(ctx, billing.CheckoutParams{
		CustomerID: customerID,
		PriceID:    priceID,
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
		Metadata: map[string]string{
			subscription.MetadataUserID:   user.ID,
			subscription.MetadataPlanType: string(plan),
		},
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordCheckoutSession(string(plan))
	s.logger.WithUserID(user.ID).WithCustomerID(customerID).WithField("plan", plan).Info("Checkout session created")
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

// CreatePortalSession returns a billing portal URL for the user's paid subscription.
// An empty returnURL uses the configured default.
func (s *Service) CreatePortalSession(ctx context.Context, userID, returnURL string) (string, error) {
	current, err := s.currentSubscription(ctx, userID)
	if err != nil {
		return "", err
	}
	if !current.HasPaidPlan() || current.StripeCustomerID == "" {
		return "", ErrNoActiveSubscription
	}

	if returnURL == "" {
		returnURL = s.cfg.PortalReturnURL
	}
	sess, err := s.provider.CreatePortalSession(ctx, current.StripeCustomerID, returnURL)
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}
