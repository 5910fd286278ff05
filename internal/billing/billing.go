// Package billing wraps the Stripe API behind a small provider interface.
package billing

import (
	"context"
	"errors"

	"github.com/haircutfun/haircutfun/internal/config"
	"github.com/haircutfun/haircutfun/pkg/models"
	"github.com/stripe/stripe-go/v79"
)

// CheckoutParams describes a subscription-mode checkout session
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// Provider is the subset of the commerce API the service relies on
type Provider interface {
	CreateCustomer(ctx context.Context, email, userID string) (*stripe.Customer, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error)
	SearchCustomersByEmail(ctx context.Context, email string) ([]*stripe.Customer, error)
	GetPrice(ctx context.Context, priceID string) (*stripe.Price, error)
	GetProduct(ctx context.Context, productID string) (*stripe.Product, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*stripe.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error)
}

// IsNotFound reports whether err is Stripe's resource_missing error
func IsNotFound(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}

// PriceCatalog maps plans to configured price ids
type PriceCatalog struct {
	Pro     string
	Premium string
}

// NewPriceCatalog builds the catalog from configuration
func NewPriceCatalog(cfg config.StripeConfig) PriceCatalog {
	return PriceCatalog{Pro: cfg.ProPriceID, Premium: cfg.PremiumPriceID}
}

// PriceForPlan returns the price id configured for a paid plan
func (p PriceCatalog) PriceForPlan(plan models.PlanType) (string, bool) {
	switch plan {
	case models.PlanPro:
		return p.Pro, p.Pro != ""
	case models.PlanPremium:
		return p.Premium, p.Premium != ""
	}
	return "", false
}

// PlanForPrice returns the plan a configured price id belongs to
func (p PriceCatalog) PlanForPrice(priceID string) (models.PlanType, bool) {
	switch {
	case priceID == "":
		return "", false
	case priceID == p.Premium:
		return models.PlanPremium, true
	case priceID == p.Pro:
		return models.PlanPro, true
	}
	return "", false
}
