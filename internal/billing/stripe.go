package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/haircutfun/haircutfun/internal/config"
	"github.com/haircutfun/haircutfun/internal/metrics"
	"github.com/haircutfun/haircutfun/internal/tracing"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// StripeClient implements Provider with an explicitly constructed API client
type StripeClient struct {
	api *client.API
}

// NewStripeClient creates a client for the configured secret key
func NewStripeClient(cfg config.StripeConfig) *StripeClient {
	return &StripeClient{api: client.New(cfg.SecretKey, nil)}
}

// NewStripeClientWithBackends creates a client against custom backends, used by tests
func NewStripeClientWithBackends(key string, backends *stripe.Backends) *StripeClient {
	return &StripeClient{api: client.New(key, backends)}
}

func observe(ctx context.Context, operation string) (context.Context, func(error)) {
	span, ctx := tracing.StartClientSpan(ctx, "stripe", "stripe."+operation)
	start := time.Now()
	return ctx, func(err error) {
		metrics.RecordProviderCall("stripe", operation, time.Since(start).Seconds(), err)
		tracing.FinishSpan(span, err)
	}
}

// CreateCustomer creates a customer tagged with the local user id
func (s *StripeClient) CreateCustomer(ctx context.Context, email, userID string) (cust *stripe.Customer, err error) {
	ctx, done := observe(ctx, "customers.create")
	defer func() { done(err) }()

	params := &stripe.CustomerParams{
		Email:    stripe.String(email),
		Metadata: map[string]string{"userId": userID},
	}
	params.Context = ctx

	cust, err = s.api.Customers.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	return cust, nil
}

// GetSubscription fetches a subscription with its prices and products expanded
func (s *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (sub *stripe.Subscription, err error) {
	ctx, done := observe(ctx, "subscriptions.get")
	defer func() { done(err) }()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("items.data.price.product")

	sub, err = s.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions lists every subscription of a customer, newest first
func (s *StripeClient) ListSubscriptions(ctx context.Context, customerID string) (subs []*stripe.Subscription, err error) {
	ctx, done := observe(ctx, "subscriptions.list")
	defer func() { done(err) }()

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.AddExpand("data.items.data.price.product")

	iter := s.api.Subscriptions.List(params)
	for iter.Next() {
		subs = append(subs, iter.Subscription())
	}
	if err = iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

// SearchCustomersByEmail returns customers registered with email
func (s *StripeClient) SearchCustomersByEmail(ctx context.Context, email string) (customers []*stripe.Customer, err error) {
	ctx, done := observe(ctx, "customers.list")
	defer func() { done(err) }()

	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx

	iter := s.api.Customers.List(params)
	for iter.Next() {
		customers = append(customers, iter.Customer())
	}
	if err = iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	return customers, nil
}

// GetPrice fetches a price with its product expanded
func (s *StripeClient) GetPrice(ctx context.Context, priceID string) (price *stripe.Price, err error) {
	ctx, done := observe(ctx, "prices.get")
	defer func() { done(err) }()

	params := &stripe.PriceParams{}
	params.Context = ctx
	params.AddExpand("product")

	price, err = s.api.Prices.Get(priceID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get price: %w", err)
	}
	return price, nil
}

// GetProduct fetches a product
func (s *StripeClient) GetProduct(ctx context.Context, productID string) (product *stripe.Product, err error) {
	ctx, done := observe(ctx, "products.get")
	defer func() { done(err) }()

	params := &stripe.ProductParams{}
	params.Context = ctx

	product, err = s.api.Products.Get(productID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return product, nil
}

// CreateCheckoutSession creates a subscription-mode checkout session. The metadata is
// copied onto the subscription so later subscription events can be attributed.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (sess *stripe.CheckoutSession, err error) {
	ctx, done := observe(ctx, "checkout.sessions.create")
	defer func() { done(err) }()

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(p.CustomerID),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		AllowPromotionCodes: stripe.Bool(true),
		Metadata:            p.Metadata,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: p.Metadata,
		},
	}
	if userID := p.Metadata["userId"]; userID != "" {
		params.ClientReferenceID = stripe.String(userID)
	}
	params.Context = ctx

	sess, err = s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess, nil
}

// CreatePortalSession creates a billing portal session for a customer
func (s *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (sess *stripe.BillingPortalSession, err error) {
	ctx, done := observe(ctx, "billing_portal.sessions.create")
	defer func() { done(err) }()

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err = s.api.BillingPortalSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create portal session: %w", err)
	}
	return sess, nil
}
