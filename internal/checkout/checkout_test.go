package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/haircutfun/haircutfun/internal/billing"
	"github.com/haircutfun/haircutfun/internal/config"
	"github.com/haircutfun/haircutfun/internal/database"
	"github.com/haircutfun/haircutfun/internal/identity"
	"github.com/haircutfun/haircutfun/internal/logging"
	"github.com/haircutfun/haircutfun/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
)

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) GetCurrentSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	args := m.Called(ctx, userID)
	sub, _ := args.Get(0).(*models.Subscription)
	return sub, args.Error(1)
}

func (m *MockRepo) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	return m.Called(ctx, sub).Error(0)
}

type MockProfiles struct {
	mock.Mock
}

func (m *MockProfiles) GetOrCreate(ctx context.Context, user *identity.User) (*models.UserProfile, error) {
	args := m.Called(ctx, user)
	p, _ := args.Get(0).(*models.UserProfile)
	return p, args.Error(1)
}

type MockProvider struct {
	mock.Mock
	billing.Provider
}

func (m *MockProvider) CreateCustomer(ctx context.Context, email, userID string) (*stripe.Customer, error) {
	args := m.Called(ctx, email, userID)
	c, _ := args.Get(0).(*stripe.Customer)
	return c, args.Error(1)
}

func (m *MockProvider) GetPrice(ctx context.Context, priceID string) (*stripe.Price, error) {
	args := m.Called(ctx, priceID)
	p, _ := args.Get(0).(*stripe.Price)
	return p, args.Error(1)
}

func (m *MockProvider) CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (*stripe.CheckoutSession, error) {
	args := m.Called(ctx, params)
	s, _ := args.Get(0).(*stripe.CheckoutSession)
	return s, args.Error(1)
}

func (m *MockProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	args := m.Called(ctx, customerID, returnURL)
	s, _ := args.Get(0).(*stripe.BillingPortalSession)
	return s, args.Error(1)
}

var testUser = &identity.User{ID: "user-1", Email: "ada@example.com"}

func testConfig() config.StripeConfig {
	return config.StripeConfig{
		ProPriceID:      "price_pro",
		PremiumPriceID:  "price_premium",
		SuccessURL:      "https://haircut.fun/pricing/success",
		CancelURL:       "https://haircut.fun/pricing",
		PortalReturnURL: "https://haircut.fun/account",
	}
}

func newTestService() (*Service, *MockRepo, *MockProfiles, *MockProvider) {
	repo := &MockRepo{}
	profiles := &MockProfiles{}
	provider := &MockProvider{}
	return NewService(repo, profiles, provider, testConfig(), logging.Nop()), repo, profiles, provider
}

func TestCreateCheckoutSessionNewCustomer(t *testing.T) {
	svc, repo, profiles, provider := newTestService()
	ctx := context.Background()

	profiles.On("GetOrCreate", ctx, testUser).Return(&models.UserProfile{UserID: "user-1", Email: "ada@example.com"}, nil)
	repo.On("GetCurrentSubscription", ctx, "user-1").Return(nil, database.ErrNotFound)
	provider.On("GetPrice", ctx, "price_pro").Return(&stripe.Price{ID: "price_pro", Active: true}, nil)
	provider.On("CreateCustomer", ctx, "ada@example.com", "user-1").Return(&stripe.Customer{ID: "cus_1"}, nil)
	repo.On("UpsertSubscription", ctx, mock.MatchedBy(func(s *models.Subscription) bool {
		return s.UserID == "user-1" && s.StripeCustomerID == "cus_1" &&
			s.Status == models.SubscriptionStatusNone && s.StripeSubscriptionID == ""
	})).Return(nil)
	provider.On("CreateCheckoutSession", ctx, mock.MatchedBy(func(p billing.CheckoutParams) bool {
		return p.CustomerID == "cus_1" && p.PriceID == "price_pro" &&
			p.Metadata["userId"] == "user-1" && p.Metadata["planType"] == "pro" &&
			p.SuccessURL == "https://haircut.fun/pricing/success"
	})).Return(&stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/cs_1"}, nil)

	sess, err := svc.CreateCheckoutSession(ctx, testUser, models.PlanPro)
	require.NoError(t, err)
	assert.Equal(t, "cs_1", sess.ID)
	assert.Equal(t, "https://checkout.stripe.com/cs_1", sess.URL)

	repo.AssertExpectations(t)
	provider.AssertExpectations(t)
}

func TestCreateCheckoutSessionReusesCustomer(t *testing.T) {
	svc, repo, profiles, provider := newTestService()
	ctx := context.Background()

	profiles.On("GetOrCreate", ctx, testUser).Return(&models.UserProfile{UserID: "user-1", Email: "ada@example.com"}, nil)
	repo.On("GetCurrentSubscription", ctx, "user-1").Return(&models.Subscription{
		UserID: "user-1", StripeCustomerID: "cus_existing", Status: models.SubscriptionStatusCanceled, PlanType: models.PlanPro,
	}, nil)
	provider.On("GetPrice", ctx, "price_premium").Return(&stripe.Price{ID: "price_premium", Active: true}, nil)
	provider.On("CreateCheckoutSession", ctx, mock.MatchedBy(func(p billing.CheckoutParams) bool {
		return p.CustomerID == "cus_existing" && p.Metadata["planType"] == "premium"
	})).Return(&stripe.CheckoutSession{ID: "cs_2"}, nil)

	_, err := svc.CreateCheckoutSession(ctx, testUser, models.PlanPremium)
	require.NoError(t, err)

	provider.AssertNotCalled(t, "CreateCustomer", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "UpsertSubscription", mock.Anything, mock.Anything)
}

func TestCreateCheckoutSessionRejectsProAccess(t *testing.T) {
	svc, _, profiles, provider := newTestService()
	ctx := context.Background()

	profiles.On("GetOrCreate", ctx, testUser).Return(&models.UserProfile{UserID: "user-1", HasProAccess: true}, nil)

	_, err := svc.CreateCheckoutSession(ctx, testUser, models.PlanPro)
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
	provider.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
}

func TestCreateCheckoutSessionRejectsSamePlan(t *testing.T) {
	svc, repo, profiles, _ := newTestService()
	ctx := context.Background()

	profiles.On("GetOrCreate", ctx, testUser).Return(&models.UserProfile{UserID: "user-1"}, nil)
	repo.On("GetCurrentSubscription", ctx, "user-1").Return(&models.Subscription{
		Status: models.SubscriptionStatusActive, PlanType: models.PlanPro,
	}, nil)

	_, err := svc.CreateCheckoutSession(ctx, testUser, models.PlanPro)
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
}

func TestCreateCheckoutSessionRejectsOtherPaidPlan(t *testing.T) {
	tests := []struct {
		name    string
		current *models.Subscription
		plan    models.PlanType
	}{
		{"pro buying premium", &models.Subscription{StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1", Status: models.SubscriptionStatusActive, PlanType: models.PlanPro}, models.PlanPremium},
		{"premium buying pro", &models.Subscription{StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1", Status: models.SubscriptionStatusActive, PlanType: models.PlanPremium}, models.PlanPro},
		{"past due pro buying premium", &models.Subscription{StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1", Status: models.SubscriptionStatusPastDue, PlanType: models.PlanPro}, models.PlanPremium},
		{"trialing premium buying pro", &models.Subscription{StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1", Status: models.SubscriptionStatusTrialing, PlanType: models.PlanPremium}, models.PlanPro},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, profiles, provider := newTestService()
			ctx := context.Background()

			profiles.On("GetOrCreate", ctx, testUser).Return(&models.UserProfile{UserID: "user-1"}, nil)
			repo.On("GetCurrentSubscription", ctx, "user-1").Return(tt.current, nil)

			_, err := svc.CreateCheckoutSession(ctx, testUser, tt.plan)
			assert.ErrorIs(t, err, ErrAlreadySubscribed)
			provider.AssertNotCalled(t, "GetPrice", mock.Anything, mock.Anything)
			provider.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateCheckoutSessionPriceMismatch(t *testing.T) {
	svc, repo, profiles, provider := newTestService()
	ctx := context.Background()

	missing := &stripe.Error{Code: stripe.ErrorCodeResourceMissing, Msg: "No such price: 'price_pro'"}
	profiles.On("GetOrCreate", ctx, testUser).Return(&models.UserProfile{UserID: "user-1"}, nil)
	repo.On("GetCurrentSubscription", ctx, "user-1").Return(nil, database.ErrNotFound)
	provider.On("GetPrice", ctx, "price_pro").Return(nil, missing)

	_, err := svc.CreateCheckoutSession(ctx, testUser, models.PlanPro)

	var priceErr *PriceError
	require.True(t, errors.As(err, &priceErr))
	assert.Equal(t, "price_pro", priceErr.PriceID)
	assert.True(t, billing.IsNotFound(err))
}

func TestCreateCheckoutSessionInvalidPlan(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.CreateCheckoutSession(context.Background(), testUser, models.PlanFree)
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestCreatePortalSession(t *testing.T) {
	svc, repo, _, provider := newTestService()
	ctx := context.Background()

	repo.On("GetCurrentSubscription", ctx, "user-1").Return(&models.Subscription{
		StripeCustomerID: "cus_1", Status: models.SubscriptionStatusPastDue, PlanType: models.PlanPremium,
	}, nil)
	provider.On("CreatePortalSession", ctx, "cus_1", "https://haircut.fun/account").
		Return(&stripe.BillingPortalSession{URL: "https://billing.stripe.com/p/1"}, nil)

	url, err := svc.CreatePortalSession(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.com/p/1", url)
}

func TestCreatePortalSessionRequiresPaidPlan(t *testing.T) {
	tests := []struct {
		name string
		sub  *models.Subscription
		err  error
	}{
		{"no row", nil, database.ErrNotFound},
		{"canceled", &models.Subscription{StripeCustomerID: "cus_1", Status: models.SubscriptionStatusCanceled, PlanType: models.PlanPro}, nil},
		{"placeholder", &models.Subscription{StripeCustomerID: "cus_1", Status: models.SubscriptionStatusNone, PlanType: models.PlanFree}, nil},
		{"no customer", &models.Subscription{Status: models.SubscriptionStatusActive, PlanType: models.PlanPro}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, _, _ := newTestService()
			repo.On("GetCurrentSubscription", mock.Anything, "user-1").Return(tt.sub, tt.err)

			_, err := svc.CreatePortalSession(context.Background(), "user-1", "")
			assert.ErrorIs(t, err, ErrNoActiveSubscription)
		})
	}
}
