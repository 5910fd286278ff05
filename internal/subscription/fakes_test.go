package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/haircutfun/haircutfun/internal/billing"
	"github.com/haircutfun/haircutfun/internal/database"
	"github.com/haircutfun/haircutfun/pkg/models"
	"github.com/stripe/stripe-go/v79"
)

type memRepo struct {
	mu       sync.Mutex
	clock    time.Time
	profiles map[string]*models.UserProfile
	subs     []*models.Subscription
}

func newMemRepo() *memRepo {
	return &memRepo{
		clock:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		profiles: make(map[string]*models.UserProfile),
	}
}

func (m *memRepo) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memRepo) GetProfile(_ context.Context, userID string) (*models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return p, nil
}

func (m *memRepo) latest(match func(*models.Subscription) bool) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pick *models.Subscription
	for _, s := range m.subs {
		if match(s) && (pick == nil || s.UpdatedAt.After(pick.UpdatedAt)) {
			pick = s
		}
	}
	if pick == nil {
		return nil, database.ErrNotFound
	}
	c := *pick
	return &c, nil
}

func (m *memRepo) GetCurrentSubscription(_ context.Context, userID string) (*models.Subscription, error) {
	return m.latest(func(s *models.Subscription) bool { return s.UserID == userID })
}

func (m *memRepo) GetSubscriptionByCustomerID(_ context.Context, customerID string) (*models.Subscription, error) {
	return m.latest(func(s *models.Subscription) bool { return s.StripeCustomerID == customerID })
}

func (m *memRepo) GetSubscriptionByStripeID(_ context.Context, subscriptionID string) (*models.Subscription, error) {
	return m.latest(func(s *models.Subscription) bool { return s.StripeSubscriptionID == subscriptionID })
}

func (m *memRepo) UpsertSubscription(_ context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	if sub.StripeSubscriptionID != "" {
		for _, s := range m.subs {
			if s.StripeSubscriptionID == sub.StripeSubscriptionID {
				s.UserID = sub.UserID
				if sub.StripeCustomerID != "" {
					s.StripeCustomerID = sub.StripeCustomerID
				}
				s.Status = sub.Status
				s.PlanType = sub.PlanType
				if sub.CurrentPeriodEnd != nil {
					s.CurrentPeriodStart = sub.CurrentPeriodStart
					s.CurrentPeriodEnd = sub.CurrentPeriodEnd
				}
				s.UpdatedAt = now
				sub.ID, sub.CreatedAt, sub.UpdatedAt = s.ID, s.CreatedAt, now
				return nil
			}
		}
	}
	c := *sub
	c.ID = sub.StripeSubscriptionID + "-row"
	c.CreatedAt, c.UpdatedAt = now, now
	m.subs = append(m.subs, &c)
	sub.ID, sub.CreatedAt, sub.UpdatedAt = c.ID, now, now
	return nil
}

func (m *memRepo) update(subscriptionID string, apply func(*models.Subscription)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.StripeSubscriptionID == subscriptionID {
			apply(s)
			s.UpdatedAt = m.tick()
			return nil
		}
	}
	return database.ErrNotFound
}

func (m *memRepo) UpdateSubscriptionState(_ context.Context, subscriptionID string, status models.SubscriptionStatus, plan models.PlanType) error {
	return m.update(subscriptionID, func(s *models.Subscription) {
		s.Status = status
		s.PlanType = plan
	})
}

func (m *memRepo) UpdateSubscriptionStatus(_ context.Context, subscriptionID string, status models.SubscriptionStatus) error {
	return m.update(subscriptionID, func(s *models.Subscription) { s.Status = status })
}

func (m *memRepo) UpdateSupersededSubscription(_ context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.StripeSubscriptionID == sub.StripeSubscriptionID {
			s.Status = sub.Status
			s.PlanType = sub.PlanType
			if sub.CurrentPeriodEnd != nil {
				s.CurrentPeriodStart = sub.CurrentPeriodStart
				s.CurrentPeriodEnd = sub.CurrentPeriodEnd
			}
			return nil
		}
	}
	return database.ErrNotFound
}

type usageRow struct {
	used  int
	limit int
}

type fakeLedger struct {
	rows   map[string]*usageRow
	resets int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: make(map[string]*usageRow)}
}

func (f *fakeLedger) row(userID string) *usageRow {
	r, ok := f.rows[userID]
	if !ok {
		r = &usageRow{limit: models.FreePlanLimit}
		f.rows[userID] = r
	}
	return r
}

func (f *fakeLedger) ResetForPlan(_ context.Context, userID string, plan models.PlanType) error {
	r := f.row(userID)
	r.used = 0
	r.limit = models.LimitFor(plan)
	f.resets++
	return nil
}

func (f *fakeLedger) EnsureLimit(_ context.Context, userID string, plan models.PlanType) error {
	f.row(userID).limit = models.LimitFor(plan)
	return nil
}

type fakeAccess struct {
	granted map[string]bool
}

func (f *fakeAccess) GrantProAccess(_ context.Context, userID string) error {
	if f.granted == nil {
		f.granted = make(map[string]bool)
	}
	f.granted[userID] = true
	return nil
}

type fakeNotifier struct {
	paymentFailed []string
	canceled      []string
}

func (f *fakeNotifier) PaymentFailed(_ context.Context, to string) error {
	f.paymentFailed = append(f.paymentFailed, to)
	return nil
}

func (f *fakeNotifier) SubscriptionCanceled(_ context.Context, to string) error {
	f.canceled = append(f.canceled, to)
	return nil
}

type fakeProvider struct {
	subs          map[string]*stripe.Subscription
	byCustomer    map[string][]*stripe.Subscription
	customers     map[string][]*stripe.Customer
	prices        map[string]*stripe.Price
	products      map[string]*stripe.Product
	subscriptionC int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		subs:       make(map[string]*stripe.Subscription),
		byCustomer: make(map[string][]*stripe.Subscription),
		customers:  make(map[string][]*stripe.Customer),
		prices:     make(map[string]*stripe.Price),
		products:   make(map[string]*stripe.Product),
	}
}

func notFound() error {
	return &stripe.Error{Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: 404}
}

func (f *fakeProvider) add(sub *stripe.Subscription) {
	f.subs[sub.ID] = sub
	if sub.Customer != nil {
		f.byCustomer[sub.Customer.ID] = append(f.byCustomer[sub.Customer.ID], sub)
	}
}

func (f *fakeProvider) CreateCustomer(_ context.Context, email, userID string) (*stripe.Customer, error) {
	return &stripe.Customer{ID: "cus_new", Email: email}, nil
}

func (f *fakeProvider) GetSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	f.subscriptionC++
	s, ok := f.subs[id]
	if !ok {
		return nil, notFound()
	}
	return s, nil
}

func (f *fakeProvider) ListSubscriptions(_ context.Context, customerID string) ([]*stripe.Subscription, error) {
	return f.byCustomer[customerID], nil
}

func (f *fakeProvider) SearchCustomersByEmail(_ context.Context, email string) ([]*stripe.Customer, error) {
	return f.customers[email], nil
}

func (f *fakeProvider) GetPrice(_ context.Context, id string) (*stripe.Price, error) {
	p, ok := f.prices[id]
	if !ok {
		return nil, notFound()
	}
	return p, nil
}

func (f *fakeProvider) GetProduct(_ context.Context, id string) (*stripe.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, notFound()
	}
	return p, nil
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, _ billing.CheckoutParams) (*stripe.CheckoutSession, error) {
	return &stripe.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.test/cs_test"}, nil
}

func (f *fakeProvider) CreatePortalSession(_ context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	return &stripe.BillingPortalSession{ID: "bps_test", URL: "https://billing.stripe.test/bps_test"}, nil
}

func stripeSub(id, customer string, status stripe.SubscriptionStatus, priceID string) *stripe.Subscription {
	return &stripe.Subscription{
		ID:                 id,
		Customer:           &stripe.Customer{ID: customer},
		Status:             status,
		Created:            time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Unix(),
		CurrentPeriodStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Unix(),
		CurrentPeriodEnd:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC).Unix(),
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{Price: &stripe.Price{ID: priceID}}},
		},
	}
}
