// Package subscription keeps local subscription state in step with Stripe.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haircutfun/haircutfun/internal/billing"
	"github.com/haircutfun/haircutfun/internal/cache"
	"github.com/haircutfun/haircutfun/internal/database"
	"github.com/haircutfun/haircutfun/internal/logging"
	"github.com/haircutfun/haircutfun/internal/metrics"
	"github.com/haircutfun/haircutfun/internal/notify"
	"github.com/haircutfun/haircutfun/internal/tracing"
	"github.com/haircutfun/haircutfun/pkg/models"
	"github.com/stripe/stripe-go/v79"
)

var (
	// ErrNoSubscription is returned by Refresh when Stripe knows no subscription for the user
	ErrNoSubscription = errors.New("no subscription found")

	// ErrUnknownCustomer means an event could not be tied to a local user
	ErrUnknownCustomer = errors.New("no user for customer")

	// ErrStatusTimeout is returned when a status lookup outlives its deadline
	ErrStatusTimeout = errors.New("subscription status lookup timed out")
)

// Triggers recorded on transitions
const (
	TriggerCheckout = "checkout"
	TriggerWebhook  = "webhook"
	TriggerRefresh  = "refresh"
	TriggerSweeper  = "sweeper"
)

// Repository is the storage the reconciler reads and writes
type Repository interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	GetCurrentSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*models.Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, subscriptionID string) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	UpdateSubscriptionState(ctx context.Context, subscriptionID string, status models.SubscriptionStatus, plan models.PlanType) error
	UpdateSubscriptionStatus(ctx context.Context, subscriptionID string, status models.SubscriptionStatus) error
	UpdateSupersededSubscription(ctx context.Context, sub *models.Subscription) error
}

// UsageLedger is the part of the usage ledger a transition touches
type UsageLedger interface {
	ResetForPlan(ctx context.Context, userID string, plan models.PlanType) error
	EnsureLimit(ctx context.Context, userID string, plan models.PlanType) error
}

// AccessGranter records one-time purchases
type AccessGranter interface {
	GrantProAccess(ctx context.Context, userID string) error
}

// Options configures a Reconciler
type Options struct {
	Repo          Repository
	Ledger        UsageLedger
	Access        AccessGranter
	Provider      billing.Provider
	Catalog       billing.PriceCatalog
	Cache         cache.StatusCache
	Notifier      notify.Notifier
	Logger        *logging.Logger
	StatusTimeout time.Duration
}

// Reconciler applies Stripe subscription state to local records
type Reconciler struct {
	repo          Repository
	ledger        UsageLedger
	access        AccessGranter
	provider      billing.Provider
	inferrer      *Inferrer
	cache         cache.StatusCache
	notifier      notify.Notifier
	logger        *logging.Logger
	statusTimeout time.Duration
}

// NewReconciler creates a reconciler
func NewReconciler(opts Options) *Reconciler {
	r := &Reconciler{
		repo:          opts.Repo,
		ledger:        opts.Ledger,
		access:        opts.Access,
		provider:      opts.Provider,
		inferrer:      NewInferrer(opts.Catalog, opts.Provider),
		cache:         opts.Cache,
		notifier:      opts.Notifier,
		logger:        opts.Logger,
		statusTimeout: opts.StatusTimeout,
	}
	if r.cache == nil {
		r.cache = cache.NewMemoryStatusCache(30 * time.Second)
	}
	if r.notifier == nil {
		r.notifier = notify.Noop{}
	}
	if r.logger == nil {
		r.logger = logging.Nop()
	}
	if r.statusTimeout <= 0 {
		r.statusTimeout = 8 * time.Second
	}
	return r
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// userForCustomer resolves the local user behind a Stripe customer, falling back to metadata
func (r *Reconciler) userForCustomer(ctx context.Context, customer string, metadata map[string]string) (string, error) {
	if customer != "" {
		sub, err := r.repo.GetSubscriptionByCustomerID(ctx, customer)
		switch {
		case err == nil:
			return sub.UserID, nil
		case !errors.Is(err, database.ErrNotFound):
			return "", fmt.Errorf("failed to look up customer: %w", err)
		}
	}
	if userID := metadata[MetadataUserID]; userID != "" {
		return userID, nil
	}
	return "", ErrUnknownCustomer
}

func (r *Reconciler) currentSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := r.repo.GetCurrentSubscription(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return sub, nil
}

// shadowedBy reports whether current is a live paid subscription other than subscriptionID.
// Events for such a subscription must not replace the current row.
func shadowedBy(current *models.Subscription, subscriptionID string) bool {
	return current != nil &&
		current.StripeSubscriptionID != "" &&
		current.StripeSubscriptionID != subscriptionID &&
		current.HasPaidPlan()
}

func (r *Reconciler) invalidate(ctx context.Context, userID string) {
	if err := r.cache.Invalidate(ctx, userID); err != nil {
		r.logger.WithUserID(userID).WithError(err).Warn("Failed to invalidate subscription status cache")
	}
}

// Apply writes a Stripe subscription into the local record for userID.
// override, when a paid plan name, wins over every other inference rule.
func (r *Reconciler) Apply(ctx context.Context, userID string, stripeSub *stripe.Subscription, override, trigger string) (result *models.Subscription, err error) {
	span, ctx := tracing.StartSpan(ctx, "subscription.apply")
	defer func() { tracing.FinishSpan(span, err) }()
	tracing.SetTag(span, "trigger", trigger)
	tracing.SetTag(span, "subscription.id", stripeSub.ID)

	existing, err := r.currentSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	inference, err := r.inferrer.Infer(ctx, InferenceInput{Override: override, Subscription: stripeSub})
	if err != nil {
		return nil, err
	}

	status := models.ParseSubscriptionStatus(string(stripeSub.Status))
	plan := inference.Plan

	if shadowedBy(existing, stripeSub.ID) {
		err := r.repo.UpdateSupersededSubscription(ctx, &models.Subscription{
			StripeSubscriptionID: stripeSub.ID,
			Status:               status,
			PlanType:             plan,
			CurrentPeriodStart:   unixTime(stripeSub.CurrentPeriodStart),
			CurrentPeriodEnd:     unixTime(stripeSub.CurrentPeriodEnd),
		})
		log := r.logger.WithUserID(userID).WithFields(map[string]interface{}{
			"subscription_id": stripeSub.ID,
			"current_id":      existing.StripeSubscriptionID,
			"current_plan":    existing.PlanType,
		})
		switch {
		case err == nil:
			log.Warn("Event for a superseded subscription, current plan kept")
			metrics.RecordSubscriptionTransition(trigger, string(status), false)
			return existing, nil
		case !errors.Is(err, database.ErrNotFound):
			return nil, fmt.Errorf("failed to save subscription: %w", err)
		case !status.IsActiveish():
			log.Warn("Inactive subscription unknown locally, current plan kept")
			return existing, nil
		}
		// An unseen live subscription is newer than the current row and replaces it
	}

	if plan == models.PlanFree && status.IsActiveish() && existing != nil && existing.PlanType.IsPaid() {
		r.logger.WithUserID(userID).WithFields(map[string]interface{}{
			"subscription_id": stripeSub.ID,
			"kept_plan":       existing.PlanType,
		}).Warn("Inferred free plan for an active subscription, keeping paid plan")
		metrics.RecordDowngradeGuard()
		plan = existing.PlanType
	}

	previous := existing.EffectivePlan()

	result = &models.Subscription{
		UserID:               userID,
		StripeCustomerID:     customerID(stripeSub.Customer),
		StripeSubscriptionID: stripeSub.ID,
		Status:               status,
		PlanType:             plan,
		CurrentPeriodStart:   unixTime(stripeSub.CurrentPeriodStart),
		CurrentPeriodEnd:     unixTime(stripeSub.CurrentPeriodEnd),
	}
	if result.StripeCustomerID == "" && existing != nil {
		result.StripeCustomerID = existing.StripeCustomerID
	}
	if err := r.repo.UpsertSubscription(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}

	effective := result.EffectivePlan()
	planChanged := effective != previous
	if planChanged {
		err = r.ledger.ResetForPlan(ctx, userID, effective)
	} else {
		err = r.ledger.EnsureLimit(ctx, userID, effective)
	}
	if err != nil {
		return nil, err
	}

	r.invalidate(ctx, userID)
	metrics.RecordPlanInference(string(inference.Source), string(plan))
	metrics.RecordSubscriptionTransition(trigger, string(status), planChanged)
	r.logger.LogPlanInference(userID, stripeSub.ID, string(plan), string(inference.Source))
	return result, nil
}

// Cancel marks a subscription canceled, drops the user to free and resets usage.
// A subscription superseded by another live paid one is only marked canceled.
func (r *Reconciler) Cancel(ctx context.Context, userID, subscriptionID, customer, trigger string) error {
	_, err := r.cancel(ctx, userID, subscriptionID, customer, trigger)
	return err
}

func (r *Reconciler) cancel(ctx context.Context, userID, subscriptionID, customer, trigger string) (superseded bool, err error) {
	current, err := r.currentSubscription(ctx, userID)
	if err != nil {
		return false, err
	}

	if shadowedBy(current, subscriptionID) {
		err := r.repo.UpdateSupersededSubscription(ctx, &models.Subscription{
			StripeSubscriptionID: subscriptionID,
			Status:               models.SubscriptionStatusCanceled,
			PlanType:             models.PlanFree,
		})
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return true, fmt.Errorf("failed to cancel subscription: %w", err)
		}
		metrics.RecordSubscriptionTransition(trigger, string(models.SubscriptionStatusCanceled), false)
		r.logger.WithUserID(userID).WithFields(map[string]interface{}{
			"subscription_id": subscriptionID,
			"current_id":      current.StripeSubscriptionID,
		}).Info("Superseded subscription canceled, current plan kept")
		return true, nil
	}

	err = r.repo.UpdateSubscriptionState(ctx, subscriptionID, models.SubscriptionStatusCanceled, models.PlanFree)
	if errors.Is(err, database.ErrNotFound) {
		err = r.repo.UpsertSubscription(ctx, &models.Subscription{
			UserID:               userID,
			StripeCustomerID:     customer,
			StripeSubscriptionID: subscriptionID,
			Status:               models.SubscriptionStatusCanceled,
			PlanType:             models.PlanFree,
		})
	}
	if err != nil {
		return false, fmt.Errorf("failed to cancel subscription: %w", err)
	}

	if err := r.ledger.ResetForPlan(ctx, userID, models.PlanFree); err != nil {
		return false, err
	}

	r.invalidate(ctx, userID)
	metrics.RecordSubscriptionTransition(trigger, string(models.SubscriptionStatusCanceled), true)
	r.logger.WithUserID(userID).WithField("subscription_id", subscriptionID).Info("Subscription canceled")
	return false, nil
}

func (r *Reconciler) profileEmail(ctx context.Context, userID string) string {
	p, err := r.repo.GetProfile(ctx, userID)
	if err != nil {
		return ""
	}
	return p.Email
}

// HandleCheckoutCompleted applies a completed checkout session
func (r *Reconciler) HandleCheckoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) error {
	userID := sess.Metadata[MetadataUserID]
	if userID == "" {
		userID = sess.ClientReferenceID
	}

	if sess.Mode == stripe.CheckoutSessionModePayment {
		if userID == "" {
			r.logger.WithField("session_id", sess.ID).Warn("One-time checkout without a user, ignoring")
			return nil
		}
		if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return nil
		}
		if err := r.access.GrantProAccess(ctx, userID); err != nil {
			return err
		}
		r.invalidate(ctx, userID)
		return nil
	}

	if sess.Subscription == nil || sess.Subscription.ID == "" {
		r.logger.WithField("session_id", sess.ID).Warn("Checkout session without a subscription, ignoring")
		return nil
	}

	if userID == "" {
		id, err := r.userForCustomer(ctx, customerID(sess.Customer), nil)
		if err != nil {
			return err
		}
		userID = id
	}

	stripeSub, err := r.provider.GetSubscription(ctx, sess.Subscription.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription: %w", err)
	}

	_, err = r.Apply(ctx, userID, stripeSub, sess.Metadata[MetadataPlanType], TriggerCheckout)
	return err
}

// HandleSubscriptionChange applies a created or updated subscription
func (r *Reconciler) HandleSubscriptionChange(ctx context.Context, stripeSub *stripe.Subscription) error {
	userID, err := r.userForCustomer(ctx, customerID(stripeSub.Customer), stripeSub.Metadata)
	if err != nil {
		return err
	}
	_, err = r.Apply(ctx, userID, stripeSub, "", TriggerWebhook)
	return err
}

// HandleSubscriptionDeleted cancels locally and tells the user
func (r *Reconciler) HandleSubscriptionDeleted(ctx context.Context, stripeSub *stripe.Subscription) error {
	customer := customerID(stripeSub.Customer)
	userID, err := r.userForCustomer(ctx, customer, stripeSub.Metadata)
	if err != nil {
		return err
	}

	superseded, err := r.cancel(ctx, userID, stripeSub.ID, customer, TriggerWebhook)
	if err != nil || superseded {
		return err
	}

	if email := r.profileEmail(ctx, userID); email != "" {
		if err := r.notifier.SubscriptionCanceled(ctx, email); err != nil {
			r.logger.WithUserID(userID).WithError(err).Warn("Failed to send cancellation notice")
		}
	}
	return nil
}

// HandlePaymentFailed marks the invoice's subscription past_due. Plan and usage are left alone.
func (r *Reconciler) HandlePaymentFailed(ctx context.Context, inv *stripe.Invoice) error {
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		return nil
	}

	sub, err := r.repo.GetSubscriptionByStripeID(ctx, inv.Subscription.ID)
	if errors.Is(err, database.ErrNotFound) {
		r.logger.WithField("subscription_id", inv.Subscription.ID).Warn("Payment failed for unknown subscription")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	current, err := r.currentSubscription(ctx, sub.UserID)
	if err != nil {
		return err
	}
	if shadowedBy(current, sub.StripeSubscriptionID) {
		sub.Status = models.SubscriptionStatusPastDue
		err = r.repo.UpdateSupersededSubscription(ctx, sub)
	} else {
		err = r.repo.UpdateSubscriptionStatus(ctx, sub.StripeSubscriptionID, models.SubscriptionStatusPastDue)
	}
	if err != nil {
		return fmt.Errorf("failed to mark subscription past due: %w", err)
	}
	r.invalidate(ctx, sub.UserID)
	metrics.RecordSubscriptionTransition(TriggerWebhook, string(models.SubscriptionStatusPastDue), false)

	email := inv.CustomerEmail
	if email == "" {
		email = r.profileEmail(ctx, sub.UserID)
	}
	if email != "" {
		if err := r.notifier.PaymentFailed(ctx, email); err != nil {
			r.logger.WithUserID(sub.UserID).WithError(err).Warn("Failed to send payment failure notice")
		}
	}
	return nil
}

// best prefers an active-ish subscription, then the most recently created
func best(subs []*stripe.Subscription) *stripe.Subscription {
	var pick *stripe.Subscription
	for _, s := range subs {
		if s == nil {
			continue
		}
		if pick == nil {
			pick = s
			continue
		}
		active := models.ParseSubscriptionStatus(string(s.Status)).IsActiveish()
		pickActive := models.ParseSubscriptionStatus(string(pick.Status)).IsActiveish()
		if (active && !pickActive) || (active == pickActive && s.Created > pick.Created) {
			pick = s
		}
	}
	return pick
}

// findSubscription searches Stripe for the user's subscription by customer id, then by email
func (r *Reconciler) findSubscription(ctx context.Context, userID string, current *models.Subscription) (*stripe.Subscription, error) {
	if current != nil && current.StripeCustomerID != "" {
		subs, err := r.provider.ListSubscriptions(ctx, current.StripeCustomerID)
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		if pick := best(subs); pick != nil {
			return pick, nil
		}
	}

	email := r.profileEmail(ctx, userID)
	if email == "" {
		return nil, nil
	}
	customers, err := r.provider.SearchCustomersByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to search customers: %w", err)
	}

	var found []*stripe.Subscription
	for _, c := range customers {
		subs, err := r.provider.ListSubscriptions(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		found = append(found, subs...)
	}
	return best(found), nil
}

// Refresh pulls the user's subscription from Stripe and applies it
func (r *Reconciler) Refresh(ctx context.Context, userID string) (*models.Subscription, error) {
	return r.RefreshFor(ctx, userID, TriggerRefresh)
}

// RefreshFor is Refresh with the transition recorded under trigger
func (r *Reconciler) RefreshFor(ctx context.Context, userID, trigger string) (*models.Subscription, error) {
	current, err := r.currentSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	if current != nil && current.StripeSubscriptionID != "" {
		stripeSub, err := r.provider.GetSubscription(ctx, current.StripeSubscriptionID)
		switch {
		case billing.IsNotFound(err):
			if err := r.Cancel(ctx, userID, current.StripeSubscriptionID, current.StripeCustomerID, trigger); err != nil {
				return nil, err
			}
			return r.currentSubscription(ctx, userID)
		case err != nil:
			return nil, fmt.Errorf("failed to fetch subscription: %w", err)
		}
		return r.Apply(ctx, userID, stripeSub, "", trigger)
	}

	stripeSub, err := r.findSubscription(ctx, userID, current)
	if err != nil {
		return nil, err
	}
	if stripeSub == nil {
		return nil, ErrNoSubscription
	}
	return r.Apply(ctx, userID, stripeSub, "", trigger)
}

type statusResult struct {
	view *models.SubscriptionStatusView
	err  error
}

// Status returns the user's subscription summary, racing the lookup against the status deadline
func (r *Reconciler) Status(ctx context.Context, userID string) (*models.SubscriptionStatusView, error) {
	ctx, cancel := context.WithTimeout(ctx, r.statusTimeout)
	defer cancel()

	done := make(chan statusResult, 1)
	go func() {
		view, err := r.lookupStatus(ctx, userID)
		done <- statusResult{view: view, err: err}
	}()

	select {
	case res := <-done:
		return res.view, res.err
	case <-ctx.Done():
		return nil, ErrStatusTimeout
	}
}

func (r *Reconciler) lookupStatus(ctx context.Context, userID string) (*models.SubscriptionStatusView, error) {
	view, err := r.cache.Get(ctx, userID)
	if err != nil {
		r.logger.WithUserID(userID).WithError(err).Warn("Subscription status cache read failed")
	}
	if view != nil {
		return view, nil
	}

	sub, err := r.currentSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	view = models.NewSubscriptionStatusView(userID, sub)
	if err := r.cache.Set(ctx, view); err != nil {
		r.logger.WithUserID(userID).WithError(err).Warn("Subscription status cache write failed")
	}
	return view, nil
}
