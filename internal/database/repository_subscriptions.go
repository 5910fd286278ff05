package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haircutfun/haircutfun/pkg/models"
	"github.com/jackc/pgx/v5"
)

const subscriptionColumns = `
	id, user_id, COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''),
	status, plan_type, current_period_start, current_period_end, created_at, updated_at`

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var s models.Subscription
	err := row.Scan(
		&s.ID, &s.UserID, &s.StripeCustomerID, &s.StripeSubscriptionID,
		&s.Status, &s.PlanType, &s.CurrentPeriodStart, &s.CurrentPeriodEnd,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) getSubscription(ctx context.Context, operation, where string, arg string) (sub *models.Subscription, err error) {
	defer func(start time.Time) { observe(operation, start, err) }(time.Now())

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE ` + where + `
		ORDER BY updated_at DESC, created_at DESC
		LIMIT 1`

	sub, err = scanSubscription(r.db.Pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", operation, err)
	}
	return sub, nil
}

// GetCurrentSubscription returns the user's latest subscription row
func (r *Repository) GetCurrentSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	return r.getSubscription(ctx, "get_current_subscription", "user_id = $1", userID)
}

// GetSubscriptionByCustomerID returns the latest row for a Stripe customer
func (r *Repository) GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*models.Subscription, error) {
	return r.getSubscription(ctx, "get_subscription_by_customer", "stripe_customer_id = $1", customerID)
}

// GetSubscriptionByStripeID returns the row for a Stripe subscription id
func (r *Repository) GetSubscriptionByStripeID(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	return r.getSubscription(ctx, "get_subscription_by_stripe_id", "stripe_subscription_id = $1", subscriptionID)
}

// UpsertSubscription writes sub keyed by its Stripe subscription id, so replays update one row.
// Rows without a subscription id (customer placeholders) are always inserted.
func (r *Repository) UpsertSubscription(ctx context.Context, sub *models.Subscription) (err error) {
	defer func(start time.Time) { observe("upsert_subscription", start, err) }(time.Now())

	query := `
		INSERT INTO subscriptions (
			user_id, stripe_customer_id, stripe_subscription_id, status, plan_type,
			current_period_start, current_period_end
		)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7)
		ON CONFLICT (stripe_subscription_id) WHERE stripe_subscription_id IS NOT NULL DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, subscriptions.stripe_customer_id),
		    status = EXCLUDED.status,
		    plan_type = EXCLUDED.plan_type,
		    current_period_start = COALESCE(EXCLUDED.current_period_start, subscriptions.current_period_start),
		    current_period_end = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
		    updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err = r.db.Pool.QueryRow(ctx, query,
		sub.UserID, sub.StripeCustomerID, sub.StripeSubscriptionID, sub.Status, sub.PlanType,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// UpdateSubscriptionState sets status and plan on the row for a Stripe subscription id
func (r *Repository) UpdateSubscriptionState(ctx context.Context, subscriptionID string, status models.SubscriptionStatus, plan models.PlanType) (err error) {
	defer func(start time.Time) { observe("update_subscription_state", start, err) }(time.Now())

	query := `
		UPDATE subscriptions
		SET status = $2, plan_type = $3, updated_at = NOW()
		WHERE stripe_subscription_id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, subscriptionID, status, plan)
	if err != nil {
		return fmt.Errorf("failed to update subscription state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSubscriptionStatus sets only the status on the row for a Stripe subscription id
func (r *Repository) UpdateSubscriptionStatus(ctx context.Context, subscriptionID string, status models.SubscriptionStatus) (err error) {
	defer func(start time.Time) { observe("update_subscription_status", start, err) }(time.Now())

	query := `
		UPDATE subscriptions
		SET status = $2, updated_at = NOW()
		WHERE stripe_subscription_id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, subscriptionID, status)
	if err != nil {
		return fmt.Errorf("failed to update subscription status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSupersededSubscription records Stripe state on a row that is no longer the user's
// current subscription. updated_at is left alone so the row stays behind the current one.
func (r *Repository) UpdateSupersededSubscription(ctx context.Context, sub *models.Subscription) (err error) {
	defer func(start time.Time) { observe("update_superseded_subscription", start, err) }(time.Now())

	query := `
		UPDATE subscriptions
		SET status = $2,
		    plan_type = $3,
		    current_period_start = COALESCE($4, current_period_start),
		    current_period_end = COALESCE($5, current_period_end)
		WHERE stripe_subscription_id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		sub.StripeSubscriptionID, sub.Status, sub.PlanType, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
	)
	if err != nil {
		return fmt.Errorf("failed to update superseded subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStaleSubscriptions returns current subscriptions that are active-ish and whose period ended before cutoff.
// Only each user's latest row is considered, since the sweeper refreshes users by their current row.
func (r *Repository) ListStaleSubscriptions(ctx context.Context, cutoff time.Time, limit int) (subs []*models.Subscription, err error) {
	defer func(start time.Time) { observe("list_stale_subscriptions", start, err) }(time.Now())

	query := `SELECT ` + subscriptionColumns + `
		FROM (
			SELECT DISTINCT ON (user_id) *
			FROM subscriptions
			ORDER BY user_id, updated_at DESC, created_at DESC
		) latest
		WHERE status IN ('active', 'trialing', 'past_due', 'incomplete')
		  AND stripe_subscription_id IS NOT NULL
		  AND current_period_end < $1
		ORDER BY current_period_end ASC
		LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale subscriptions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list stale subscriptions: %w", err)
	}

	return subs, nil
}
