package models

import (
	"time"
)

// SubscriptionStatus is the locally stored lifecycle state of a subscription
type SubscriptionStatus string

// SubscriptionStatus constants
const (
	SubscriptionStatusNone       SubscriptionStatus = "none"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
)

// IsActiveish reports whether the status still grants the subscribed plan.
// past_due and incomplete are included so a payment hiccup never revokes access.
func (s SubscriptionStatus) IsActiveish() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue, SubscriptionStatusIncomplete:
		return true
	}
	return false
}

// ParseSubscriptionStatus maps a Stripe subscription status onto the local status set
func ParseSubscriptionStatus(s string) SubscriptionStatus {
	switch s {
	case "active":
		return SubscriptionStatusActive
	case "trialing":
		return SubscriptionStatusTrialing
	case "past_due", "unpaid":
		return SubscriptionStatusPastDue
	case "incomplete":
		return SubscriptionStatusIncomplete
	case "canceled", "incomplete_expired", "paused":
		return SubscriptionStatusCanceled
	default:
		return SubscriptionStatusNone
	}
}

// Subscription is the local record of a user's Stripe subscription.
// Several historical rows may exist per user; the most recently updated one is current.
type Subscription struct {
	ID                   string             `json:"id" db:"id"`
	UserID               string             `json:"user_id" db:"user_id"`
	StripeCustomerID     string             `json:"stripe_customer_id,omitempty" db:"stripe_customer_id"`
	StripeSubscriptionID string             `json:"stripe_subscription_id,omitempty" db:"stripe_subscription_id"`
	Status               SubscriptionStatus `json:"status" db:"status"`
	PlanType             PlanType           `json:"plan_type" db:"plan_type"`
	CurrentPeriodStart   *time.Time         `json:"current_period_start,omitempty" db:"current_period_start"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end,omitempty" db:"current_period_end"`
	CreatedAt            time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at" db:"updated_at"`
}

// EffectivePlan returns the plan the subscription currently entitles the user to
func (s *Subscription) EffectivePlan() PlanType {
	if s == nil || !s.Status.IsActiveish() || !s.PlanType.Valid() {
		return PlanFree
	}
	return s.PlanType
}

// HasPaidPlan reports whether the subscription currently grants a paid tier
func (s *Subscription) HasPaidPlan() bool {
	return s.EffectivePlan().IsPaid()
}

// SubscriptionStatusView is the user-facing summary of a subscription
type SubscriptionStatusView struct {
	UserID           string             `json:"user_id"`
	Status           SubscriptionStatus `json:"status"`
	PlanType         PlanType           `json:"plan_type"`
	EffectivePlan    PlanType           `json:"effective_plan"`
	CurrentPeriodEnd *time.Time         `json:"current_period_end,omitempty"`
	HasCustomer      bool               `json:"has_customer"`
}

// NewSubscriptionStatusView summarizes sub for userID. A nil sub yields the free/none view.
func NewSubscriptionStatusView(userID string, sub *Subscription) *SubscriptionStatusView {
	view := &SubscriptionStatusView{
		UserID:        userID,
		Status:        SubscriptionStatusNone,
		PlanType:      PlanFree,
		EffectivePlan: PlanFree,
	}
	if sub == nil {
		return view
	}
	view.Status = sub.Status
	view.PlanType = sub.PlanType
	view.EffectivePlan = sub.EffectivePlan()
	view.CurrentPeriodEnd = sub.CurrentPeriodEnd
	view.HasCustomer = sub.StripeCustomerID != ""
	return view
}
