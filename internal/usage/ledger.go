// Package usage is the monthly generation ledger.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haircutfun/haircutfun/internal/database"
	"github.com/haircutfun/haircutfun/internal/metrics"
	"github.com/haircutfun/haircutfun/pkg/models"
)

// ErrQuotaExceeded is returned when the monthly allowance is used up
var ErrQuotaExceeded = errors.New("monthly generation limit reached")

// Repository is the storage the ledger reads and writes
type Repository interface {
	GetUsage(ctx context.Context, userID, monthYear string) (*models.UsageTracking, error)
	IncrementUsage(ctx context.Context, userID, monthYear string, planLimit int) (*models.UsageTracking, error)
	ResetUsage(ctx context.Context, userID, monthYear string, planLimit int) (*models.UsageTracking, error)
	SetUsageLimit(ctx context.Context, userID, monthYear string, planLimit int) (*models.UsageTracking, error)
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	GetCurrentSubscription(ctx context.Context, userID string) (*models.Subscription, error)
}

// Entitlement is the caller's allowance for the current month
type Entitlement struct {
	Allowed   bool            `json:"allowed"`
	Used      int             `json:"used"`
	Limit     int             `json:"limit"`
	Remaining int             `json:"remaining"`
	Plan      models.PlanType `json:"plan"`
	ProAccess bool            `json:"has_pro_access"`
	MonthYear string          `json:"month_year"`
}

// Ledger enforces and records monthly usage
type Ledger struct {
	repo Repository
	now  func() time.Time
}

// NewLedger creates a usage ledger
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// CurrentMonth returns the usage key for the current month
func (l *Ledger) CurrentMonth() string {
	return models.MonthYear(l.now())
}

// EffectivePlan returns the plan the user's current subscription entitles them to
func (l *Ledger) EffectivePlan(ctx context.Context, userID string) (models.PlanType, error) {
	sub, err := l.repo.GetCurrentSubscription(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return models.PlanFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load subscription: %w", err)
	}
	return sub.EffectivePlan(), nil
}

// CanGenerate reports whether the user may run another generation this month.
// Legacy pro access bypasses the monthly ceiling.
func (l *Ledger) CanGenerate(ctx context.Context, userID string) (*Entitlement, error) {
	month := l.CurrentMonth()

	proAccess := false
	p, err := l.repo.GetProfile(ctx, userID)
	switch {
	case err == nil:
		proAccess = p.HasProAccess
	case !errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	plan, err := l.EffectivePlan(ctx, userID)
	if err != nil {
		return nil, err
	}

	ent := &Entitlement{
		Plan:      plan,
		ProAccess: proAccess,
		Limit:     models.LimitFor(plan),
		MonthYear: month,
	}

	row, err := l.repo.GetUsage(ctx, userID, month)
	switch {
	case err == nil:
		ent.Used = row.GenerationsUsed
		ent.Limit = row.PlanLimit
	case !errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("failed to load usage: %w", err)
	}

	ent.Remaining = max(ent.Limit-ent.Used, 0)
	ent.Allowed = proAccess || ent.Used < ent.Limit
	return ent, nil
}

// Check returns ErrQuotaExceeded alongside the entitlement when the user is out of generations
func (l *Ledger) Check(ctx context.Context, userID string) (*Entitlement, error) {
	ent, err := l.CanGenerate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ent.Allowed {
		return ent, ErrQuotaExceeded
	}
	return ent, nil
}

// RecordGeneration counts one generation against the current month
func (l *Ledger) RecordGeneration(ctx context.Context, userID string) (*models.UsageTracking, error) {
	return l.RecordGenerationFor(ctx, userID, l.CurrentMonth())
}

// RecordGenerationFor counts one generation against monthYear. The increment is not
// idempotent: a retried call counts twice.
func (l *Ledger) RecordGenerationFor(ctx context.Context, userID, monthYear string) (*models.UsageTracking, error) {
	plan, err := l.EffectivePlan(ctx, userID)
	if err != nil {
		return nil, err
	}

	row, err := l.repo.IncrementUsage(ctx, userID, monthYear, models.LimitFor(plan))
	if err != nil {
		return nil, fmt.Errorf("failed to record generation: %w", err)
	}
	metrics.RecordUsageIncrement("recorded")
	return row, nil
}

// ResetForPlan aligns the month's limit with plan and forgives usage so far
func (l *Ledger) ResetForPlan(ctx context.Context, userID string, plan models.PlanType) error {
	if _, err := l.repo.ResetUsage(ctx, userID, l.CurrentMonth(), models.LimitFor(plan)); err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	return nil
}

// EnsureLimit aligns the month's limit with plan without touching usage
func (l *Ledger) EnsureLimit(ctx context.Context, userID string, plan models.PlanType) error {
	if _, err := l.repo.SetUsageLimit(ctx, userID, l.CurrentMonth(), models.LimitFor(plan)); err != nil {
		return fmt.Errorf("failed to set usage limit: %w", err)
	}
	return nil
}
