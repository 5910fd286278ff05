package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haircutfun/haircutfun/pkg/models"
	"github.com/jackc/pgx/v5"
)

const usageColumns = `id, user_id, month_year, generations_used, plan_limit, created_at, updated_at`

func scanUsage(row pgx.Row) (*models.UsageTracking, error) {
	var u models.UsageTracking
	err := row.Scan(&u.ID, &u.UserID, &u.MonthYear, &u.GenerationsUsed, &u.PlanLimit, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUsage returns the usage row for a user and month
func (r *Repository) GetUsage(ctx context.Context, userID, monthYear string) (u *models.UsageTracking, err error) {
	defer func(start time.Time) { observe("get_usage", start, err) }(time.Now())

	query := `SELECT ` + usageColumns + ` FROM usage_tracking WHERE user_id = $1 AND month_year = $2`

	u, err = scanUsage(r.db.Pool.QueryRow(ctx, query, userID, monthYear))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	return u, nil
}

// IncrementUsage adds one generation in a single statement. A missing row is created
// with generations_used = 1 and the given limit; an existing row keeps its limit.
func (r *Repository) IncrementUsage(ctx context.Context, userID, monthYear string, planLimit int) (u *models.UsageTracking, err error) {
	defer func(start time.Time) { observe("increment_usage", start, err) }(time.Now())

	query := `
		INSERT INTO usage_tracking (user_id, month_year, generations_used, plan_limit)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (user_id, month_year) DO UPDATE
		SET generations_used = usage_tracking.generations_used + 1, updated_at = NOW()
		RETURNING ` + usageColumns

	u, err = scanUsage(r.db.Pool.QueryRow(ctx, query, userID, monthYear, planLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to increment usage: %w", err)
	}
	return u, nil
}

// ResetUsage sets the month's limit and zeroes its counter
func (r *Repository) ResetUsage(ctx context.Context, userID, monthYear string, planLimit int) (u *models.UsageTracking, err error) {
	defer func(start time.Time) { observe("reset_usage", start, err) }(time.Now())

	query := `
		INSERT INTO usage_tracking (user_id, month_year, generations_used, plan_limit)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (user_id, month_year) DO UPDATE
		SET generations_used = 0, plan_limit = EXCLUDED.plan_limit, updated_at = NOW()
		RETURNING ` + usageColumns

	u, err = scanUsage(r.db.Pool.QueryRow(ctx, query, userID, monthYear, planLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to reset usage: %w", err)
	}
	return u, nil
}

// SetUsageLimit sets the month's limit and leaves the counter untouched
func (r *Repository) SetUsageLimit(ctx context.Context, userID, monthYear string, planLimit int) (u *models.UsageTracking, err error) {
	defer func(start time.Time) { observe("set_usage_limit", start, err) }(time.Now())

	query := `
		INSERT INTO usage_tracking (user_id, month_year, generations_used, plan_limit)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (user_id, month_year) DO UPDATE
		SET plan_limit = EXCLUDED.plan_limit, updated_at = NOW()
		RETURNING ` + usageColumns

	u, err = scanUsage(r.db.Pool.QueryRow(ctx, query, userID, monthYear, planLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to set usage limit: %w", err)
	}
	return u, nil
}
