package models

import (
	"time"
)

// MonthYearLayout is the time layout of UsageTracking.MonthYear
const MonthYearLayout = "2006-01"

// MonthYear returns the usage period key for t, in UTC
func MonthYear(t time.Time) string {
	return t.UTC().Format(MonthYearLayout)
}

// UsageTracking is the per-user, per-month generation counter and its ceiling
type UsageTracking struct {
	ID              string    `json:"id" db:"id"`
	UserID          string    `json:"user_id" db:"user_id"`
	MonthYear       string    `json:"month_year" db:"month_year"`
	GenerationsUsed int       `json:"generations_used" db:"generations_used"`
	PlanLimit       int       `json:"plan_limit" db:"plan_limit"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Remaining returns how many generations are left this month
func (u *UsageTracking) Remaining() int {
	if u == nil {
		return 0
	}
	if left := u.PlanLimit - u.GenerationsUsed; left > 0 {
		return left
	}
	return 0
}

// UsageEvent is a deferred usage increment, published when recording a generation failed
type UsageEvent struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	MonthYear  string    `json:"month_year"`
	Reason     string    `json:"reason"`
	RetryCount int       `json:"retry_count"`
	OccurredAt time.Time `json:"occurred_at"`
}
