package models

import "strings"

// PlanType is the entitlement tier a user is inferred to hold
type PlanType string

// PlanType constants
const (
	PlanFree    PlanType = "free"
	PlanPro     PlanType = "pro"
	PlanPremium PlanType = "premium"
)

// Monthly generation ceilings per plan
const (
	FreePlanLimit    = 1
	ProPlanLimit     = 25
	PremiumPlanLimit = 75
)

var planLimits = map[PlanType]int{
	PlanFree:    FreePlanLimit,
	PlanPro:     ProPlanLimit,
	PlanPremium: PremiumPlanLimit,
}

// LimitFor returns the contractual monthly limit for a plan. Unknown plans get the free limit.
func LimitFor(plan PlanType) int {
	if limit, ok := planLimits[plan]; ok {
		return limit
	}
	return FreePlanLimit
}

// Valid reports whether the plan is one of the known tiers
func (p PlanType) Valid() bool {
	_, ok := planLimits[p]
	return ok
}

// IsPaid reports whether the plan is a paid tier
func (p PlanType) IsPaid() bool {
	return p == PlanPro || p == PlanPremium
}

// ParsePlanType normalizes a user or metadata supplied plan name
func ParsePlanType(s string) (PlanType, bool) {
	plan := PlanType(strings.ToLower(strings.TrimSpace(s)))
	if !plan.Valid() {
		return "", false
	}
	return plan, true
}
