package billing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/haircutfun/haircutfun/internal/config"
	"github.com/haircutfun/haircutfun/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v79"
)

func TestPriceCatalog(t *testing.T) {
	catalog := NewPriceCatalog(config.StripeConfig{ProPriceID: "price_pro", PremiumPriceID: "price_premium"})

	price, ok := catalog.PriceForPlan(models.PlanPro)
	assert.True(t, ok)
	assert.Equal(t, "price_pro", price)

	price, ok = catalog.PriceForPlan(models.PlanPremium)
	assert.True(t, ok)
	assert.Equal(t, "price_premium", price)

	_, ok = catalog.PriceForPlan(models.PlanFree)
	assert.False(t, ok, "free has no price")

	plan, ok := catalog.PlanForPrice("price_premium")
	assert.True(t, ok)
	assert.Equal(t, models.PlanPremium, plan)

	_, ok = catalog.PlanForPrice("price_unknown")
	assert.False(t, ok)

	_, ok = catalog.PlanForPrice("")
	assert.False(t, ok)
}

func TestPriceCatalogUnconfigured(t *testing.T) {
	var catalog PriceCatalog

	_, ok := catalog.PriceForPlan(models.PlanPro)
	assert.False(t, ok)

	_, ok = catalog.PlanForPrice("")
	assert.False(t, ok, "an empty price id never matches an unset catalog entry")
}

func TestIsNotFound(t *testing.T) {
	missing := &stripe.Error{Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: 404}

	assert.True(t, IsNotFound(missing))
	assert.True(t, IsNotFound(fmt.Errorf("failed to get subscription: %w", missing)))
	assert.False(t, IsNotFound(&stripe.Error{Code: stripe.ErrorCodeRateLimit, HTTPStatusCode: 429}))
	assert.False(t, IsNotFound(errors.New("network down")))
	assert.False(t, IsNotFound(nil))
}
