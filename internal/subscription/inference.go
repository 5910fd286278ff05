package subscription

import (
	"context"
	"fmt"
	"strings"

	"github.com/haircutfun/haircutfun/internal/billing"
	"github.com/haircutfun/haircutfun/pkg/models"
	"github.com/stripe/stripe-go/v79"
)

// Source names the rule that decided a plan
type Source string

// Inference rule sources, in evaluation order
const (
	SourceOverride    Source = "override"
	SourceMetadata    Source = "metadata"
	SourcePriceID     Source = "price_id"
	SourcePriceText   Source = "price_text"
	SourceProductText Source = "product_text"
	SourceDefault     Source = "default"
)

// Metadata keys written on checkout sessions and subscriptions
const (
	MetadataUserID   = "userId"
	MetadataPlanType = "planType"
)

// InferenceInput is what the rules look at
type InferenceInput struct {
	Override     string
	Subscription *stripe.Subscription
}

// Inference is the plan decided for a subscription and the rule that decided it
type Inference struct {
	Plan   models.PlanType
	Source Source
}

// Rule returns a plan when it can decide one. An error aborts inference.
type Rule struct {
	Source Source
	Infer  func(ctx context.Context, in InferenceInput) (models.PlanType, bool, error)
}

// Inferrer evaluates rules in order; the first match wins
type Inferrer struct {
	rules []Rule
}

// NewInferrer builds the standard rule chain: override, metadata tag,
// configured price ids, price text, product text, then free.
func NewInferrer(catalog billing.PriceCatalog, provider billing.Provider) *Inferrer {
	return &Inferrer{rules: []Rule{
		{Source: SourceOverride, Infer: overrideRule},
		{Source: SourceMetadata, Infer: metadataRule},
		{Source: SourcePriceID, Infer: priceIDRule(catalog)},
		{Source: SourcePriceText, Infer: priceTextRule(provider)},
		{Source: SourceProductText, Infer: productTextRule(provider)},
	}}
}

// Infer runs the rules and falls back to free
func (i *Inferrer) Infer(ctx context.Context, in InferenceInput) (Inference, error) {
	for _, rule := range i.rules {
		plan, ok, err := rule.Infer(ctx, in)
		if err != nil {
			return Inference{}, fmt.Errorf("plan inference rule %s: %w", rule.Source, err)
		}
		if ok {
			return Inference{Plan: plan, Source: rule.Source}, nil
		}
	}
	return Inference{Plan: models.PlanFree, Source: SourceDefault}, nil
}

// paidPlan accepts only pro or premium tags
func paidPlan(s string) (models.PlanType, bool) {
	plan, ok := models.ParsePlanType(s)
	if !ok || !plan.IsPaid() {
		return "", false
	}
	return plan, true
}

// planFromText matches free text, checking the longer tier name first
func planFromText(texts ...string) (models.PlanType, bool) {
	for _, text := range texts {
		lower := strings.ToLower(text)
		switch {
		case strings.Contains(lower, string(models.PlanPremium)):
			return models.PlanPremium, true
		case strings.Contains(lower, string(models.PlanPro)):
			return models.PlanPro, true
		}
	}
	return "", false
}

func items(sub *stripe.Subscription) []*stripe.SubscriptionItem {
	if sub == nil || sub.Items == nil {
		return nil
	}
	return sub.Items.Data
}

func overrideRule(_ context.Context, in InferenceInput) (models.PlanType, bool, error) {
	plan, ok := paidPlan(in.Override)
	return plan, ok, nil
}

func metadataRule(_ context.Context, in InferenceInput) (models.PlanType, bool, error) {
	if in.Subscription == nil {
		return "", false, nil
	}
	plan, ok := paidPlan(in.Subscription.Metadata[MetadataPlanType])
	return plan, ok, nil
}

func priceIDRule(catalog billing.PriceCatalog) func(context.Context, InferenceInput) (models.PlanType, bool, error) {
	return func(_ context.Context, in InferenceInput) (models.PlanType, bool, error) {
		for _, item := range items(in.Subscription) {
			if item.Price == nil {
				continue
			}
			if plan, ok := catalog.PlanForPrice(item.Price.ID); ok {
				return plan, true, nil
			}
		}
		return "", false, nil
	}
}

// loadPrice returns the item's price, fetching it when the payload carries no text to match.
// Webhook payloads leave the product as a bare id; the fetch expands it for the product rule.
func loadPrice(ctx context.Context, provider billing.Provider, price *stripe.Price) (*stripe.Price, error) {
	if price.LookupKey != "" || price.Nickname != "" || (price.Product != nil && price.Product.Name != "") {
		return price, nil
	}
	return provider.GetPrice(ctx, price.ID)
}

func priceTextRule(provider billing.Provider) func(context.Context, InferenceInput) (models.PlanType, bool, error) {
	return func(ctx context.Context, in InferenceInput) (models.PlanType, bool, error) {
		for _, item := range items(in.Subscription) {
			if item.Price == nil || item.Price.ID == "" {
				continue
			}
			price, err := loadPrice(ctx, provider, item.Price)
			if err != nil {
				return "", false, err
			}
			item.Price = price
			if plan, ok := planFromText(price.LookupKey, price.Nickname); ok {
				return plan, true, nil
			}
		}
		return "", false, nil
	}
}

func productTextRule(provider billing.Provider) func(context.Context, InferenceInput) (models.PlanType, bool, error) {
	return func(ctx context.Context, in InferenceInput) (models.PlanType, bool, error) {
		for _, item := range items(in.Subscription) {
			if item.Price == nil || item.Price.Product == nil || item.Price.Product.ID == "" {
				continue
			}

			product := item.Price.Product
			if product.Name == "" {
				p, err := provider.GetProduct(ctx, product.ID)
				if err != nil {
					return "", false, err
				}
				product = p
			}

			texts := []string{product.Name}
			if tag, ok := paidPlan(product.Metadata[MetadataPlanType]); ok {
				return tag, true, nil
			}
			for _, v := range product.Metadata {
				texts = append(texts, v)
			}
			if plan, ok := planFromText(texts...); ok {
				return plan, true, nil
			}
		}
		return "", false, nil
	}
}
