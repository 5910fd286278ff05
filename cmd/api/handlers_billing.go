package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/haircutfun/haircutfun/internal/checkout"
	"github.com/haircutfun/haircutfun/internal/middleware"
	"github.com/haircutfun/haircutfun/internal/subscription"
	"github.com/haircutfun/haircutfun/pkg/models"
)

// createCheckout opens a Stripe checkout session for a paid plan
func (api *API) createCheckout(c *gin.Context) {
	user, _ := middleware.GetUser(c)

	var req struct {
		PlanType string `json:"planType" binding:"required,plantype"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
		return
	}

	plan, _ := models.ParsePlanType(req.PlanType)
	session, err := api.checkout.CreateCheckoutSession(c.Request.Context(), user, plan)
	if err != nil {
		var priceErr *checkout.PriceError
		switch {
		case errors.Is(err, checkout.ErrInvalidPlan):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid plan type"})
		case errors.Is(err, checkout.ErrAlreadySubscribed):
			c.JSON(http.StatusConflict, gin.H{"error": "You already have an active subscription. Use the billing portal to change plans."})
		case errors.As(err, &priceErr):
			api.logger.WithUserID(user.ID).WithField("price_id", priceErr.PriceID).WithError(err).Error("Checkout price unavailable")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "This plan is temporarily unavailable. Please try again later."})
		default:
			api.logger.WithUserID(user.ID).WithError(err).Error("Failed to create checkout session")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create checkout session"})
		}
		return
	}

	c.JSON(http.StatusOK, session)
}

// createPortal opens the Stripe billing portal for a paying customer
func (api *API) createPortal(c *gin.Context) {
	user, _ := middleware.GetUser(c)

	var req struct {
		ReturnURL string `json:"returnUrl"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
			return
		}
	}

	url, err := api.checkout.CreatePortalSession(c.Request.Context(), user.ID, req.ReturnURL)
	if err != nil {
		if errors.Is(err, checkout.ErrNoActiveSubscription) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No active subscription found"})
			return
		}
		api.logger.WithUserID(user.ID).WithError(err).Error("Failed to create portal session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open billing portal"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// refreshSubscription re-reads the caller's subscription from Stripe
func (api *API) refreshSubscription(c *gin.Context) {
	user, _ := middleware.GetUser(c)

	var req struct {
		UserID string `json:"userId"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
			return
		}
	}
	if req.UserID != "" && req.UserID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	sub, err := api.subs.Refresh(c.Request.Context(), user.ID)
	if err != nil {
		if errors.Is(err, subscription.ErrNoSubscription) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No subscription found"})
			return
		}
		api.logger.WithUserID(user.ID).WithError(err).Error("Failed to refresh subscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to refresh subscription"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"subscription": sub,
		"status":       models.NewSubscriptionStatusView(user.ID, sub),
	})
}

// subscriptionStatus returns the caller's effective plan
func (api *API) subscriptionStatus(c *gin.Context) {
	user, _ := middleware.GetUser(c)

	view, err := api.subs.Status(c.Request.Context(), user.ID)
	if err != nil {
		if errors.Is(err, subscription.ErrStatusTimeout) {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Could not determine subscription status"})
			return
		}
		api.logger.WithUserID(user.ID).WithError(err).Error("Failed to load subscription status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load subscription status"})
		return
	}

	c.JSON(http.StatusOK, view)
}
