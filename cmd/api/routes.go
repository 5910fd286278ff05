package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/haircutfun/haircutfun/internal/logging"
	"github.com/haircutfun/haircutfun/internal/middleware"
)

func setupRouter(api *API, verifier middleware.TokenVerifier, limiter *middleware.RateLimiter, logger *logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(logger))

	// Health check
	router.GET("/health", api.healthCheck)

	// OAuth
	auth := router.Group("/auth")
	{
		auth.GET("/login", api.login)
		auth.GET("/callback", api.callback)
		auth.POST("/signout", api.signOut)
	}

	// Stripe signs the raw body, so the webhook bypasses the rate limiter and JSON binding
	router.POST("/api/webhooks/stripe", gin.WrapH(api.webhooks))

	// Callers are identified before the limiter so signed-in users get their own bucket
	v1 := router.Group("/api", middleware.OptionalAuth(verifier))
	if limiter != nil {
		v1.Use(middleware.RateLimit(limiter))
	}

	v1.POST("/generate-haircut", api.generateHaircut)

	authed := v1.Group("", middleware.RequireAuth(verifier))
	{
		// Profile and usage
		authed.GET("/profile", api.getProfile)
		authed.PATCH("/profile", api.updateProfile)
		authed.GET("/usage", api.getUsage)

		// Billing
		authed.POST("/checkout", api.createCheckout)
		authed.POST("/portal", api.createPortal)
		authed.POST("/subscription/refresh", api.refreshSubscription)
		authed.GET("/subscription/status", api.subscriptionStatus)

		// Saved images
		authed.GET("/user-images", api.listImages)
		authed.POST("/user-images", api.saveImage)
		authed.DELETE("/user-images/:id", api.deleteImage)
	}

	return router
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	for name, check := range api.checks {
		if err := check(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"check":  name,
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}
