package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/haircutfun/haircutfun/internal/middleware"
	"github.com/haircutfun/haircutfun/internal/profile"
)

// getProfile returns the caller's profile, creating it on first use
func (api *API) getProfile(c *gin.Context) {
	user, _ := middleware.GetUser(c)

	p, err := api.profiles.GetOrCreate(c.Request.Context(), user)
	if err != nil {
		api.logger.WithUserID(user.ID).WithError(err).Error("Failed to load profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load profile"})
		return
	}

	c.JSON(http.StatusOK, p)
}

// updateProfile edits the caller's name and avatar
func (api *API) updateProfile(c *gin.Context) {
	user, _ := middleware.GetUser(c)

	var req struct {
		FullName  string `json:"full_name"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
		return
	}

	p, err := api.profiles.Update(c.Request.Context(), user, req.FullName, req.AvatarURL)
	if err != nil {
		var verr *profile.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
			return
		}
		api.logger.WithUserID(user.ID).WithError(err).Error("Failed to update profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update profile"})
		return
	}

	c.JSON(http.StatusOK, p)
}

// getUsage returns this month's generation allowance
func (api *API) getUsage(c *gin.Context) {
	user, _ := middleware.GetUser(c)

	ent, err := api.usage.CanGenerate(c.Request.Context(), user.ID)
	if err != nil {
		api.logger.WithUserID(user.ID).WithError(err).Error("Failed to load usage")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load usage"})
		return
	}

	c.JSON(http.StatusOK, ent)
}
