package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/haircutfun/haircutfun/internal/generation"
	"github.com/haircutfun/haircutfun/internal/middleware"
)

// maxGenerateBody leaves room for base64 overhead on a full-size photo
const maxGenerateBody = generation.MaxPhotoBytes*4/3 + 64<<10

// generateHaircut renders the requested hairstyle onto the uploaded photo
func (api *API) generateHaircut(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxGenerateBody)

	var req struct {
		UserPhoto    string `json:"userPhoto" binding:"required"`
		HaircutStyle string `json:"haircutStyle" binding:"required"`
		Gender       string `json:"gender"`
		IsFirstTry   bool   `json:"isFirstTry"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Photo is too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
		return
	}

	genReq := generation.Request{
		ClientIP:   c.ClientIP(),
		IsFirstTry: req.IsFirstTry,
		Photo:      req.UserPhoto,
		Style:      req.HaircutStyle,
		Gender:     req.Gender,
	}
	log := api.logger
	if user, ok := middleware.GetUser(c); ok {
		genReq.UserID = user.ID
		log = log.WithUserID(user.ID)
		if _, err := api.profiles.GetOrCreate(c.Request.Context(), user); err != nil {
			log.WithError(err).Warn("Failed to ensure profile before generation")
		}
	}

	result, err := api.generator.Generate(c.Request.Context(), genReq)
	if err != nil {
		var safety *generation.SafetyError
		switch {
		case errors.Is(err, generation.ErrPaymentRequired):
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":           "You've used all your generations. Upgrade your plan to keep going.",
				"requiresUpgrade": true,
			})
		case errors.Is(err, generation.ErrInvalidPhoto), errors.Is(err, generation.ErrMissingStyle):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.As(err, &safety):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  "We couldn't create this preview. Try a different photo or style.",
				"reason": safety.Reason,
			})
		case generation.IsServerError(err):
			log.WithError(err).Error("Generation failed after retries")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "The service is busy right now. Please try again in a moment."})
		default:
			log.WithError(err).Error("Generation failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate haircut. Please try again."})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "imageData": result.ImageData})
}
