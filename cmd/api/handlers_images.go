package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/haircutfun/haircutfun/internal/gallery"
	"github.com/haircutfun/haircutfun/internal/generation"
	"github.com/haircutfun/haircutfun/internal/middleware"
)

const maxSaveBody = 2*generation.MaxPhotoBytes*4/3 + 64<<10

func (api *API) listImages(c *gin.Context) {
	user, _ := middleware.GetUser(c)

	images, err := api.gallery.List(c.Request.Context(), user.ID)
	if err != nil {
		api.logger.WithUserID(user.ID).WithError(err).Error("Failed to list images")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load images"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"images": images})
}

func (api *API) saveImage(c *gin.Context) {
	user, _ := middleware.GetUser(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSaveBody)

	var req gallery.SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
		return
	}

	img, err := api.gallery.Save(c.Request.Context(), user.ID, req)
	if err != nil {
		if errors.Is(err, gallery.ErrInvalidImage) || errors.Is(err, generation.ErrMissingStyle) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		api.logger.WithUserID(user.ID).WithError(err).Error("Failed to save image")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save image"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"image": img})
}

func (api *API) deleteImage(c *gin.Context) {
	user, _ := middleware.GetUser(c)

	err := api.gallery.Delete(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		if errors.Is(err, gallery.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
			return
		}
		api.logger.WithUserID(user.ID).WithError(err).Error("Failed to delete image")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete image"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
