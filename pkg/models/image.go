package models

import (
	"time"
)

// MaxSavedImages is the number of most recent generated images kept per user
const MaxSavedImages = 10

// GeneratedImage is a try-on result the user chose to save
type GeneratedImage struct {
	ID               string    `json:"id" db:"id"`
	UserID           string    `json:"user_id" db:"user_id"`
	ImageURL         string    `json:"image_url" db:"image_url"`
	OriginalImageURL string    `json:"original_image_url,omitempty" db:"original_image_url"`
	HaircutStyle     string    `json:"haircut_style" db:"haircut_style"`
	Gender           string    `json:"gender,omitempty" db:"gender"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
