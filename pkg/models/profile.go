package models

import (
	"time"
)

// UserProfile is owned 1:1 by a Supabase auth user
type UserProfile struct {
	UserID       string    `json:"user_id" db:"user_id"`
	Email        string    `json:"email" db:"email"`
	FullName     string    `json:"full_name" db:"full_name"`
	AvatarURL    string    `json:"avatar_url" db:"avatar_url"`
	HasProAccess bool      `json:"has_pro_access" db:"has_pro_access"` // legacy one-time payment
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
