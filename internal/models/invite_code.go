package models

import (
	"time"

	"github.com/google/uuid"
)

// InviteCode is a single-use code that makes a reservation free.
type InviteCode struct {
	ID        uuid.UUID  `json:"id"`
	Code      string     `json:"code"`
	IsUsed    bool       `json:"is_used"`
	UsedBy    *string    `json:"used_by,omitempty"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
