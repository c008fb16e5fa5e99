package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a registered identity. Account management lives outside this
// subsystem; only the identity needed for request signing and thread
// membership is kept here.
type User struct {
	ID        uuid.UUID `json:"id"`
	PublicKey string    `json:"public_key"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
