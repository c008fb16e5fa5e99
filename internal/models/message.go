package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is a stored ciphertext message. Body is the base64 AEAD blob
// (nonce || ciphertext+tag); plaintext is never persisted. IDs are ULIDs,
// so lexicographic id order is creation order.
//
// SeenAt and DeleteAfter are set together: DeleteAfter is non-nil iff
// SeenAt is, and always equals SeenAt plus the configured TTL.
type Message struct {
	ID          string     `json:"id"`
	ThreadID    uuid.UUID  `json:"thread_id"`
	SenderID    uuid.UUID  `json:"sender_id"`
	Body        string     `json:"-"` // ciphertext, never serialized to clients
	CreatedAt   time.Time  `json:"created_at"`
	SeenAt      *time.Time `json:"seen_at,omitempty"`
	DeleteAfter *time.Time `json:"delete_after,omitempty"`
}

// DecryptedMessage is a message as returned to an authorized participant,
// with the body decrypted server-side.
type DecryptedMessage struct {
	ID        string    `json:"id"`
	ThreadID  uuid.UUID `json:"thread_id"`
	SenderID  uuid.UUID `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
