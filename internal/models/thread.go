package models

import (
	"time"

	"github.com/google/uuid"
)

// Thread is a conversation identity owning an ordered set of messages.
// For 1:1 threads at most one non-empty thread may exist per unordered
// participant pair; empty duplicates are transient and swept.
type Thread struct {
	ID           uuid.UUID   `json:"id"`
	Participants []uuid.UUID `json:"participants"`
	CreatedAt    time.Time   `json:"created_at"`
}

// ThreadSummary is a thread with its decrypted latest-message preview,
// as returned by the inbox listing. Preview is nil when the thread is
// empty or the preview failed to decrypt.
type ThreadSummary struct {
	Thread
	Preview *string `json:"last_message"`
}
