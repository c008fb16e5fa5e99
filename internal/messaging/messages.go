package messaging

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/Tausifislam01/CloakPost/internal/crypto"
	"github.com/Tausifislam01/CloakPost/internal/metrics"
	"github.com/Tausifislam01/CloakPost/internal/models"
	"github.com/Tausifislam01/CloakPost/internal/store"
)

// MaxBodyRunes bounds message plaintext length.
const MaxBodyRunes = 5000

// Scheduler arms a one-shot deletion for a seen message. Implemented by
// scheduler.Scheduler; kept as an interface here to avoid the dependency
// cycle and to simplify tests.
type Scheduler interface {
	Arm(messageID string, at time.Time)
}

// Messages is the message store: encrypt-and-persist, authorized decrypting
// reads, and the seen transition that starts a message's deletion clock.
type Messages struct {
	db        store.DataStore
	deriver   *crypto.Deriver
	scheduler Scheduler
	ttl       time.Duration
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewMessages creates a message store. scheduler may be nil (tests);
// MarkSeen then relies on the sweep alone.
func NewMessages(db store.DataStore, deriver *crypto.Deriver, scheduler Scheduler, ttl, timeout time.Duration, logger zerolog.Logger) *Messages {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Messages{db: db, deriver: deriver, scheduler: scheduler, ttl: ttl, timeout: timeout, logger: logger}
}

// TTL returns the configured seen-to-deletion interval.
func (m *Messages) TTL() time.Duration { return m.ttl }

func (m *Messages) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.timeout)
}

// Append validates, encrypts and persists a message in one step; plaintext
// never reaches storage. The sender must be a thread participant at call
// time, not merely at connect time.
func (m *Messages) Append(ctx context.Context, threadID, senderID uuid.UUID, plaintext string) (*models.DecryptedMessage, error) {
	bctx, cancel := m.bound(ctx)
	defer cancel()

	member, err := m.db.IsParticipant(bctx, threadID, senderID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrForbidden
	}

	if n := utf8.RuneCountInString(plaintext); n < 1 || n > MaxBodyRunes {
		return nil, ErrValidation
	}

	key := m.deriver.DeriveThreadKey(threadID)
	blob, err := crypto.Encrypt(plaintext, key, crypto.MessageAAD(senderID, threadID))
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:        ulid.Make().String(),
		ThreadID:  threadID,
		SenderID:  senderID,
		Body:      blob,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.db.InsertMessage(bctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesEncrypted.Inc()

	return &models.DecryptedMessage{
		ID:        msg.ID,
		ThreadID:  msg.ThreadID,
		SenderID:  msg.SenderID,
		Body:      plaintext,
		CreatedAt: msg.CreatedAt,
	}, nil
}

// ReadAll returns a thread's messages decrypted, ascending by id. A message
// that fails to decrypt is skipped, not fatal: the thread key never changes
// within a message's lifetime, so a persistent failure means corruption and
// is surfaced to operators via log and counter instead of breaking the
// whole listing.
func (m *Messages) ReadAll(ctx context.Context, threadID, requesterID uuid.UUID) ([]models.DecryptedMessage, error) {
	bctx, cancel := m.bound(ctx)
	defer cancel()

	member, err := m.db.IsParticipant(bctx, threadID, requesterID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrForbidden
	}

	msgs, err := m.db.ListMessages(bctx, threadID)
	if err != nil {
		return nil, err
	}

	key := m.deriver.DeriveThreadKey(threadID)
	out := make([]models.DecryptedMessage, 0, len(msgs))
	for _, msg := range msgs {
		pt, err := crypto.Decrypt(msg.Body, key, crypto.MessageAAD(msg.SenderID, msg.ThreadID))
		if err != nil {
			metrics.DecryptFailures.Inc()
			m.logger.Error().Err(err).
				Str("message", msg.ID).
				Str("thread", threadID.String()).
				Msg("stored ciphertext failed to decrypt")
			continue
		}
		out = append(out, models.DecryptedMessage{
			ID:        msg.ID,
			ThreadID:  msg.ThreadID,
			SenderID:  msg.SenderID,
			Body:      pt,
			CreatedAt: msg.CreatedAt,
		})
	}
	return out, nil
}

// MarkSeen transitions a message to scheduled deletion: seen_at = now,
// delete_after = now + ttl (the configured default when ttl <= 0). Marking
// an already-seen message resets the deadline; that is the chosen policy
// rather than rejecting the second seen. The one-shot timer is re-armed
// accordingly. The message's thread id is returned so callers can notify
// the group without re-reading the row.
func (m *Messages) MarkSeen(ctx context.Context, messageID string, requesterID uuid.UUID, ttl time.Duration) (uuid.UUID, time.Time, error) {
	bctx, cancel := m.bound(ctx)
	defer cancel()

	msg, err := m.db.GetMessage(bctx, messageID)
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	if msg == nil {
		return uuid.Nil, time.Time{}, ErrNotFound
	}

	member, err := m.db.IsParticipant(bctx, msg.ThreadID, requesterID)
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	if !member {
		return uuid.Nil, time.Time{}, ErrForbidden
	}

	if ttl <= 0 {
		ttl = m.ttl
	}
	now := time.Now().UTC()
	deleteAfter := now.Add(ttl)
	if err := m.db.MarkMessageSeen(bctx, messageID, now, deleteAfter); err != nil {
		return uuid.Nil, time.Time{}, err
	}

	if m.scheduler != nil {
		m.scheduler.Arm(messageID, deleteAfter)
	}
	return msg.ThreadID, deleteAfter, nil
}

// Delete hard-deletes a message if it exists. Idempotent: the one-shot
// timer and the sweep may both reach for the same message.
func (m *Messages) Delete(ctx context.Context, messageID string) error {
	bctx, cancel := m.bound(ctx)
	defer cancel()
	return m.db.DeleteMessage(bctx, messageID)
}
