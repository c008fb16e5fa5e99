package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tausifislam01/CloakPost/internal/crypto"
	"github.com/Tausifislam01/CloakPost/internal/metrics"
	"github.com/Tausifislam01/CloakPost/internal/models"
	"github.com/Tausifislam01/CloakPost/internal/store"
)

// Registry owns conversation identities: canonical 1:1 lookup, group
// creation, membership checks and inbox listings.
type Registry struct {
	db      store.DataStore
	deriver *crypto.Deriver
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRegistry creates a thread registry.
func NewRegistry(db store.DataStore, deriver *crypto.Deriver, timeout time.Duration, logger zerolog.Logger) *Registry {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Registry{db: db, deriver: deriver, timeout: timeout, logger: logger}
}

func (r *Registry) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// GetOrCreateDirect resolves the canonical 1:1 thread for a pair. The
// read-decide-write runs in one store transaction; afterwards any other
// empty thread for the same pair is reconciled away in the background, so
// racing creators converge on a single non-empty thread.
//
// The reconcile runs on the created path too: when two callers race, both
// transactions can commit a fresh thread before either sees the other, and
// then every caller observes created == true. Reconciling only on reuse
// would leave both duplicates standing until each collects messages, at
// which point no sweep can merge them.
func (r *Registry) GetOrCreateDirect(ctx context.Context, a, b uuid.UUID) (*models.Thread, bool, error) {
	bctx, cancel := r.bound(ctx)
	defer cancel()

	thread, created, err := r.db.GetOrCreateDirectThread(bctx, a, b)
	if err != nil {
		return nil, false, err
	}
	if created {
		metrics.ThreadsCreated.Inc()
	}
	go r.reconcileDuplicates(a, b)
	return thread, created, nil
}

// reconcileDuplicates deletes empty duplicate threads for a pair just after
// a thread was resolved. The survivor is re-resolved here rather than taken
// from the caller: the store query is deterministic, so racing reconciles
// agree on the same thread to keep instead of each deleting the other's.
// Best effort; the periodic empty-thread sweep is the backstop.
func (r *Registry) reconcileDuplicates(a, b uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	canonical, _, err := r.db.GetOrCreateDirectThread(ctx, a, b)
	if err != nil {
		r.logger.Error().Err(err).Msg("duplicate thread reconcile failed to resolve canonical thread")
		return
	}

	n, err := r.db.DeleteEmptyDuplicateThreads(ctx, canonical.ID, a, b)
	if err != nil {
		r.logger.Error().Err(err).Str("thread", canonical.ID.String()).Msg("duplicate thread reconcile failed")
		return
	}
	if n > 0 {
		metrics.EmptyThreadsSwept.Add(float64(n))
		r.logger.Info().Int64("deleted", n).Str("thread", canonical.ID.String()).Msg("reconciled duplicate threads")
	}
}

// Create makes a new thread with the given participants. Used for group
// threads; no dedup applies beyond the 1:1 path.
func (r *Registry) Create(ctx context.Context, participants []uuid.UUID) (*models.Thread, error) {
	if len(participants) < 2 {
		return nil, ErrValidation
	}
	bctx, cancel := r.bound(ctx)
	defer cancel()

	thread, err := r.db.CreateThread(bctx, participants)
	if err != nil {
		return nil, err
	}
	metrics.ThreadsCreated.Inc()
	return thread, nil
}

// IsParticipant is the authorization primitive every read or write to a
// thread must pass first.
func (r *Registry) IsParticipant(ctx context.Context, threadID, userID uuid.UUID) (bool, error) {
	bctx, cancel := r.bound(ctx)
	defer cancel()
	return r.db.IsParticipant(bctx, threadID, userID)
}

// GetThread loads a thread, or nil when it does not exist.
func (r *Registry) GetThread(ctx context.Context, id uuid.UUID) (*models.Thread, error) {
	bctx, cancel := r.bound(ctx)
	defer cancel()
	return r.db.GetThread(bctx, id)
}

// ListForParticipant returns the user's threads newest-first with a
// best-effort decrypted preview of the latest message. Preview decryption
// failure yields a nil preview, never an error to the caller.
func (r *Registry) ListForParticipant(ctx context.Context, userID uuid.UUID) ([]models.ThreadSummary, error) {
	bctx, cancel := r.bound(ctx)
	defer cancel()

	items, err := r.db.ListThreadsForUser(bctx, userID, 50)
	if err != nil {
		return nil, err
	}

	out := make([]models.ThreadSummary, 0, len(items))
	for _, item := range items {
		summary := models.ThreadSummary{Thread: item.Thread}
		if msg := item.LastMessage; msg != nil {
			key := r.deriver.DeriveThreadKey(msg.ThreadID)
			aad := crypto.MessageAAD(msg.SenderID, msg.ThreadID)
			if pt, err := crypto.Decrypt(msg.Body, key, aad); err == nil {
				summary.Preview = &pt
			} else {
				metrics.DecryptFailures.Inc()
				r.logger.Error().Err(err).Str("message", msg.ID).Msg("preview decryption failed")
			}
		}
		out = append(out, summary)
	}
	return out, nil
}

// DeleteEmptyThreads removes threads without messages. Run periodically by
// the sweep as the backstop for missed duplicate reconciles.
func (r *Registry) DeleteEmptyThreads(ctx context.Context) (int64, error) {
	bctx, cancel := r.bound(ctx)
	defer cancel()

	n, err := r.db.DeleteEmptyThreads(bctx)
	if err == nil && n > 0 {
		metrics.EmptyThreadsSwept.Add(float64(n))
	}
	return n, err
}
