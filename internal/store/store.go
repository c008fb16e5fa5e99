package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Tausifislam01/CloakPost/internal/models"
)

// ThreadWithLast pairs a thread with its most recent message (still
// encrypted), for inbox listings.
type ThreadWithLast struct {
	Thread      models.Thread
	LastMessage *models.Message
}

// DataStore defines the interface for persistent storage of users, threads
// and ciphertext messages. Both PostgresStore and SQLiteStore implement it.
// It is the single source of truth; all mutations happen inside per-call
// transactions or single statements.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, publicKey, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByPublicKey(ctx context.Context, publicKey string) (*models.User, error)

	// Thread operations
	CreateThread(ctx context.Context, participants []uuid.UUID) (*models.Thread, error)
	GetThread(ctx context.Context, id uuid.UUID) (*models.Thread, error)

	// GetOrCreateDirectThread resolves the canonical 1:1 thread for a pair
	// inside a single transaction: prefer a thread that already holds
	// messages, else the most recently created, else create. The created
	// flag reports which path was taken.
	GetOrCreateDirectThread(ctx context.Context, a, b uuid.UUID) (*models.Thread, bool, error)

	// DeleteEmptyDuplicateThreads removes every other zero-message thread
	// holding exactly the pair {a,b}, keeping keep. Used by the post-commit
	// reconcile after GetOrCreateDirectThread.
	DeleteEmptyDuplicateThreads(ctx context.Context, keep uuid.UUID, a, b uuid.UUID) (int64, error)

	DeleteEmptyThreads(ctx context.Context) (int64, error)
	IsParticipant(ctx context.Context, threadID, userID uuid.UUID) (bool, error)
	ListThreadsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]ThreadWithLast, error)

	// Message operations
	InsertMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, threadID uuid.UUID) ([]models.Message, error)
	MarkMessageSeen(ctx context.Context, id string, seenAt, deleteAfter time.Time) error

	// DeleteMessage is "delete if exists": deleting an already-deleted
	// message is a no-op, which lets the one-shot timer and the sweep race
	// safely.
	DeleteMessage(ctx context.Context, id string) error

	// DeleteExpiredMessages removes every message whose delete_after is set
	// and not after now. This sweep primitive is the durability guarantee
	// for ephemeral deletion.
	DeleteExpiredMessages(ctx context.Context, now time.Time) (int64, error)
}
