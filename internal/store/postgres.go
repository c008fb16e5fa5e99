package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tausifislam01/CloakPost/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// RunMigrations applies the schema. Idempotent.
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		public_key TEXT UNIQUE NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS threads (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS thread_participants (
		thread_id UUID NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		user_id UUID NOT NULL,
		PRIMARY KEY (thread_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		thread_id UUID NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		sender_id UUID NOT NULL,
		body_enc TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		seen_at TIMESTAMPTZ,
		delete_after TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_participants_user ON thread_participants(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, id);
	CREATE INDEX IF NOT EXISTS idx_messages_delete_after ON messages(delete_after) WHERE delete_after IS NOT NULL;
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, publicKey, username string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (public_key, username)
		VALUES ($1, $2)
		RETURNING id, public_key, username, created_at
	`, publicKey, username).Scan(&user.ID, &user.PublicKey, &user.Username, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID. Returns (nil, nil) when absent.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, public_key, username, created_at FROM users WHERE id = $1
	`, id).Scan(&user.ID, &user.PublicKey, &user.Username, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// GetUserByPublicKey retrieves a user by public key. Returns (nil, nil) when absent.
func (s *PostgresStore) GetUserByPublicKey(ctx context.Context, publicKey string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, public_key, username, created_at FROM users WHERE public_key = $1
	`, publicKey).Scan(&user.ID, &user.PublicKey, &user.Username, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// CreateThread creates a thread with the given participants.
func (s *PostgresStore) CreateThread(ctx context.Context, participants []uuid.UUID) (*models.Thread, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	thread, err := insertThreadPG(ctx, tx, participants)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return thread, nil
}

func insertThreadPG(ctx context.Context, tx pgx.Tx, participants []uuid.UUID) (*models.Thread, error) {
	thread := &models.Thread{Participants: participants}
	err := tx.QueryRow(ctx, `
		INSERT INTO threads DEFAULT VALUES RETURNING id, created_at
	`).Scan(&thread.ID, &thread.CreatedAt)
	if err != nil {
		return nil, err
	}
	for _, p := range participants {
		if _, err := tx.Exec(ctx, `
			INSERT INTO thread_participants (thread_id, user_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, thread.ID, p); err != nil {
			return nil, err
		}
	}
	return thread, nil
}

// GetThread retrieves a thread with its participants. Returns (nil, nil) when absent.
func (s *PostgresStore) GetThread(ctx context.Context, id uuid.UUID) (*models.Thread, error) {
	thread := &models.Thread{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, created_at FROM threads WHERE id = $1
	`, id).Scan(&thread.ID, &thread.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM thread_participants WHERE thread_id = $1 ORDER BY user_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var pid uuid.UUID
		if err := rows.Scan(&pid); err != nil {
			return nil, err
		}
		thread.Participants = append(thread.Participants, pid)
	}
	return thread, rows.Err()
}

const directThreadQueryPG = `
	SELECT t.id, t.created_at
	FROM threads t
	JOIN thread_participants pa ON pa.thread_id = t.id AND pa.user_id = $1
	JOIN thread_participants pb ON pb.thread_id = t.id AND pb.user_id = $2
	WHERE (SELECT COUNT(*) FROM thread_participants p WHERE p.thread_id = t.id) = 2
	ORDER BY EXISTS (SELECT 1 FROM messages m WHERE m.thread_id = t.id) DESC,
		t.created_at DESC, t.id DESC
	LIMIT 1
`

// GetOrCreateDirectThread resolves the canonical 1:1 thread for {a,b}
// inside one transaction. Postgres cannot cheaply serialize on a
// many-to-many participant set, so concurrent creators may still slip
// through; the post-commit duplicate reconcile cleans those up.
func (s *PostgresStore) GetOrCreateDirectThread(ctx context.Context, a, b uuid.UUID) (*models.Thread, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	thread := &models.Thread{Participants: []uuid.UUID{a, b}}
	err = tx.QueryRow(ctx, directThreadQueryPG, a, b).Scan(&thread.ID, &thread.CreatedAt)
	switch {
	case err == nil:
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return thread, false, nil
	case errors.Is(err, pgx.ErrNoRows):
		thread, err := insertThreadPG(ctx, tx, []uuid.UUID{a, b})
		if err != nil {
			return nil, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return thread, true, nil
	default:
		return nil, false, err
	}
}

// DeleteEmptyDuplicateThreads removes zero-message threads holding exactly
// {a,b}, other than keep.
func (s *PostgresStore) DeleteEmptyDuplicateThreads(ctx context.Context, keep uuid.UUID, a, b uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM threads WHERE id IN (
			SELECT t.id FROM threads t
			JOIN thread_participants pa ON pa.thread_id = t.id AND pa.user_id = $1
			JOIN thread_participants pb ON pb.thread_id = t.id AND pb.user_id = $2
			WHERE t.id != $3
			  AND (SELECT COUNT(*) FROM thread_participants p WHERE p.thread_id = t.id) = 2
			  AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.thread_id = t.id)
		)
	`, a, b, keep)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteEmptyThreads removes every thread holding no messages.
func (s *PostgresStore) DeleteEmptyThreads(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM threads
		WHERE NOT EXISTS (SELECT 1 FROM messages m WHERE m.thread_id = threads.id)
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// IsParticipant reports whether userID is a member of threadID.
func (s *PostgresStore) IsParticipant(ctx context.Context, threadID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM thread_participants WHERE thread_id = $1 AND user_id = $2
		)
	`, threadID, userID).Scan(&exists)
	return exists, err
}

// ListThreadsForUser returns the user's threads newest-first, each with its
// latest message still encrypted.
func (s *PostgresStore) ListThreadsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]ThreadWithLast, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.created_at
		FROM threads t
		JOIN thread_participants p ON p.thread_id = t.id
		WHERE p.user_id = $1
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ThreadWithLast
	for rows.Next() {
		var item ThreadWithLast
		if err := rows.Scan(&item.Thread.ID, &item.Thread.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		thread, err := s.GetThread(ctx, out[i].Thread.ID)
		if err != nil {
			return nil, err
		}
		if thread != nil {
			out[i].Thread.Participants = thread.Participants
		}
		msg, err := s.latestMessage(ctx, out[i].Thread.ID)
		if err != nil {
			return nil, err
		}
		out[i].LastMessage = msg
	}
	return out, nil
}

func (s *PostgresStore) latestMessage(ctx context.Context, threadID uuid.UUID) (*models.Message, error) {
	msg, err := scanMessagePG(s.pool.QueryRow(ctx, `
		SELECT id, thread_id, sender_id, body_enc, created_at, seen_at, delete_after
		FROM messages WHERE thread_id = $1
		ORDER BY id DESC LIMIT 1
	`, threadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

// InsertMessage persists a ciphertext message.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, thread_id, sender_id, body_enc, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, msg.ID, msg.ThreadID, msg.SenderID, msg.Body, msg.CreatedAt)
	return err
}

// GetMessage retrieves a message by id. Returns (nil, nil) when absent.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg, err := scanMessagePG(s.pool.QueryRow(ctx, `
		SELECT id, thread_id, sender_id, body_enc, created_at, seen_at, delete_after
		FROM messages WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

// ListMessages returns all messages of a thread ascending by id.
func (s *PostgresStore) ListMessages(ctx context.Context, threadID uuid.UUID) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, thread_id, sender_id, body_enc, created_at, seen_at, delete_after
		FROM messages WHERE thread_id = $1
		ORDER BY id ASC
	`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		msg := models.Message{}
		var seenAt, deleteAfter *time.Time
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.SenderID, &msg.Body,
			&msg.CreatedAt, &seenAt, &deleteAfter); err != nil {
			return nil, err
		}
		msg.SeenAt, msg.DeleteAfter = seenAt, deleteAfter
		out = append(out, msg)
	}
	return out, rows.Err()
}

// MarkMessageSeen sets the seen timestamp and deletion deadline. Re-marking
// overwrites both, resetting the deadline.
func (s *PostgresStore) MarkMessageSeen(ctx context.Context, id string, seenAt, deleteAfter time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE messages SET seen_at = $1, delete_after = $2 WHERE id = $3
	`, seenAt, deleteAfter, id)
	return err
}

// DeleteMessage hard-deletes a message if it exists.
func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	return err
}

// DeleteExpiredMessages removes messages whose deadline has passed.
func (s *PostgresStore) DeleteExpiredMessages(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM messages WHERE delete_after IS NOT NULL AND delete_after <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanMessagePG(row pgx.Row) (*models.Message, error) {
	msg := &models.Message{}
	var seenAt, deleteAfter *time.Time
	if err := row.Scan(&msg.ID, &msg.ThreadID, &msg.SenderID, &msg.Body,
		&msg.CreatedAt, &seenAt, &deleteAfter); err != nil {
		return nil, err
	}
	msg.SeenAt, msg.DeleteAfter = seenAt, deleteAfter
	return msg, nil
}
