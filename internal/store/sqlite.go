package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Tausifislam01/CloakPost/internal/models"
)

// SQLiteStore handles SQLite database operations. It backs development and
// tests; production runs PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/cloakpost.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/cloakpost.db"
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	// A single connection keeps :memory: databases alive across calls and
	// serializes writers the way SQLite expects.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		public_key TEXT UNIQUE NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS thread_participants (
		thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		PRIMARY KEY (thread_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL,
		body_enc TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		seen_at DATETIME,
		delete_after DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_users_public_key ON users(public_key);
	CREATE INDEX IF NOT EXISTS idx_participants_user ON thread_participants(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, id);
	CREATE INDEX IF NOT EXISTS idx_messages_delete_after ON messages(delete_after) WHERE delete_after IS NOT NULL;
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, publicKey, username string) (*models.User, error) {
	id := uuid.New()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, public_key, username, created_at)
		VALUES (?, ?, ?, ?)
	`, id.String(), publicKey, username, now)
	if err != nil {
		return nil, err
	}
	return &models.User{ID: id, PublicKey: publicKey, Username: username, CreatedAt: now}, nil
}

// GetUserByID retrieves a user by ID. Returns (nil, nil) when absent.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, public_key, username, created_at FROM users WHERE id = ?
	`, id.String()))
}

// GetUserByPublicKey retrieves a user by public key. Returns (nil, nil) when absent.
func (s *SQLiteStore) GetUserByPublicKey(ctx context.Context, publicKey string) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, public_key, username, created_at FROM users WHERE public_key = ?
	`, publicKey))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	var idStr string
	err := row.Scan(&idStr, &user.PublicKey, &user.Username, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.ID = uuid.MustParse(idStr)
	return user, nil
}

// CreateThread creates a thread with the given participants.
func (s *SQLiteStore) CreateThread(ctx context.Context, participants []uuid.UUID) (*models.Thread, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	thread, err := insertThreadSQLite(ctx, tx, participants)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return thread, nil
}

func insertThreadSQLite(ctx context.Context, tx *sql.Tx, participants []uuid.UUID) (*models.Thread, error) {
	id := uuid.New()
	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO threads (id, created_at) VALUES (?, ?)
	`, id.String(), now); err != nil {
		return nil, err
	}
	for _, p := range participants {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO thread_participants (thread_id, user_id) VALUES (?, ?)
		`, id.String(), p.String()); err != nil {
			return nil, err
		}
	}
	return &models.Thread{ID: id, Participants: participants, CreatedAt: now}, nil
}

// GetThread retrieves a thread with its participants. Returns (nil, nil) when absent.
func (s *SQLiteStore) GetThread(ctx context.Context, id uuid.UUID) (*models.Thread, error) {
	thread := &models.Thread{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at FROM threads WHERE id = ?
	`, id.String()).Scan(&thread.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM thread_participants WHERE thread_id = ? ORDER BY user_id
	`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var pid string
		if err := rows.Scan(&pid); err != nil {
			return nil, err
		}
		thread.Participants = append(thread.Participants, uuid.MustParse(pid))
	}
	return thread, rows.Err()
}

// directThreadQuery selects candidate 1:1 threads for a pair, preferring a
// thread that already holds messages, then the most recently created.
const directThreadQuerySQLite = `
	SELECT t.id, t.created_at,
		(SELECT COUNT(*) FROM messages m WHERE m.thread_id = t.id) AS msg_count
	FROM threads t
	JOIN thread_participants pa ON pa.thread_id = t.id AND pa.user_id = ?
	JOIN thread_participants pb ON pb.thread_id = t.id AND pb.user_id = ?
	WHERE (SELECT COUNT(*) FROM thread_participants p WHERE p.thread_id = t.id) = 2
	ORDER BY (msg_count > 0) DESC, t.created_at DESC, t.id DESC
	LIMIT 1
`

// GetOrCreateDirectThread resolves the canonical 1:1 thread for {a,b} in a
// single transaction so concurrent callers cannot both create one
// unobserved. SQLite serializes writers, which bounds the race window; the
// caller still runs the duplicate reconcile afterwards.
func (s *SQLiteStore) GetOrCreateDirectThread(ctx context.Context, a, b uuid.UUID) (*models.Thread, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	var idStr string
	var createdAt time.Time
	var msgCount int
	err = tx.QueryRowContext(ctx, directThreadQuerySQLite, a.String(), b.String()).
		Scan(&idStr, &createdAt, &msgCount)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		return &models.Thread{
			ID:           uuid.MustParse(idStr),
			Participants: []uuid.UUID{a, b},
			CreatedAt:    createdAt,
		}, false, nil
	case errors.Is(err, sql.ErrNoRows):
		thread, err := insertThreadSQLite(ctx, tx, []uuid.UUID{a, b})
		if err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		return thread, true, nil
	default:
		return nil, false, err
	}
}

// DeleteEmptyDuplicateThreads removes zero-message threads holding exactly
// {a,b}, other than keep.
func (s *SQLiteStore) DeleteEmptyDuplicateThreads(ctx context.Context, keep uuid.UUID, a, b uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM threads WHERE id IN (
			SELECT t.id FROM threads t
			JOIN thread_participants pa ON pa.thread_id = t.id AND pa.user_id = ?
			JOIN thread_participants pb ON pb.thread_id = t.id AND pb.user_id = ?
			WHERE t.id != ?
			  AND (SELECT COUNT(*) FROM thread_participants p WHERE p.thread_id = t.id) = 2
			  AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.thread_id = t.id)
		)
	`, a.String(), b.String(), keep.String())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteEmptyThreads removes every thread holding no messages.
func (s *SQLiteStore) DeleteEmptyThreads(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM threads
		WHERE NOT EXISTS (SELECT 1 FROM messages m WHERE m.thread_id = threads.id)
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// IsParticipant reports whether userID is a member of threadID.
func (s *SQLiteStore) IsParticipant(ctx context.Context, threadID, userID uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM thread_participants WHERE thread_id = ? AND user_id = ?
	`, threadID.String(), userID.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListThreadsForUser returns the user's threads newest-first, each with its
// latest message still encrypted.
func (s *SQLiteStore) ListThreadsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]ThreadWithLast, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.created_at
		FROM threads t
		JOIN thread_participants p ON p.thread_id = t.id
		WHERE p.user_id = ?
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT ?
	`, userID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ThreadWithLast
	for rows.Next() {
		var idStr string
		var createdAt time.Time
		if err := rows.Scan(&idStr, &createdAt); err != nil {
			return nil, err
		}
		out = append(out, ThreadWithLast{Thread: models.Thread{
			ID:        uuid.MustParse(idStr),
			CreatedAt: createdAt,
		}})
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

func (s *SQLiteStore) latestMessage(ctx context.Context, threadID uuid.UUID) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, sender_id, body_enc, created_at, seen_at, delete_after
		FROM messages WHERE thread_id = ?
		ORDER BY id DESC LIMIT 1
	`, threadID.String())
	msg, err := scanMessageSQLite(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

// InsertMessage persists a ciphertext message.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, sender_id, body_enc, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.ThreadID.String(), msg.SenderID.String(), msg.Body, msg.CreatedAt)
	return err
}

// GetMessage retrieves a message by id. Returns (nil, nil) when absent.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, sender_id, body_enc, created_at, seen_at, delete_after
		FROM messages WHERE id = ?
	`, id)
	msg, err := scanMessageSQLite(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

// ListMessages returns all messages of a thread ascending by id
// (ULIDs: creation order).
func (s *SQLiteStore) ListMessages(ctx context.Context, threadID uuid.UUID) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, sender_id, body_enc, created_at, seen_at, delete_after
		FROM messages WHERE thread_id = ?
		ORDER BY id ASC
	`, threadID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		msg, err := scanMessageSQLite(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

// MarkMessageSeen sets the seen timestamp and deletion deadline. Re-marking
// overwrites both, resetting the deadline.
func (s *SQLiteStore) MarkMessageSeen(ctx context.Context, id string, seenAt, deleteAfter time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET seen_at = ?, delete_after = ? WHERE id = ?
	`, seenAt, deleteAfter, id)
	return err
}

// DeleteMessage hard-deletes a message if it exists.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	return err
}

// DeleteExpiredMessages removes messages whose deadline has passed.
func (s *SQLiteStore) DeleteExpiredMessages(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE delete_after IS NOT NULL AND delete_after <= ?
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanMessageSQLite(scan func(...any) error) (*models.Message, error) {
	msg := &models.Message{}
	var threadStr, senderStr string
	var seenAt, deleteAfter sql.NullTime
	if err := scan(&msg.ID, &threadStr, &senderStr, &msg.Body, &msg.CreatedAt, &seenAt, &deleteAfter); err != nil {
		return nil, err
	}
	msg.ThreadID = uuid.MustParse(threadStr)
	msg.SenderID = uuid.MustParse(senderStr)
	if seenAt.Valid {
		t := seenAt.Time
		msg.SeenAt = &t
	}
	if deleteAfter.Valid {
		t := deleteAfter.Time
		msg.DeleteAfter = &t
	}
	return msg, nil
}
