package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Tausifislam01/CloakPost/internal/crypto"
	"github.com/Tausifislam01/CloakPost/internal/models"
	"github.com/Tausifislam01/CloakPost/internal/store"
)

type contextKey string

const UserContextKey contextKey = "user"

// Authentication header names. Websocket upgrades carry the same headers
// with the empty-body hash.
const (
	HeaderUser      = "X-CloakPost-User"
	HeaderNonce     = "X-CloakPost-Nonce"
	HeaderTimestamp = "X-CloakPost-Timestamp"
	HeaderSignature = "X-CloakPost-Signature"
)

var errUnauthenticated = errors.New("unauthenticated")

// AuthMiddleware verifies Ed25519 request signatures. Identity provisioning
// is external; this only maps a signature back to a registered public key.
type AuthMiddleware struct {
	db     store.DataStore
	redis  *store.RedisStore
	window time.Duration
}

// NewAuthMiddleware creates a new auth middleware. redis may be nil in
// development; nonce replay tracking is then skipped.
func NewAuthMiddleware(db store.DataStore, redis *store.RedisStore) *AuthMiddleware {
	return &AuthMiddleware{
		db:     db,
		redis:  redis,
		window: 30 * time.Second, // tight window to limit replay surface
	}
}

// Authenticate verifies a request's signed headers and returns the signing
// user. The request body is read and restored for the downstream handler.
func (m *AuthMiddleware) Authenticate(r *http.Request) (*models.User, error) {
	userID := r.Header.Get(HeaderUser)
	nonce := r.Header.Get(HeaderNonce)
	timestamp := r.Header.Get(HeaderTimestamp)
	signature := r.Header.Get(HeaderSignature)

	if userID == "" || nonce == "" || timestamp == "" || signature == "" {
		return nil, errUnauthenticated
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil || !m.isTimestampValid(ts) {
		return nil, errUnauthenticated
	}
	if len(nonce) < 24 {
		return nil, errUnauthenticated
	}
	if m.redis != nil && m.redis.IsNonceUsed(r.Context(), userID, nonce) {
		return nil, errUnauthenticated
	}

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return nil, errUnauthenticated
	}
	user, err := m.db.GetUserByID(r.Context(), userUUID)
	if err != nil || user == nil {
		return nil, errUnauthenticated
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errUnauthenticated
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body)) // reset for the handler

	signedData := crypto.SignaturePayload(sha256Hex(body), nonce, ts)
	pubkey, err := crypto.ParsePublicKey(user.PublicKey)
	if err != nil {
		return nil, errUnauthenticated
	}
	if err := crypto.VerifySignature(pubkey, signedData, signature); err != nil {
		return nil, errUnauthenticated
	}

	if m.redis != nil {
		m.redis.MarkNonceUsed(r.Context(), userID, nonce, 3*time.Minute)
	}
	return user, nil
}

// RequireAuth rejects unsigned requests with 401.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.Authenticate(r)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AttachAuth resolves the identity when present but never rejects. Used on
// the websocket route, where rejection happens after the upgrade with a
// machine-readable close code.
func (m *AuthMiddleware) AttachAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, err := m.Authenticate(r); err == nil {
			r = r.WithContext(context.WithValue(r.Context(), UserContextKey, user))
		}
		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) isTimestampValid(ts int64) bool {
	now := time.Now().UnixMilli()
	windowMs := m.window.Milliseconds()
	// Only accept timestamps from the recent past; future ones are rejected.
	return ts > now-windowMs && ts <= now
}

func sha256Hex(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetUserFromContext retrieves the authenticated user from the request context.
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}
