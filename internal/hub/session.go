package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tausifislam01/CloakPost/internal/messaging"
	"github.com/Tausifislam01/CloakPost/internal/metrics"
	"github.com/Tausifislam01/CloakPost/internal/models"
)

// Close codes a connection can be rejected with before any data flows.
const (
	CloseNotParticipant  = 4001
	CloseBadAddress      = 4002
	CloseUnauthenticated = 4003
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 32 * 1024
	sendQueueDepth = 32
)

// clientAction is the closed set of actions a connected client may send.
// The wire envelope is decoded once at the boundary and matched
// exhaustively.
type clientAction interface{ isClientAction() }

type actionSend struct{ Body string }
type actionSeen struct{ MessageID string }

func (actionSend) isClientAction() {}
func (actionSeen) isClientAction() {}

type actionEnvelope struct {
	Action    string `json:"action"`
	Body      string `json:"body"`
	MessageID string `json:"message_id"`
}

func decodeAction(data []byte) (clientAction, error) {
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid JSON")
	}
	switch env.Action {
	case "send":
		return actionSend{Body: env.Body}, nil
	case "seen":
		if env.MessageID == "" {
			return nil, fmt.Errorf("message_id is required")
		}
		return actionSeen{MessageID: env.MessageID}, nil
	default:
		return nil, fmt.Errorf("unknown action")
	}
}

// Session is the per-connection actor bound to exactly one thread. It moves
// Connecting -> Authenticated -> Closed; the authenticated phase translates
// client actions into message store calls and hub broadcasts.
type Session struct {
	hub      *Hub
	conn     *websocket.Conn
	threadID uuid.UUID
	user     *models.User

	registry *messaging.Registry
	messages *messaging.Messages
	logger   zerolog.Logger

	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

// NewSession wraps an upgraded connection that has already passed
// authentication and membership checks.
func NewSession(h *Hub, conn *websocket.Conn, threadID uuid.UUID, user *models.User,
	registry *messaging.Registry, messages *messaging.Messages, logger zerolog.Logger) *Session {
	return &Session{
		hub:      h,
		conn:     conn,
		threadID: threadID,
		user:     user,
		registry: registry,
		messages: messages,
		logger: logger.With().
			Str("thread", threadID.String()).
			Str("user", user.ID.String()).
			Logger(),
		send: make(chan []byte, sendQueueDepth),
		done: make(chan struct{}),
	}
}

// Run joins the thread's group, acknowledges readiness and serves the
// connection until it closes. Blocks until the session ends.
func (s *Session) Run() {
	s.hub.Join(s.threadID, s)
	defer func() {
		s.hub.Leave(s.threadID, s)
		s.close()
	}()

	s.sendJSON(map[string]any{
		"type":   "ready",
		"thread": s.threadID,
		"user":   s.user.Username,
	})

	go s.writePump()
	s.readPump()
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// enqueue hands an event to the session's writer without blocking. A full
// queue means the client is too slow to keep up; the event is dropped and
// counted rather than stalling the rest of the group.
func (s *Session) enqueue(payload []byte) {
	select {
	case s.send <- payload:
	case <-s.done:
	default:
		metrics.BroadcastsDropped.Inc()
		s.logger.Warn().Msg("send queue full, dropping event")
	}
}

func (s *Session) sendJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("event marshal failed")
		return
	}
	s.enqueue(payload)
}

func (s *Session) sendError(detail string) {
	s.sendJSON(map[string]any{"type": "error", "detail": detail})
}

func (s *Session) readPump() {
	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("connection closed unexpectedly")
			}
			return
		}

		action, err := decodeAction(data)
		if err != nil {
			s.sendError(err.Error())
			continue
		}

		switch a := action.(type) {
		case actionSend:
			s.handleSend(a.Body)
		case actionSeen:
			s.handleSeen(a.MessageID)
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// handleSend persists a message and fans it out. Membership is rechecked on
// every send: it may have changed since connect, and the cached state from
// the handshake cannot be trusted. Violations and failures produce local
// error events only; the connection stays open.
func (s *Session) handleSend(body string) {
	ctx := context.Background()

	member, err := s.registry.IsParticipant(ctx, s.threadID, s.user.ID)
	if err != nil {
		s.sendError("failed to send message, please try again")
		return
	}
	if !member {
		s.sendError("you are not a member of this thread")
		return
	}

	// The publish lock spans persist and broadcast so every receiver
	// observes message_new events in store commit order.
	s.hub.LockPublish(s.threadID)
	defer s.hub.UnlockPublish(s.threadID)

	msg, err := s.messages.Append(ctx, s.threadID, s.user.ID, body)
	if err != nil {
		if !errors.Is(err, messaging.ErrValidation) && !errors.Is(err, messaging.ErrForbidden) {
			s.logger.Error().Err(err).Msg("message append failed")
		}
		s.sendError(sendErrorDetail(err))
		return
	}

	// Confirmation to the sender first; the group event skips this
	// connection so the sender never sees its own message twice.
	s.sendJSON(map[string]any{
		"type":       "message_sent",
		"id":         msg.ID,
		"thread":     s.threadID,
		"body":       msg.Body,
		"created_at": msg.CreatedAt.Format(time.RFC3339Nano),
		"sender":     s.user.Username,
	})

	s.hub.Broadcast(s.threadID, map[string]any{
		"event":      "message_new",
		"id":         msg.ID,
		"thread":     s.threadID,
		"sender":     s.user.Username,
		"body":       msg.Body,
		"created_at": msg.CreatedAt.Format(time.RFC3339Nano),
	}, s)
}

// handleSeen starts a message's deletion clock and tells the group who saw
// it. Errors are reported locally only.
func (s *Session) handleSeen(messageID string) {
	ctx := context.Background()

	threadID, deleteAfter, err := s.messages.MarkSeen(ctx, messageID, s.user.ID, 0)
	if err != nil {
		if !errors.Is(err, messaging.ErrNotFound) && !errors.Is(err, messaging.ErrForbidden) {
			s.logger.Error().Err(err).Str("message", messageID).Msg("mark seen failed")
		}
		s.sendError(seenErrorDetail(err))
		return
	}

	s.hub.Broadcast(threadID, map[string]any{
		"event":        "message_seen",
		"id":           messageID,
		"seen_by":      s.user.Username,
		"seen_at":      time.Now().UTC().Format(time.RFC3339Nano),
		"delete_after": deleteAfter.Format(time.RFC3339Nano),
	}, nil)
}

// sendErrorDetail maps an append failure to the client-facing detail.
// Category only; specifics stay in the logs.
func sendErrorDetail(err error) string {
	switch {
	case errors.Is(err, messaging.ErrValidation):
		return fmt.Sprintf("message must be between 1 and %d characters", messaging.MaxBodyRunes)
	case errors.Is(err, messaging.ErrForbidden):
		return "you are not a member of this thread"
	default:
		return "failed to send message, please try again"
	}
}

// seenErrorDetail maps a mark-seen failure to the client-facing detail.
func seenErrorDetail(err error) string {
	switch {
	case errors.Is(err, messaging.ErrNotFound):
		return "message not found"
	case errors.Is(err, messaging.ErrForbidden):
		return "forbidden"
	default:
		return "failed to mark message seen"
	}
}
