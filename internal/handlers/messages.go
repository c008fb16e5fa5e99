package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Tausifislam01/CloakPost/internal/api/middleware"
)

// PostMessageRequest represents the message creation request body.
type PostMessageRequest struct {
	Body string `json:"body"`
}

// PostMessageResponse represents the created message.
type PostMessageResponse struct {
	ID        string    `json:"id"`
	Sender    uuid.UUID `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// MarkSeenRequest optionally overrides the deletion TTL.
type MarkSeenRequest struct {
	TTLMinutes int `json:"ttl_minutes"`
}

// MarkSeenResponse reports the scheduled deletion deadline.
type MarkSeenResponse struct {
	DeleteAfter time.Time `json:"delete_after"`
}

// PostMessage handles POST /threads/{id}/messages. The websocket is the
// primary send path; this REST path persists and broadcasts the same way.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserFromContext(r.Context())
	if me == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	threadID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid thread ID format")
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Persist and broadcast under the thread's publish lock so connected
	// sessions observe events in commit order.
	h.hub.LockPublish(threadID)
	defer h.hub.UnlockPublish(threadID)

	msg, err := h.messages.Append(r.Context(), threadID, me.ID, req.Body)
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	h.hub.Broadcast(threadID, map[string]any{
		"event":      "message_new",
		"id":         msg.ID,
		"thread":     threadID,
		"sender":     me.Username,
		"body":       msg.Body,
		"created_at": msg.CreatedAt.Format(time.RFC3339Nano),
	}, nil)

	h.JSON(w, http.StatusCreated, PostMessageResponse{
		ID:        msg.ID,
		Sender:    msg.SenderID,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	})
}

// ListMessages handles GET /threads/{id}/messages: the thread's messages
// decrypted, ascending by id. Individual messages that fail decryption are
// omitted, never an error.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserFromContext(r.Context())
	if me == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	threadID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid thread ID format")
		return
	}

	msgs, err := h.messages.ReadAll(r.Context(), threadID, me.ID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, msgs)
}

// MarkSeen handles POST /messages/{id}/seen: starts the message's deletion
// clock and reports the deadline.
func (h *Handler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserFromContext(r.Context())
	if me == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	messageID := chi.URLParam(r, "id")
	if messageID == "" {
		h.Error(w, http.StatusBadRequest, "message ID is required")
		return
	}

	var ttl time.Duration
	if r.ContentLength > 0 {
		var req MarkSeenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.TTLMinutes < 0 {
			h.Error(w, http.StatusBadRequest, "ttl_minutes must not be negative")
			return
		}
		ttl = time.Duration(req.TTLMinutes) * time.Minute
	}

	threadID, deleteAfter, err := h.messages.MarkSeen(r.Context(), messageID, me.ID, ttl)
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	h.hub.Broadcast(threadID, map[string]any{
		"event":        "message_seen",
		"id":           messageID,
		"seen_by":      me.Username,
		"seen_at":      time.Now().UTC().Format(time.RFC3339Nano),
		"delete_after": deleteAfter.Format(time.RFC3339Nano),
	}, nil)

	h.JSON(w, http.StatusOK, MarkSeenResponse{DeleteAfter: deleteAfter})
}
