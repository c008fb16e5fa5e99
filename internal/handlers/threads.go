package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Tausifislam01/CloakPost/internal/api/middleware"
)

// CreateThreadRequest represents the thread creation request body.
type CreateThreadRequest struct {
	Participants []string `json:"participants"`
}

// ThreadResponse represents a thread id in API responses.
type ThreadResponse struct {
	ID string `json:"id"`
}

// CreateThread handles POST /threads. The caller is always included. Two
// distinct participants take the deduplicated 1:1 path (200 when an
// existing thread is reused, 201 when created); more create a group thread.
func (h *Handler) CreateThread(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserFromContext(r.Context())
	if me == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	seen := map[uuid.UUID]bool{me.ID: true}
	participants := []uuid.UUID{me.ID}
	for _, raw := range req.Participants {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid participant ID format")
			return
		}
		if !seen[id] {
			seen[id] = true
			participants = append(participants, id)
		}
	}

	if len(participants) < 2 {
		h.Error(w, http.StatusBadRequest, "at least one other participant is required")
		return
	}

	if len(participants) == 2 {
		thread, created, err := h.registry.GetOrCreateDirect(r.Context(), participants[0], participants[1])
		if err != nil {
			h.ServiceError(w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		h.JSON(w, status, ThreadResponse{ID: thread.ID.String()})
		return
	}

	thread, err := h.registry.Create(r.Context(), participants)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, ThreadResponse{ID: thread.ID.String()})
}

// DirectThread handles POST /dm/{id}: get-or-create the 1:1 thread with
// another user.
func (h *Handler) DirectThread(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserFromContext(r.Context())
	if me == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	otherID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid user ID format")
		return
	}
	if otherID == me.ID {
		h.Error(w, http.StatusBadRequest, "cannot open a thread with yourself")
		return
	}

	other, err := h.db.GetUserByID(r.Context(), otherID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	if other == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	thread, created, err := h.registry.GetOrCreateDirect(r.Context(), me.ID, other.ID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.JSON(w, status, ThreadResponse{ID: thread.ID.String()})
}

// ListThreads handles GET /threads: the caller's threads newest-first with
// best-effort decrypted previews.
func (h *Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserFromContext(r.Context())
	if me == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	summaries, err := h.registry.ListForParticipant(r.Context(), me.ID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, summaries)
}
