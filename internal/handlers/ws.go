package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tausifislam01/CloakPost/internal/api/middleware"
	"github.com/Tausifislam01/CloakPost/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Signature auth, not cookies, authenticates connections; origin
	// checking adds nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ThreadSocket handles GET /ws/threads/{id}: the persistent realtime
// connection bound to one thread. Authentication, address and membership
// are validated before any data is exchanged; rejections use distinct
// close codes so clients can tell the cases apart.
func (h *Handler) ThreadSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error.
		return
	}

	me := middleware.GetUserFromContext(r.Context())
	if me == nil {
		closeWith(conn, hub.CloseUnauthenticated, "authentication required")
		return
	}

	threadID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		closeWith(conn, hub.CloseBadAddress, "invalid thread ID")
		return
	}

	member, err := h.registry.IsParticipant(r.Context(), threadID, me.ID)
	if err != nil {
		closeWith(conn, websocket.CloseInternalServerErr, "membership check failed")
		return
	}
	if !member {
		closeWith(conn, hub.CloseNotParticipant, "not a participant")
		return
	}

	session := hub.NewSession(h.hub, conn, threadID, me, h.registry, h.messages, h.logger)
	session.Run()
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(5 * time.Second)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}
