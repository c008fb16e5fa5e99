package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Tausifislam01/CloakPost/internal/crypto"
)

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	PublicKey string `json:"public_key"`
	Username  string `json:"username"`
}

// RegisterResponse represents the registration response.
type RegisterResponse struct {
	ID string `json:"id"`
}

// Register handles identity registration: a signing public key mapped to a
// user id. Account management beyond this lives outside the subsystem.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.PublicKey == "" {
		h.Error(w, http.StatusBadRequest, "public_key is required")
		return
	}
	if _, err := crypto.ParsePublicKey(req.PublicKey); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid public_key: must be base64-encoded Ed25519 public key (32 bytes)")
		return
	}

	username := sanitizeUsername(req.Username)

	// Idempotent: re-registering a known key returns the existing id.
	existing, err := h.db.GetUserByPublicKey(r.Context(), req.PublicKey)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	if existing != nil {
		h.JSON(w, http.StatusOK, RegisterResponse{ID: existing.ID.String()})
		return
	}

	user, err := h.db.CreateUser(r.Context(), req.PublicKey, username)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, RegisterResponse{ID: user.ID.String()})
}
