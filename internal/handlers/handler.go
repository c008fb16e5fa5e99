package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/Tausifislam01/CloakPost/internal/hub"
	"github.com/Tausifislam01/CloakPost/internal/messaging"
	"github.com/Tausifislam01/CloakPost/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db       store.DataStore
	redis    *store.RedisStore
	registry *messaging.Registry
	messages *messaging.Messages
	hub      *hub.Hub
	logger   zerolog.Logger
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(db store.DataStore, redis *store.RedisStore, registry *messaging.Registry,
	messages *messaging.Messages, h *hub.Hub, logger zerolog.Logger) *Handler {
	return &Handler{
		db:       db,
		redis:    redis,
		registry: registry,
		messages: messages,
		hub:      h,
		logger:   logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// ServiceError maps service-layer errors to client responses. Clients only
// ever see the error category; detail stays in the logs.
func (h *Handler) ServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, messaging.ErrValidation):
		h.Error(w, http.StatusBadRequest, "invalid input")
	case errors.Is(err, messaging.ErrForbidden):
		h.Error(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, messaging.ErrNotFound):
		h.Error(w, http.StatusNotFound, "not found")
	default:
		h.logger.Error().Err(err).Msg("request failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// sanitizeUsername trims and limits a username to 100 characters, removing
// control characters.
func sanitizeUsername(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}
