package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"sidechat/internal/infrastructure/store"
	"sidechat/internal/utils/platformerrors"
)

// SessionsHandler exposes the durable session records.
type SessionsHandler struct {
	sessions store.SessionStore
	log      zerolog.Logger
}

func NewSessionsHandler(sessions store.SessionStore, log zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{
		sessions: sessions,
		log:      log.With().Str("component", "sessions-handler").Logger(),
	}
}

// List returns all stored sessions.
func (h *SessionsHandler) List(c *gin.Context) {
	sessions, err := h.sessions.List(c.Request.Context())
	if err != nil {
		platformerrors.WriteError(c, platformerrors.AsError(c.Request.Context(), platformerrors.LayerHandler, err, "list sessions"), h.log)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// Get returns one session by ID.
func (h *SessionsHandler) Get(c *gin.Context) {
	id := c.Param("id")
	sess, err := h.sessions.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrSessionNotFound) {
		platformerrors.WriteNotFound(c, "session not found")
		return
	}
	if err != nil {
		platformerrors.WriteError(c, platformerrors.AsError(c.Request.Context(), platformerrors.LayerHandler, err, "get session"), h.log)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// Delete removes one session by ID.
func (h *SessionsHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	err := h.sessions.Delete(c.Request.Context(), id)
	if errors.Is(err, store.ErrSessionNotFound) {
		platformerrors.WriteNotFound(c, "session not found")
		return
	}
	if err != nil {
		platformerrors.WriteError(c, platformerrors.AsError(c.Request.Context(), platformerrors.LayerHandler, err, "delete session"), h.log)
		return
	}
	c.Status(http.StatusNoContent)
}
