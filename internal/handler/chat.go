package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/buildhub/buildhub/internal/middleware"
	"github.com/buildhub/buildhub/internal/repository"
	"github.com/buildhub/buildhub/pkg/apperr"
)

// UnreadStore computes per-channel unread counts. *chat.Service satisfies
// it.
type UnreadStore interface {
	UnreadSummary(ctx context.Context, userID uint64) ([]repository.UnreadCount, error)
}

// PresenceReader exposes the read-only presence queries.
// *presence.Tracker satisfies it.
type PresenceReader interface {
	ListOnlineUserIDs(ctx context.Context) ([]uint64, error)
}

// ChatHandler serves the HTTP side of the chat subsystem: the unread summary
// and the online-user listing. The realtime commands live on the websocket
// gateway.
type ChatHandler struct {
	Chat     UnreadStore
	Presence PresenceReader
}

func NewChatHandler(chatSvc UnreadStore, presence PresenceReader) *ChatHandler {
	return &ChatHandler{Chat: chatSvc, Presence: presence}
}

// UnreadSummary returns one count per channel the caller belongs to:
// messages authored by someone else after the caller's last read.
func (h *ChatHandler) UnreadSummary(c echo.Context) error {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		return apperr.Unauthorized("Missing bearer token")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	counts, err := h.Chat.UnreadSummary(ctx, id.UserID)
	if err != nil {
		return err
	}
	if counts == nil {
		counts = []repository.UnreadCount{}
	}
	return c.JSON(http.StatusOK, echo.Map{"channels": counts})
}

// Online lists the ids of currently-online users, most recently connected
// first.
func (h *ChatHandler) Online(c echo.Context) error {
	if _, ok := middleware.CurrentIdentity(c); !ok {
		return apperr.Unauthorized("Missing bearer token")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	ids, err := h.Presence.ListOnlineUserIDs(ctx)
	if err != nil {
		return err
	}
	if ids == nil {
		ids = []uint64{}
	}
	return c.JSON(http.StatusOK, echo.Map{"userIds": ids})
}
