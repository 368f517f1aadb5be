package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/proto"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

const (
	defaultHistoryPage = 100
	maxHistoryPage     = 500
)

// HistoryHandlers serves read-only views of stored room messages.
type HistoryHandlers struct {
	store store.MessageStore
	log   *zerolog.Logger
}

// NewHistoryHandlers creates a new history handlers instance.
func NewHistoryHandlers(st store.MessageStore, logger *zerolog.Logger) *HistoryHandlers {
	return &HistoryHandlers{
		store: st,
		log:   logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessagesResponse is one page of room messages, oldest first.
// NextAfter is the cursor for the following page.
type MessagesResponse struct {
	Room      string                       `json:"room"`
	Messages  []proto.EventChatMessageData `json:"messages"`
	NextAfter int64                        `json:"next_after"`
}

// ListMessages returns messages of a room with id > after.
// GET /api/rooms/:room/messages?after=&limit=
func (h *HistoryHandlers) ListMessages(c *gin.Context) {
	room := c.Param("room")

	after, err := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil || after < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "after must be a non-negative integer"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryPage)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
		return
	}
	limit = min(limit, maxHistoryPage)

	rows, err := h.store.ScanRoom(c.Request.Context(), room, after, limit)
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("failed to scan room")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "store unavailable"})
		return
	}

	resp := MessagesResponse{
		Room:      room,
		Messages:  make([]proto.EventChatMessageData, 0, len(rows)),
		NextAfter: after,
	}
	for _, m := range rows {
		resp.Messages = append(resp.Messages, proto.EventChatMessageData{
			ID:       m.ID,
			Room:     m.Room,
			Nickname: m.Nickname,
			Text:     m.Content,
			TS:       m.CreatedAt.UnixMilli(),
		})
		resp.NextAfter = m.ID
	}

	c.JSON(http.StatusOK, resp)
}
