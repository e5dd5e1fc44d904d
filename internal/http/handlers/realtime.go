package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/sparring-backend/internal/http/response"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
	"github.com/yungbote/sparring-backend/internal/realtime"
)

const maxStreamChannels = 8

type RealtimeHandler struct {
	Log *logger.Logger
	Hub *realtime.SSEHub
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub) *RealtimeHandler {
	return &RealtimeHandler{
		Log: log.With("handler", "RealtimeHandler"),
		Hub: hub,
	}
}

// GET /api/realtime/stream?channel=session:<id>&channel=prep:<id>
func (h *RealtimeHandler) SSEStream(c *gin.Context) {
	channels, err := streamChannels(c.QueryArray("channel"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_channel", err)
		return
	}

	client := h.Hub.NewSSEClient()
	for _, ch := range channels {
		h.Hub.AddChannel(client, ch)
	}
	h.Log.Debug("SSEStream open", "client_id", client.ID, "channels", len(channels))

	h.Hub.ServeHTTP(c.Writer, c.Request, client)
	h.Hub.CloseClient(client)
}

// streamChannels accepts only per-session channels.
func streamChannels(raw []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, ch := range raw {
		ch = strings.TrimSpace(ch)
		if ch == "" || seen[ch] {
			continue
		}
		prefix, id, ok := strings.Cut(ch, ":")
		if !ok || (prefix != "session" && prefix != "prep") {
			return nil, fmt.Errorf("unknown channel %q", ch)
		}
		if _, err := uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("channel %q: %w", ch, err)
		}
		seen[ch] = true
		out = append(out, ch)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one channel is required")
	}
	if len(out) > maxStreamChannels {
		return nil, fmt.Errorf("at most %d channels per stream", maxStreamChannels)
	}
	return out, nil
}
