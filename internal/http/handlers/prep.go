package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/sparring-backend/internal/http/response"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
	"github.com/yungbote/sparring-backend/internal/realtime"
	"github.com/yungbote/sparring-backend/internal/services"
)

const prepHeartbeat = 15 * time.Second

type PrepHandler struct {
	log       *logger.Logger
	prep      services.PrepService
	heartbeat time.Duration
}

func NewPrepHandler(log *logger.Logger, prep services.PrepService) *PrepHandler {
	return &PrepHandler{
		log:       log.With("handler", "PrepHandler"),
		prep:      prep,
		heartbeat: prepHeartbeat,
	}
}

// POST /api/sessions/:id/prep
func (h *PrepHandler) StartPrep(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	run, err := h.prep.Start(c.Request.Context(), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"run": run})
}

// GET /api/sessions/:id/prep
func (h *PrepHandler) GetPrep(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	view, err := h.prep.Get(c.Request.Context(), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.RespondOK(c, view)
}

// DELETE /api/sessions/:id/prep
func (h *PrepHandler) CancelPrep(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	if err := h.prep.Cancel(c.Request.Context(), id); err != nil {
		response.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/sessions/:id/prep/events
//
// The first frame is the run snapshot; every later frame is one progress
// event. The stream closes after the terminal event.
func (h *PrepHandler) PrepEvents(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sub, err := h.prep.Subscribe(ctx, id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	flusher, err := realtime.PrepareStream(c.Writer)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "streaming_unsupported", err)
		return
	}
	c.Status(http.StatusOK)

	snap := sub.Snapshot()
	if err := realtime.WriteFrame(c.Writer, strconv.FormatInt(snap.Seq, 10), realtime.SSEEventPrepSnapshot, snap); err != nil {
		return
	}
	flusher.Flush()

	for {
		waitCtx, cancel := context.WithTimeout(ctx, h.heartbeat)
		ev, err := sub.Next(waitCtx)
		cancel()
		switch {
		case errors.Is(err, io.EOF):
			return
		case err != nil && ctx.Err() != nil:
			return
		case errors.Is(err, context.DeadlineExceeded):
			if err := realtime.WritePing(c.Writer); err != nil {
				return
			}
			flusher.Flush()
			continue
		case err != nil:
			h.log.Warn("prep event stream failed", "session_id", id, "error", err)
			return
		}
		if err := realtime.WriteFrame(c.Writer, strconv.FormatInt(ev.Seq, 10), realtime.SSEEventPrepProgress, ev); err != nil {
			return
		}
		flusher.Flush()
	}
}
