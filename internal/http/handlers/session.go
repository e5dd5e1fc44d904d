package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/sparring-backend/internal/http/response"
	"github.com/yungbote/sparring-backend/internal/services"
)

type SessionHandler struct {
	sessions services.SessionService
}

func NewSessionHandler(sessions services.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// POST /api/sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req services.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	sess, err := h.sessions.Create(c.Request.Context(), req)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"session": sess})
}

// GET /api/sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	sess, err := h.sessions.Get(c.Request.Context(), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.RespondOK(c, gin.H{"session": sess})
}

// GET /api/sessions/:id/transcript
func (h *SessionHandler) GetTranscript(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	exchanges, err := h.sessions.Transcript(c.Request.Context(), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.RespondOK(c, gin.H{"session_id": id, "exchanges": exchanges})
}
