package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/sparring-backend/internal/http/response"
	"github.com/yungbote/sparring-backend/internal/services"
)

type AnalysisHandler struct {
	analysis services.AnalysisService
}

func NewAnalysisHandler(analysis services.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{analysis: analysis}
}

// POST /api/sessions/:id/analysis
func (h *AnalysisHandler) RunAnalysis(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	report, err := h.analysis.Analyze(c.Request.Context(), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.RespondOK(c, gin.H{"report": report})
}

// GET /api/sessions/:id/analysis
func (h *AnalysisHandler) GetAnalysis(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	report, err := h.analysis.Get(c.Request.Context(), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.RespondOK(c, gin.H{"report": report})
}
