package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/sparring-backend/internal/http/response"
	"github.com/yungbote/sparring-backend/internal/services"
)

type ScenarioHandler struct {
	scenarios services.Scenarios
}

func NewScenarioHandler(scenarios services.Scenarios) *ScenarioHandler {
	return &ScenarioHandler{scenarios: scenarios}
}

// GET /api/scenarios
func (h *ScenarioHandler) ListScenarios(c *gin.Context) {
	response.RespondOK(c, gin.H{"scenarios": h.scenarios.List()})
}

// GET /api/scenarios/:id
func (h *ScenarioHandler) GetScenario(c *gin.Context) {
	def, err := h.scenarios.Get(c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.RespondOK(c, gin.H{"scenario": def})
}
