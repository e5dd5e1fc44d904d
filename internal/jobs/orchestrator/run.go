package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/sparring-backend/internal/domain/prep"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
)

// Progress checkpoints per phase. Generating fills the span between its
// start and persisting as tasks finish.
var phaseProgress = map[prep.Phase]int{
	prep.PhasePending:     0,
	prep.PhaseResearching: 5,
	prep.PhaseExtracting:  25,
	prep.PhaseGenerating:  30,
	prep.PhasePersisting:  90,
	prep.PhaseComplete:    100,
}

// NewRun creates a pending run with one task per configured category.
func NewRun(sessionID uuid.UUID, def *scenario.Definition) *prep.PipelineRun {
	now := time.Now().UTC()
	run := &prep.PipelineRun{
		ID:         uuid.New(),
		SessionID:  sessionID,
		ScenarioID: def.ID,
		Phase:      prep.PhasePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, t := range def.Pipeline.Tasks {
		run.Tasks = append(run.Tasks, prep.GenerationTask{
			Category: t.Category,
			Required: t.Required,
			Status:   prep.TaskPending,
		})
	}
	return run
}

func generatingProgress(done, total int) int {
	start := phaseProgress[prep.PhaseGenerating]
	end := phaseProgress[prep.PhasePersisting]
	if total <= 0 {
		return end
	}
	return start + (end-start)*done/total
}
