package prep

import (
	"time"

	"github.com/google/uuid"
)

type Phase string

const (
	PhasePending     Phase = "pending"
	PhaseResearching Phase = "researching"
	PhaseExtracting  Phase = "extracting"
	PhaseGenerating  Phase = "generating"
	PhasePersisting  Phase = "persisting"
	PhaseComplete    Phase = "complete"
	PhaseFailed      Phase = "failed"
)

func (p Phase) Terminal() bool { return p == PhaseComplete || p == PhaseFailed }

// Rank orders phases for forward-only checks. Failed ranks with complete.
func (p Phase) Rank() int {
	switch p {
	case PhasePending:
		return 0
	case PhaseResearching:
		return 1
	case PhaseExtracting:
		return 2
	case PhaseGenerating:
		return 3
	case PhasePersisting:
		return 4
	case PhaseComplete, PhaseFailed:
		return 5
	default:
		return -1
	}
}

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

func (s TaskStatus) Terminal() bool { return s == TaskSucceeded || s == TaskFailed }

type GenerationTask struct {
	Category string     `json:"category"`
	Required bool       `json:"required"`
	Status   TaskStatus `json:"status"`
	Attempts int        `json:"attempts"`
	Error    string     `json:"error,omitempty"`
}

// PipelineRun is one execution of the prep pipeline for a session.
type PipelineRun struct {
	ID            uuid.UUID        `json:"id"`
	SessionID     uuid.UUID        `json:"session_id"`
	ScenarioID    string           `json:"scenario_id"`
	Phase         Phase            `json:"phase"`
	Progress      int              `json:"progress"`
	Tasks         []GenerationTask `json:"tasks"`
	FailedTask    string           `json:"failed_task,omitempty"`
	Error         string           `json:"error,omitempty"`
	ResearchError string           `json:"research_error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
}

func (r *PipelineRun) Task(category string) *GenerationTask {
	for i := range r.Tasks {
		if r.Tasks[i].Category == category {
			return &r.Tasks[i]
		}
	}
	return nil
}

func (r *PipelineRun) Clone() *PipelineRun {
	if r == nil {
		return nil
	}
	out := *r
	out.Tasks = append([]GenerationTask(nil), r.Tasks...)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}
