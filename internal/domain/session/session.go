package session

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusLive      Status = "live"
	StatusEnded     Status = "ended"
	StatusAnalyzed  Status = "analyzed"
)

type Session struct {
	ID         uuid.UUID         `json:"id"`
	ScenarioID string            `json:"scenario_id"`
	Inputs     map[string]string `json:"inputs"`
	Sources    []string          `json:"sources,omitempty"`
	Status     Status            `json:"status"`
	EndReason  string            `json:"end_reason,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}
