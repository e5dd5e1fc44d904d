package practice

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type SessionRow struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey"`
	ScenarioID string         `gorm:"column:scenario_id;not null;index"`
	Inputs     datatypes.JSON `gorm:"column:inputs"`
	Sources    datatypes.JSON `gorm:"column:sources"`
	Status     string         `gorm:"column:status;not null;index"`
	EndReason  string         `gorm:"column:end_reason"`
	CreatedAt  time.Time      `gorm:"not null;index"`
	UpdatedAt  time.Time      `gorm:"not null"`
}

func (SessionRow) TableName() string { return "practice_session" }

// RunRow holds the latest snapshot of a session's prep run.
type RunRow struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey"`
	SessionID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex"`
	ScenarioID    string         `gorm:"column:scenario_id;not null"`
	Phase         string         `gorm:"column:phase;not null;index"`
	Progress      int            `gorm:"column:progress;not null;default:0"`
	Tasks         datatypes.JSON `gorm:"column:tasks"`
	FailedTask    string         `gorm:"column:failed_task"`
	Error         string         `gorm:"column:error"`
	ResearchError string         `gorm:"column:research_error"`
	CreatedAt     time.Time      `gorm:"not null"`
	UpdatedAt     time.Time      `gorm:"not null"`
	FinishedAt    *time.Time     `gorm:"column:finished_at"`
}

func (RunRow) TableName() string { return "prep_run" }

type ArtifactSetRow struct {
	SessionID uuid.UUID      `gorm:"type:uuid;primaryKey"`
	PageShape string         `gorm:"column:page_shape"`
	Brief     datatypes.JSON `gorm:"column:brief"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (ArtifactSetRow) TableName() string { return "prep_artifact_set" }

type ArtifactRow struct {
	SessionID uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Category  string         `gorm:"primaryKey"`
	Title     string         `gorm:"column:title"`
	Output    string         `gorm:"column:output;not null"`
	Text      string         `gorm:"column:text"`
	Data      datatypes.JSON `gorm:"column:data"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (ArtifactRow) TableName() string { return "prep_artifact" }

type ExchangeRow struct {
	SessionID uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Seq       int            `gorm:"primaryKey;autoIncrement:false"`
	Payload   datatypes.JSON `gorm:"column:payload;not null"`
	At        time.Time      `gorm:"not null"`
}

func (ExchangeRow) TableName() string { return "live_exchange" }

type ReportRow struct {
	SessionID       uuid.UUID      `gorm:"type:uuid;primaryKey"`
	TaxonomyVersion string         `gorm:"column:taxonomy_version;not null"`
	Fingerprint     string         `gorm:"column:fingerprint;not null;index"`
	Payload         datatypes.JSON `gorm:"column:payload;not null"`
	CreatedAt       time.Time      `gorm:"not null"`
}

func (ReportRow) TableName() string { return "analysis_report" }

// Models lists every table for automigrate.
func Models() []any {
	return []any{
		&SessionRow{},
		&RunRow{},
		&ArtifactSetRow{},
		&ArtifactRow{},
		&ExchangeRow{},
		&ReportRow{},
	}
}
