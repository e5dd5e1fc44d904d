package practice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/sparring-backend/internal/domain/analysis"
	"github.com/yungbote/sparring-backend/internal/domain/live"
	"github.com/yungbote/sparring-backend/internal/domain/prep"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
	"github.com/yungbote/sparring-backend/internal/domain/session"
	"github.com/yungbote/sparring-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
)

type gormStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGormStore(db *gorm.DB, baseLog *logger.Logger) Store {
	return &gormStore{
		db:  db,
		log: baseLog.With("repo", "PracticeStore"),
	}
}

func (r *gormStore) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func notFound(err error, what string, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, pkgerrors.ErrNotFound)
	}
	return err
}

func toJSON(v any) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func (r *gormStore) CreateSession(ctx context.Context, s *session.Session) error {
	inputs, err := toJSON(s.Inputs)
	if err != nil {
		return err
	}
	sources, err := toJSON(s.Sources)
	if err != nil {
		return err
	}
	row := SessionRow{
		ID:         s.ID,
		ScenarioID: s.ScenarioID,
		Inputs:     inputs,
		Sources:    sources,
		Status:     string(s.Status),
		EndReason:  s.EndReason,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
	return r.tx(dbctx.Context{Ctx: ctx}).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func (r *gormStore) GetSession(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	var row SessionRow
	if err := r.tx(dbctx.Context{Ctx: ctx}).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, "session", id)
	}
	out := &session.Session{
		ID:         row.ID,
		ScenarioID: row.ScenarioID,
		Status:     session.Status(row.Status),
		EndReason:  row.EndReason,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	if len(row.Inputs) > 0 {
		if err := json.Unmarshal(row.Inputs, &out.Inputs); err != nil {
			return nil, fmt.Errorf("decode session inputs: %w", err)
		}
	}
	if len(row.Sources) > 0 {
		if err := json.Unmarshal(row.Sources, &out.Sources); err != nil {
			return nil, fmt.Errorf("decode session sources: %w", err)
		}
	}
	return out, nil
}

func (r *gormStore) UpdateSessionStatus(ctx context.Context, id uuid.UUID, status session.Status, endReason string) error {
	updates := map[string]interface{}{
		"status":     string(status),
		"updated_at": time.Now().UTC(),
	}
	if endReason != "" {
		updates["end_reason"] = endReason
	}
	res := r.tx(dbctx.Context{Ctx: ctx}).Model(&SessionRow{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %s: %w", id, pkgerrors.ErrNotFound)
	}
	return nil
}

func (r *gormStore) SaveRun(ctx context.Context, run *prep.PipelineRun) error {
	tasks, err := toJSON(run.Tasks)
	if err != nil {
		return err
	}
	row := RunRow{
		ID:            run.ID,
		SessionID:     run.SessionID,
		ScenarioID:    run.ScenarioID,
		Phase:         string(run.Phase),
		Progress:      run.Progress,
		Tasks:         tasks,
		FailedTask:    run.FailedTask,
		Error:         run.Error,
		ResearchError: run.ResearchError,
		CreatedAt:     run.CreatedAt,
		UpdatedAt:     run.UpdatedAt,
		FinishedAt:    run.FinishedAt,
	}
	return r.tx(dbctx.Context{Ctx: ctx}).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"id", "phase", "progress", "tasks", "failed_task", "error",
				"research_error", "updated_at", "finished_at",
			}),
		}).
		Create(&row).Error
}

func (r *gormStore) LoadRun(ctx context.Context, sessionID uuid.UUID) (*prep.PipelineRun, error) {
	var row RunRow
	if err := r.tx(dbctx.Context{Ctx: ctx}).Where("session_id = ?", sessionID).First(&row).Error; err != nil {
		return nil, notFound(err, "prep run for session", sessionID)
	}
	run := &prep.PipelineRun{
		ID:            row.ID,
		SessionID:     row.SessionID,
		ScenarioID:    row.ScenarioID,
		Phase:         prep.Phase(row.Phase),
		Progress:      row.Progress,
		FailedTask:    row.FailedTask,
		Error:         row.Error,
		ResearchError: row.ResearchError,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
		FinishedAt:    row.FinishedAt,
	}
	if len(row.Tasks) > 0 {
		if err := json.Unmarshal(row.Tasks, &run.Tasks); err != nil {
			return nil, fmt.Errorf("decode run tasks: %w", err)
		}
	}
	return run, nil
}

// SaveArtifacts replaces the session's artifact set in one transaction.
// Categories absent from set are removed so a re-run never leaves stale
// output behind.
func (r *gormStore) SaveArtifacts(ctx context.Context, sessionID uuid.UUID, set prep.ArtifactSet) error {
	brief, err := toJSON(set.Brief)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: txx}
		head := ArtifactSetRow{SessionID: sessionID, PageShape: set.PageShape, Brief: brief, UpdatedAt: now}
		if err := r.tx(dbc).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"page_shape", "brief", "updated_at"}),
		}).Create(&head).Error; err != nil {
			return err
		}
		keep := set.Categories()
		del := r.tx(dbc).Where("session_id = ?", sessionID)
		if len(keep) > 0 {
			del = del.Where("category NOT IN ?", keep)
		}
		if err := del.Delete(&ArtifactRow{}).Error; err != nil {
			return err
		}
		for _, cat := range keep {
			a := set.Artifacts[cat]
			row := ArtifactRow{
				SessionID: sessionID,
				Category:  cat,
				Title:     a.Title,
				Output:    string(a.Output),
				Text:      a.Text,
				Data:      datatypes.JSON(a.Data),
				UpdatedAt: now,
			}
			if err := r.tx(dbc).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "session_id"}, {Name: "category"}},
				DoUpdates: clause.AssignmentColumns([]string{"title", "output", "text", "data", "updated_at"}),
			}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *gormStore) LoadArtifacts(ctx context.Context, sessionID uuid.UUID) (prep.ArtifactSet, error) {
	dbc := dbctx.Context{Ctx: ctx}
	var head ArtifactSetRow
	if err := r.tx(dbc).Where("session_id = ?", sessionID).First(&head).Error; err != nil {
		return prep.ArtifactSet{}, notFound(err, "artifacts for session", sessionID)
	}
	set := prep.ArtifactSet{PageShape: head.PageShape, Artifacts: map[string]prep.Artifact{}}
	if len(head.Brief) > 0 && string(head.Brief) != "null" {
		set.Brief = &prep.StrategicBrief{}
		if err := json.Unmarshal(head.Brief, set.Brief); err != nil {
			return prep.ArtifactSet{}, fmt.Errorf("decode brief: %w", err)
		}
	}
	var rows []ArtifactRow
	if err := r.tx(dbc).Where("session_id = ?", sessionID).Order("category ASC").Find(&rows).Error; err != nil {
		return prep.ArtifactSet{}, err
	}
	for _, row := range rows {
		a := prep.Artifact{
			Category: row.Category,
			Title:    row.Title,
			Output:   scenario.OutputKind(row.Output),
			Text:     row.Text,
		}
		if len(row.Data) > 0 {
			a.Data = json.RawMessage(row.Data)
		}
		set.Artifacts[row.Category] = a
	}
	return set, nil
}

func (r *gormStore) AppendExchange(ctx context.Context, sessionID uuid.UUID, ex live.Exchange) error {
	payload, err := toJSON(ex)
	if err != nil {
		return err
	}
	row := ExchangeRow{SessionID: sessionID, Seq: ex.Seq, Payload: payload, At: ex.At}
	return r.tx(dbctx.Context{Ctx: ctx}).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func (r *gormStore) LoadTranscript(ctx context.Context, sessionID uuid.UUID) ([]live.Exchange, error) {
	var rows []ExchangeRow
	if err := r.tx(dbctx.Context{Ctx: ctx}).
		Where("session_id = ?", sessionID).
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]live.Exchange, 0, len(rows))
	for _, row := range rows {
		var ex live.Exchange
		if err := json.Unmarshal(row.Payload, &ex); err != nil {
			return nil, fmt.Errorf("decode exchange %d: %w", row.Seq, err)
		}
		out = append(out, ex)
	}
	return out, nil
}

func (r *gormStore) SaveReport(ctx context.Context, rep *analysis.Report) error {
	payload, err := toJSON(rep)
	if err != nil {
		return err
	}
	row := ReportRow{
		SessionID:       rep.SessionID,
		TaxonomyVersion: rep.TaxonomyVersion,
		Fingerprint:     rep.Fingerprint,
		Payload:         payload,
		CreatedAt:       rep.CreatedAt,
	}
	return r.tx(dbctx.Context{Ctx: ctx}).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"taxonomy_version", "fingerprint", "payload", "created_at"}),
		}).
		Create(&row).Error
}

func (r *gormStore) LoadReport(ctx context.Context, sessionID uuid.UUID) (*analysis.Report, error) {
	var row ReportRow
	if err := r.tx(dbctx.Context{Ctx: ctx}).Where("session_id = ?", sessionID).First(&row).Error; err != nil {
		return nil, notFound(err, "report for session", sessionID)
	}
	var rep analysis.Report
	if err := json.Unmarshal(row.Payload, &rep); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &rep, nil
}
