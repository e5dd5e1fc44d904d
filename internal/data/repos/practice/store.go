package practice

import (
	"context"

	"github.com/google/uuid"

	"github.com/yungbote/sparring-backend/internal/domain/analysis"
	"github.com/yungbote/sparring-backend/internal/domain/live"
	"github.com/yungbote/sparring-backend/internal/domain/prep"
	"github.com/yungbote/sparring-backend/internal/domain/session"
)

// Store is the persistent state of practice sessions. Every write is an
// idempotent upsert keyed by session id plus the record's own key, so
// at-least-once delivery is safe. Missing records return ErrNotFound.
type Store interface {
	CreateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*session.Session, error)
	UpdateSessionStatus(ctx context.Context, id uuid.UUID, status session.Status, endReason string) error

	SaveRun(ctx context.Context, run *prep.PipelineRun) error
	LoadRun(ctx context.Context, sessionID uuid.UUID) (*prep.PipelineRun, error)

	SaveArtifacts(ctx context.Context, sessionID uuid.UUID, set prep.ArtifactSet) error
	LoadArtifacts(ctx context.Context, sessionID uuid.UUID) (prep.ArtifactSet, error)

	AppendExchange(ctx context.Context, sessionID uuid.UUID, ex live.Exchange) error
	LoadTranscript(ctx context.Context, sessionID uuid.UUID) ([]live.Exchange, error)

	SaveReport(ctx context.Context, r *analysis.Report) error
	LoadReport(ctx context.Context, sessionID uuid.UUID) (*analysis.Report, error)
}
