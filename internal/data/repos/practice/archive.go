package practice

import (
	"context"

	"github.com/google/uuid"

	"github.com/yungbote/sparring-backend/internal/domain/analysis"
	"github.com/yungbote/sparring-backend/internal/domain/prep"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
)

// ObjectWriter is the slice of the object archive this package needs.
type ObjectWriter interface {
	PutJSON(ctx context.Context, key string, v any) error
}

// ArchiveKey is where a session document is mirrored.
func ArchiveKey(sessionID uuid.UUID, doc string) string {
	return "sessions/" + sessionID.String() + "/" + doc + ".json"
}

type archivedStore struct {
	Store
	archive ObjectWriter
	log     *logger.Logger
}

// WithArchive mirrors saved artifact sets and reports to an object archive.
// Archive failures are logged; the primary store stays the source of truth.
func WithArchive(inner Store, archive ObjectWriter, baseLog *logger.Logger) Store {
	if archive == nil {
		return inner
	}
	return &archivedStore{Store: inner, archive: archive, log: baseLog.With("repo", "PracticeArchive")}
}

func (s *archivedStore) SaveArtifacts(ctx context.Context, sessionID uuid.UUID, set prep.ArtifactSet) error {
	if err := s.Store.SaveArtifacts(ctx, sessionID, set); err != nil {
		return err
	}
	if err := s.archive.PutJSON(ctx, ArchiveKey(sessionID, "artifacts"), set); err != nil {
		s.log.Warn("archive artifacts failed", "session_id", sessionID, "error", err)
	}
	return nil
}

func (s *archivedStore) SaveReport(ctx context.Context, r *analysis.Report) error {
	if err := s.Store.SaveReport(ctx, r); err != nil {
		return err
	}
	if err := s.archive.PutJSON(ctx, ArchiveKey(r.SessionID, "report"), r); err != nil {
		s.log.Warn("archive report failed", "session_id", r.SessionID, "error", err)
	}
	return nil
}
