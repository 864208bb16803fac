package pipeline

import (
	"context"
	"errors"
	"sort"

	"github.com/boertel/aoe2/pkg/backend"
	"github.com/boertel/aoe2/pkg/common/logger"
	"github.com/boertel/aoe2/pkg/common/models"
)

// Download fetches the recording for a match and stores it. Safe to run
// twice: a blob that already exists is never re-fetched. Whatever the
// outcome, parse is dispatched next so the match always gets a record, even
// a partial one.
func (s *Stages) Download(ctx context.Context, matchID string) error {
	log := logger.WithFields(map[string]interface{}{
		"stage":    StageDownload,
		"match_id": matchID,
	})

	record, err := s.backend.Get(ctx, matchID)
	if errors.Is(err, backend.ErrNotFound) {
		// download depends on registration having happened first
		log.Warn("Match not registered, dropping download")
		return nil
	}
	if err != nil {
		log.WithError(err).Error("Failed to fetch match record")
		s.setStatus(ctx, matchID, models.StatusDownloadFailed)
		s.dispatch(ctx, StageParse, map[string]string{"match_id": matchID})
		return nil
	}

	if s.strictGate && record.Status != models.StatusFetched {
		log.WithField("status", record.Status).Info("Match already past fetch, bailing")
		return nil
	}

	exists, err := s.blobs.Exists(ctx, matchID)
	if err != nil {
		log.WithError(err).Error("Failed to check recording store")
		s.setStatus(ctx, matchID, models.StatusDownloadFailed)
		s.dispatch(ctx, StageParse, map[string]string{"match_id": matchID})
		return nil
	}
	if exists {
		// idempotent re-entry: the expensive work already happened
		log.Info("Recording already stored")
		s.dispatch(ctx, StageParse, map[string]string{"match_id": matchID})
		return nil
	}

	s.setStatus(ctx, matchID, models.StatusDownloadStarted)

	candidates := make([]int, 0, len(record.Players))
	for profileID := range record.Players {
		candidates = append(candidates, profileID)
	}
	sort.Ints(candidates)

	recording, err := s.resolver.Resolve(ctx, matchID, candidates)
	if err != nil {
		log.WithError(err).Warn("Failed to resolve recording")
		s.setStatus(ctx, matchID, models.StatusDownloadFailed)
		s.dispatch(ctx, StageParse, map[string]string{"match_id": matchID})
		return nil
	}

	if err := s.blobs.Write(ctx, matchID, recording); err != nil {
		log.WithError(err).Error("Failed to store recording")
		s.setStatus(ctx, matchID, models.StatusDownloadFailed)
		s.dispatch(ctx, StageParse, map[string]string{"match_id": matchID})
		return nil
	}

	s.setStatus(ctx, matchID, models.StatusDownloadEnded)
	log.Info("Recording downloaded")
	s.dispatch(ctx, StageParse, map[string]string{"match_id": matchID})
	return nil
}
