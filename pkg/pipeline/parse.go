package pipeline

import (
	"context"

	"github.com/boertel/aoe2/pkg/common/logger"
	"github.com/boertel/aoe2/pkg/common/models"
)

// Parse builds the match record from the metadata API, overlays the decoded
// recording when one is stored, and persists the merged result. A missing
// recording is not a failure: the API-only record is persisted as a partial
// result. The stage always terminates in ParseEnded or ParseFailed.
func (s *Stages) Parse(ctx context.Context, matchID string) error {
	log := logger.WithFields(map[string]interface{}{
		"stage":    StageParse,
		"match_id": matchID,
	})

	s.setStatus(ctx, matchID, models.StatusParseStarted)

	apiMatch, err := s.api.Match(ctx, matchID)
	if err != nil {
		log.WithError(err).Error("Failed to fetch match detail")
		s.setStatus(ctx, matchID, models.StatusParseFailed)
		return nil
	}

	names := s.names(ctx)
	item := extractAPI(apiMatch, names)
	item.MatchID = matchID

	exists, err := s.blobs.Exists(ctx, matchID)
	if err != nil {
		log.WithError(err).Error("Failed to check recording store")
		s.setStatus(ctx, matchID, models.StatusParseFailed)
		return nil
	}

	if exists {
		recording, err := s.blobs.Read(ctx, matchID)
		if err != nil {
			log.WithError(err).Error("Failed to read recording")
			s.setStatus(ctx, matchID, models.StatusParseFailed)
			return nil
		}

		summary, err := s.decoder.Decode(ctx, recording)
		if err != nil {
			// corrupt recording: leave the backend record untouched
			log.WithError(err).Error("Failed to decode recording")
			s.setStatus(ctx, matchID, models.StatusParseFailed)
			return nil
		}

		item.Merge(extractSummary(summary, names))
	} else {
		log.Info("No recording stored, persisting partial record")
	}

	if err := s.backend.Save(ctx, item); err != nil {
		log.WithError(err).Error("Failed to persist match record")
		s.setStatus(ctx, matchID, models.StatusParseFailed)
		return nil
	}

	s.setStatus(ctx, matchID, models.StatusParseEnded)
	log.Info("Match parsed")
	return nil
}
