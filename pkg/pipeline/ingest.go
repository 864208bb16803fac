package pipeline

import (
	"context"

	"github.com/boertel/aoe2/pkg/common/logger"
	"github.com/boertel/aoe2/pkg/common/models"
)

// MatchForPlayer ingests one page of a player's match history: normalize,
// bulk-register with the backend, then fan out a download task per
// registered match. Registration strictly precedes dispatch because download
// reads the player list from the backend.
func (s *Stages) MatchForPlayer(ctx context.Context, profileID string, count, start int) error {
	log := logger.WithFields(map[string]interface{}{
		"stage":      StageMatchForPlayer,
		"profile_id": profileID,
	})

	matches, err := s.api.Matches(ctx, profileID, count, start)
	if err != nil {
		log.WithError(err).Error("Failed to fetch match history")
		return err
	}
	if len(matches) == 0 {
		log.Info("No matches in page")
		return nil
	}

	names := s.names(ctx)

	items := make([]*models.Match, 0, len(matches))
	for i := range matches {
		item := extractAPI(&matches[i], names)
		item.Status = models.StatusFetched
		items = append(items, item)
	}

	registered, err := s.backend.RegisterMatches(ctx, items)
	if err != nil {
		log.WithError(err).Error("Failed to register matches")
		return err
	}

	log.WithFields(map[string]interface{}{
		"count":      len(registered),
		"page_start": start,
	}).Info("Matches registered")

	for _, matchID := range registered {
		s.dispatch(ctx, StageDownload, map[string]string{"match_id": matchID})
	}
	return nil
}
