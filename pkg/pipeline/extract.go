package pipeline

import (
	"time"

	"github.com/boertel/aoe2/pkg/aoe2api"
	"github.com/boertel/aoe2/pkg/common/models"
	"github.com/boertel/aoe2/pkg/recparse"
)

// extractAPI normalizes an API match payload into a working record. The API
// phase supplies match metadata plus player identity and rating fields;
// in-game fields come later from the recording.
func extractAPI(match *aoe2api.Match, names *aoe2api.Strings) *models.Match {
	item := &models.Match{
		MatchID:       match.MatchID.String(),
		UUID:          match.UUID,
		Ranked:        match.Ranked,
		Speed:         match.Speed,
		Server:        match.Server,
		RatingType:    match.RatingType,
		GameType:      match.GameType,
		LeaderboardID: match.LeaderboardID,
	}

	if match.Started > 0 {
		item.Started = models.Time(time.Unix(match.Started, 0).UTC())
	}
	if match.Finished > 0 {
		item.Finished = models.Time(time.Unix(match.Finished, 0).UTC())
	}
	if item.Started != nil && item.Finished != nil {
		item.DurationReal = models.Int64(int64(item.Finished.Sub(*item.Started) / time.Second))
	}

	if match.MapType != nil {
		item.Map = &models.MapInfo{ID: *match.MapType, Name: names.MapName(*match.MapType)}
	}

	for _, player := range match.Players {
		item.MergePlayer(&models.Player{
			ProfileID:    player.ProfileID,
			Name:         player.Name,
			Country:      player.Country,
			Rating:       player.Rating,
			RatingChange: player.RatingChange,
		})
	}
	return item
}

// extractSummary lifts a decoded recording summary into a record overlay:
// match uuid, map, in-game duration, and per-player in-game fields.
func extractSummary(summary *recparse.Summary, names *aoe2api.Strings) *models.Match {
	item := &models.Match{
		UUID:           summary.MatchUUID,
		DurationInGame: models.Int64(summary.DurationMS / 1000),
	}

	if summary.MapID != 0 || summary.MapName != "" {
		name := summary.MapName
		if name == "" {
			name = names.MapName(summary.MapID)
		}
		item.Map = &models.MapInfo{ID: summary.MapID, Name: name}
	}

	for _, player := range summary.Players {
		item.MergePlayer(&models.Player{
			ProfileID: player.ProfileID,
			Name:      player.Name,
			Team:      models.Int(player.Team),
			ColorID:   models.Int(player.ColorID),
			Winner:    models.Bool(player.Winner),
			Civilization: &models.Civilization{
				ID:   player.CivilizationID,
				Name: names.CivilizationName(player.CivilizationID),
			},
		})
	}
	return item
}
