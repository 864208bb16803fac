package models

import (
	"time"
)

// Status is the pipeline position of a match, mirrored into the backend on
// every stage entry and exit. A match can be re-dispatched into a stage it
// already passed; the newest status simply wins.
type Status string

const (
	StatusFetched         Status = "FETCHED"
	StatusDownloadStarted Status = "DOWNLOAD_STARTED"
	StatusDownloadEnded   Status = "DOWNLOAD_ENDED"
	StatusDownloadFailed  Status = "DOWNLOAD_FAILED"
	StatusParseStarted    Status = "PARSE_STARTED"
	StatusParseEnded      Status = "PARSE_ENDED"
	StatusParseFailed     Status = "PARSE_FAILED"
)

// Started reports whether the status marks a stage entry that has not yet
// reached its terminal counterpart. Used for stuck-match staleness probes.
func (s Status) Started() bool {
	return s == StatusDownloadStarted || s == StatusParseStarted
}

type MapInfo struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

type Civilization struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

// Player is keyed by profile id within a match. The API ingestion phase
// fills identity and rating fields; the parse phase fills in-game fields.
// Optional overlay fields are pointers so an unset field never clobbers a
// previously merged value.
type Player struct {
	ProfileID    int           `json:"profile_id"`
	Name         string        `json:"name,omitempty"`
	Country      string        `json:"country,omitempty"`
	Rating       *int          `json:"rating,omitempty"`
	RatingChange *int          `json:"rating_change,omitempty"`
	Team         *int          `json:"team,omitempty"`
	ColorID      *int          `json:"color_id,omitempty"`
	Winner       *bool         `json:"winner,omitempty"`
	Civilization *Civilization `json:"civilization,omitempty"`
}

// Merge overlays other onto p, last writer wins per field. Fields left unset
// on other keep their current value on p.
func (p *Player) Merge(other *Player) {
	if other == nil {
		return
	}
	if other.ProfileID != 0 {
		p.ProfileID = other.ProfileID
	}
	if other.Name != "" {
		p.Name = other.Name
	}
	if other.Country != "" {
		p.Country = other.Country
	}
	if other.Rating != nil {
		p.Rating = other.Rating
	}
	if other.RatingChange != nil {
		p.RatingChange = other.RatingChange
	}
	if other.Team != nil {
		p.Team = other.Team
	}
	if other.ColorID != nil {
		p.ColorID = other.ColorID
	}
	if other.Winner != nil {
		p.Winner = other.Winner
	}
	if other.Civilization != nil {
		if p.Civilization == nil {
			p.Civilization = &Civilization{}
		}
		if other.Civilization.ID != 0 {
			p.Civilization.ID = other.Civilization.ID
		}
		if other.Civilization.Name != "" {
			p.Civilization.Name = other.Civilization.Name
		}
	}
}

// Match is the working copy of a backend-owned record. Durations are
// serialized as integer seconds, timestamps as RFC 3339, matching the
// backend's wire format.
type Match struct {
	MatchID        string          `json:"match_id"`
	UUID           string          `json:"uuid,omitempty"`
	Ranked         *bool           `json:"ranked,omitempty"`
	Speed          *int            `json:"speed,omitempty"`
	Server         string          `json:"server,omitempty"`
	Started        *time.Time      `json:"started,omitempty"`
	Finished       *time.Time      `json:"finished,omitempty"`
	DurationReal   *int64          `json:"duration_real,omitempty"`
	DurationInGame *int64          `json:"duration_in_game,omitempty"`
	RatingType     *int            `json:"rating_type,omitempty"`
	GameType       *int            `json:"game_type,omitempty"`
	LeaderboardID  *int            `json:"leaderboard_id,omitempty"`
	Map            *MapInfo        `json:"map,omitempty"`
	Players        map[int]*Player `json:"players,omitempty"`
	Status         Status          `json:"status,omitempty"`
}

// MergePlayer unions the player into the match's player set, overlaying
// fields when the profile id is already present.
func (m *Match) MergePlayer(other *Player) {
	if other == nil || other.ProfileID == 0 {
		return
	}
	if m.Players == nil {
		m.Players = make(map[int]*Player)
	}
	if existing, ok := m.Players[other.ProfileID]; ok {
		existing.Merge(other)
		return
	}
	clone := *other
	if other.Civilization != nil {
		civ := *other.Civilization
		clone.Civilization = &civ
	}
	m.Players[other.ProfileID] = &clone
}

// Merge overlays other's match-level fields and players onto m.
func (m *Match) Merge(other *Match) {
	if other == nil {
		return
	}
	if other.MatchID != "" {
		m.MatchID = other.MatchID
	}
	if other.UUID != "" {
		m.UUID = other.UUID
	}
	if other.Ranked != nil {
		m.Ranked = other.Ranked
	}
	if other.Speed != nil {
		m.Speed = other.Speed
	}
	if other.Server != "" {
		m.Server = other.Server
	}
	if other.Started != nil {
		m.Started = other.Started
	}
	if other.Finished != nil {
		m.Finished = other.Finished
	}
	if other.DurationReal != nil {
		m.DurationReal = other.DurationReal
	}
	if other.DurationInGame != nil {
		m.DurationInGame = other.DurationInGame
	}
	if other.RatingType != nil {
		m.RatingType = other.RatingType
	}
	if other.GameType != nil {
		m.GameType = other.GameType
	}
	if other.LeaderboardID != nil {
		m.LeaderboardID = other.LeaderboardID
	}
	if other.Map != nil {
		m.Map = other.Map
	}
	if other.Status != "" {
		m.Status = other.Status
	}
	for _, p := range other.Players {
		m.MergePlayer(p)
	}
}

// Task is the bus envelope carrying one stage invocation: the stage name
// plus its keyword arguments as string attributes.
type Task struct {
	ID         string            `json:"id"`
	Stage      string            `json:"stage"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  time.Time         `json:"timestamp"`
}

func Int(v int) *int { return &v }

func Int64(v int64) *int64 { return &v }

func Bool(v bool) *bool { return &v }

func Time(v time.Time) *time.Time { return &v }
