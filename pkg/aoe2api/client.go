// Package aoe2api is a read-only client for the external match-metadata
// API. The upstream is rate limited and best effort; callers treat non-2xx
// responses as stage failures, not crashes.
package aoe2api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const game = "aoe2de"

type Client struct {
	client   *http.Client
	baseURL  string
	language string
}

func New(client *http.Client, baseURL, language string) *Client {
	return &Client{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: language,
	}
}

// Player is a participant in an API match payload. Rating fields are only
// present on ranked history entries.
type Player struct {
	ProfileID    int    `json:"profile_id"`
	Name         string `json:"name"`
	Country      string `json:"country"`
	Rating       *int   `json:"rating"`
	RatingChange *int   `json:"rating_change"`
	Civilization *int   `json:"civ"`
	Team         *int   `json:"team"`
	Color        *int   `json:"color"`
}

// Match is one entry of the API's match payloads. match_id arrives as a
// number or a string depending on the endpoint, hence json.Number.
type Match struct {
	MatchID       json.Number `json:"match_id"`
	UUID          string      `json:"match_uuid"`
	Ranked        *bool       `json:"ranked"`
	Speed         *int        `json:"speed"`
	Server        string      `json:"server"`
	Started       int64       `json:"started"`
	Finished      int64       `json:"finished"`
	RatingType    *int        `json:"rating_type"`
	GameType      *int        `json:"game_type"`
	LeaderboardID *int        `json:"leaderboard_id"`
	MapType       *int        `json:"map_type"`
	Players       []Player    `json:"players"`
}

// Matches fetches one page of a player's match history.
func (c *Client) Matches(ctx context.Context, profileID string, count, start int) ([]Match, error) {
	params := url.Values{}
	params.Set("game", game)
	params.Set("profile_id", profileID)
	params.Set("count", strconv.Itoa(count))
	params.Set("start", strconv.Itoa(start))

	var matches []Match
	if err := c.get(ctx, "/api/player/matches", params, &matches); err != nil {
		return nil, err
	}
	return matches, nil
}

// Match fetches a single match detail, including its player list.
func (c *Client) Match(ctx context.Context, matchID string) (*Match, error) {
	params := url.Values{}
	params.Set("game", game)
	params.Set("match_id", matchID)

	var match Match
	if err := c.get(ctx, "/api/match", params, &match); err != nil {
		return nil, err
	}
	return &match, nil
}

// MatchByUUID looks a match up by the identifier embedded in a recording,
// used by the local-file import path where no match id is known upfront.
func (c *Client) MatchByUUID(ctx context.Context, uuid string) (*Match, error) {
	params := url.Values{}
	params.Set("game", game)
	params.Set("uuid", uuid)

	var match Match
	if err := c.get(ctx, "/api/match", params, &match); err != nil {
		return nil, err
	}
	return &match, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
