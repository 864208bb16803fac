// Package backend talks to the authoritative match store. It doubles as the
// status tracker: every stage entry and exit is announced here so external
// observers can spot stuck matches by staleness.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/boertel/aoe2/pkg/common/httpclient"
	"github.com/boertel/aoe2/pkg/common/models"
)

var ErrNotFound = errors.New("match not found")

type Client struct {
	client  *http.Client
	baseURL string
}

func New(client *http.Client, baseURL string) *Client {
	return &Client{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// RegisterMatches bulk-registers a page of matches. The backend upserts by
// match id, so re-registering an already known match is a no-op. Returns the
// ids of the registered matches.
func (c *Client) RegisterMatches(ctx context.Context, matches []*models.Match) ([]string, error) {
	body, err := json.Marshal(matches)
	if err != nil {
		return nil, fmt.Errorf("marshaling matches: %w", err)
	}

	var registered []matchResponse
	if err := c.do(ctx, http.MethodPost, "/api/matches", body, &registered); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(registered))
	for _, match := range registered {
		ids = append(ids, match.ID)
	}
	return ids, nil
}

// SetStatus announces a status transition and returns the current record.
// The backend is permissive about transitions; the value recorded is simply
// the newest one.
func (c *Client) SetStatus(ctx context.Context, matchID string, status models.Status) (*models.Match, error) {
	body, err := json.Marshal(map[string]models.Status{"status": status})
	if err != nil {
		return nil, err
	}

	var resp matchResponse
	if err := c.do(ctx, http.MethodPatch, "/api/matches/"+matchID, body, &resp); err != nil {
		return nil, err
	}
	return resp.toMatch(), nil
}

// Get fetches the current match record, including its player list.
func (c *Client) Get(ctx context.Context, matchID string) (*models.Match, error) {
	var resp matchResponse
	if err := c.do(ctx, http.MethodGet, "/api/match/"+matchID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.toMatch(), nil
}

// Save persists the full merged record.
func (c *Client) Save(ctx context.Context, match *models.Match) error {
	body, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("marshaling match %s: %w", match.MatchID, err)
	}
	return c.do(ctx, http.MethodPost, "/api/match/"+match.MatchID, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var resp *http.Response
	attempt := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		r, err := c.client.Do(req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	// Transient transport failures toward the backend are worth a couple of
	// bounded retries; non-2xx responses are not.
	if err := httpclient.Retry(ctx, 3, 200*time.Millisecond, attempt); err != nil {
		return fmt.Errorf("calling backend %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("backend %s returned %d", path, resp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding backend %s response: %w", path, err)
	}
	return nil
}

// The backend speaks camelCase on reads and accepts the worker's snake_case
// records on writes.
type matchResponse struct {
	ID             string           `json:"id"`
	Status         models.Status    `json:"status"`
	Server         string           `json:"server"`
	StartedAt      *time.Time       `json:"startedAt"`
	FinishedAt     *time.Time       `json:"finishedAt"`
	DurationReal   *int64           `json:"durationReal"`
	DurationInGame *int64           `json:"durationInGame"`
	Players        []playerResponse `json:"players"`
}

type playerResponse struct {
	PlayerID     string `json:"playerId"`
	Team         *int   `json:"team"`
	Color        *int   `json:"color"`
	Winner       *bool  `json:"winner"`
	Rating       *int   `json:"rating"`
	RatingChange *int   `json:"ratingChange"`
	Player       *struct {
		Name    string `json:"name"`
		Country string `json:"country"`
	} `json:"player"`
}

func (r matchResponse) toMatch() *models.Match {
	match := &models.Match{
		MatchID:        r.ID,
		Status:         r.Status,
		Server:         r.Server,
		Started:        r.StartedAt,
		Finished:       r.FinishedAt,
		DurationReal:   r.DurationReal,
		DurationInGame: r.DurationInGame,
	}
	for _, p := range r.Players {
		profileID, err := strconv.Atoi(p.PlayerID)
		if err != nil {
			continue
		}
		player := &models.Player{
			ProfileID:    profileID,
			Team:         p.Team,
			ColorID:      p.Color,
			Winner:       p.Winner,
			Rating:       p.Rating,
			RatingChange: p.RatingChange,
		}
		if p.Player != nil {
			player.Name = p.Player.Name
			player.Country = p.Player.Country
		}
		match.MergePlayer(player)
	}
	return match
}
