// Package recparse is the boundary to the recording decoder. The binary
// replay format is decoded elsewhere; this package only defines the summary
// shape coming back and a client for the decoder service.
package recparse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SummaryPlayer carries the in-game fields for one participant.
type SummaryPlayer struct {
	ProfileID      int    `json:"profile_id"`
	Name           string `json:"name"`
	Team           int    `json:"team"`
	ColorID        int    `json:"color_id"`
	CivilizationID int    `json:"civilization_id"`
	Winner         bool   `json:"winner"`
}

// Summary is the structured result of decoding a recording.
type Summary struct {
	MatchUUID  string          `json:"match_uuid"`
	MapID      int             `json:"map_id"`
	MapName    string          `json:"map_name"`
	DurationMS int64           `json:"duration_ms"`
	Players    []SummaryPlayer `json:"players"`
}

// Decoder turns recording bytes into a match summary.
type Decoder interface {
	Decode(ctx context.Context, recording []byte) (*Summary, error)
}

// HTTPDecoder posts recording bytes to the decoder service.
type HTTPDecoder struct {
	client  *http.Client
	baseURL string
}

func NewHTTPDecoder(client *http.Client, baseURL string) *HTTPDecoder {
	return &HTTPDecoder{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (d *HTTPDecoder) Decode(ctx context.Context, recording []byte) (*Summary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/decode", bytes.NewReader(recording))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling decoder: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("decoder returned %d", resp.StatusCode)
	}

	var summary Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, fmt.Errorf("decoding summary: %w", err)
	}
	return &summary, nil
}
