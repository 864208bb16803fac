// Package resolver obtains a match's recording from the replay host. The
// host addresses replays per participant, so retrieval is a guessing game:
// try candidate profile ids until one is accepted.
package resolver

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/boertel/aoe2/pkg/common/logger"
)

var (
	// ErrExhausted means no candidate profile id yielded a recording.
	ErrExhausted = errors.New("candidate profile ids exhausted")
	// ErrNoRecording means the host accepted a candidate but the returned
	// archive carries no recording entry. Fatal for the match, never retried.
	ErrNoRecording = errors.New("no recording entry in replay archive")
)

const recordingSuffix = ".aoe2record"

type Resolver struct {
	client  *http.Client
	baseURL string
}

func New(client *http.Client, baseURL string) *Resolver {
	return &Resolver{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Resolve fetches the recording for matchID, trying candidates tail-first
// (callers order the list, likeliest last). A rejected candidate is a wrong
// key, not a transient failure, so there is no backoff between attempts and
// a candidate is never retried. Transport errors propagate to the caller.
func (r *Resolver) Resolve(ctx context.Context, matchID string, candidates []int) ([]byte, error) {
	for i := len(candidates) - 1; i >= 0; i-- {
		profileID := candidates[i]

		archive, ok, err := r.fetch(ctx, matchID, profileID)
		if err != nil {
			return nil, err
		}
		if !ok {
			logger.Log.WithFields(map[string]interface{}{
				"match_id":   matchID,
				"profile_id": profileID,
			}).Debug("Replay host rejected candidate")
			continue
		}

		return extractRecording(archive)
	}
	return nil, ErrExhausted
}

func (r *Resolver) fetch(ctx context.Context, matchID string, profileID int) ([]byte, bool, error) {
	url := fmt.Sprintf("%s/replay/?gameId=%s&profileId=%d", r.baseURL, matchID, profileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("fetching replay for %s: %w", matchID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, false, nil
	}

	archive, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("reading replay for %s: %w", matchID, err)
	}
	return archive, true, nil
}

// extractRecording unpacks the compressed archive and returns the single
// recording entry.
func extractRecording(archive []byte) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("opening replay archive: %w", err)
	}

	for _, file := range reader.File {
		if !strings.HasSuffix(file.Name, recordingSuffix) {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", file.Name, err)
		}
		defer rc.Close()

		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file.Name, err)
		}
		return data, nil
	}

	return nil, ErrNoRecording
}
