package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/boertel/aoe2/pkg/aoe2api"
	"github.com/boertel/aoe2/pkg/common/logger"
)

// ImportResult is the outcome of importing one local recording file.
type ImportResult struct {
	File    string
	MatchID string
	Err     error
}

// ImportFiles backfills matches from local recording files, bypassing the
// download stage and the blob store entirely: decode the file, look the
// match up by the uuid embedded in the recording, merge, persist. One bad
// file never stops the batch.
func (s *Stages) ImportFiles(ctx context.Context, directory string) ([]ImportResult, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", directory, err)
	}

	names := s.names(ctx)

	results := make([]ImportResult, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		result := s.importFile(ctx, filepath.Join(directory, entry.Name()), names)
		if result.Err != nil {
			logger.Log.WithError(result.Err).WithField("file", result.File).Warn("Failed to import recording")
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *Stages) importFile(ctx context.Context, path string, names *aoe2api.Strings) ImportResult {
	result := ImportResult{File: path}

	data, err := os.ReadFile(path)
	if err != nil {
		result.Err = err
		return result
	}

	summary, err := s.decoder.Decode(ctx, data)
	if err != nil {
		result.Err = fmt.Errorf("decoding: %w", err)
		return result
	}

	apiMatch, err := s.api.MatchByUUID(ctx, summary.MatchUUID)
	if err != nil {
		result.Err = fmt.Errorf("looking up uuid %s: %w", summary.MatchUUID, err)
		return result
	}

	item := extractAPI(apiMatch, names)
	item.Merge(extractSummary(summary, names))

	if err := s.backend.Save(ctx, item); err != nil {
		result.Err = err
		return result
	}

	result.MatchID = item.MatchID
	return result
}
