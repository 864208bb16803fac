// Package pipeline drives each match through fetch, download and parse. A
// stage can be invoked directly or delivered through the bus; either way the
// observable effects are identical, and every stage is idempotent so
// duplicate delivery of the same (stage, match) pair is safe.
package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"github.com/boertel/aoe2/pkg/aoe2api"
	"github.com/boertel/aoe2/pkg/common/logger"
	"github.com/boertel/aoe2/pkg/common/models"
	"github.com/boertel/aoe2/pkg/recparse"
	"github.com/boertel/aoe2/pkg/recstore"
)

const (
	StageMatchForPlayer = "match_for_player"
	StageDownload       = "download"
	StageParse          = "parse"
)

// Backend is the slice of the backend API the stages depend on.
type Backend interface {
	RegisterMatches(ctx context.Context, matches []*models.Match) ([]string, error)
	SetStatus(ctx context.Context, matchID string, status models.Status) (*models.Match, error)
	Get(ctx context.Context, matchID string) (*models.Match, error)
	Save(ctx context.Context, match *models.Match) error
}

// Metadata is the external match-metadata API.
type Metadata interface {
	Matches(ctx context.Context, profileID string, count, start int) ([]aoe2api.Match, error)
	Match(ctx context.Context, matchID string) (*aoe2api.Match, error)
	MatchByUUID(ctx context.Context, uuid string) (*aoe2api.Match, error)
	Strings(ctx context.Context) (*aoe2api.Strings, error)
}

// RecordingResolver obtains recording bytes for a match given candidate
// profile ids.
type RecordingResolver interface {
	Resolve(ctx context.Context, matchID string, candidates []int) ([]byte, error)
}

// Dispatcher triggers the next stage invocation. LocalDispatcher calls the
// stage function directly; BusDispatcher publishes a task envelope for a
// subscriber to pick up.
type Dispatcher interface {
	Dispatch(ctx context.Context, stage string, attributes map[string]string) error
}

// Stages holds the stage functions and their injected collaborators. All
// handles are constructed once per process and passed in; nothing here is a
// process-wide singleton.
type Stages struct {
	backend     Backend
	api         Metadata
	blobs       recstore.Blobs
	resolver    RecordingResolver
	decoder     recparse.Decoder
	dispatcher  Dispatcher
	stringsFile string
	strictGate  bool
}

func New(backend Backend, api Metadata, blobs recstore.Blobs, resolver RecordingResolver, decoder recparse.Decoder) *Stages {
	return &Stages{
		backend:  backend,
		api:      api,
		blobs:    blobs,
		resolver: resolver,
		decoder:  decoder,
	}
}

// SetDispatcher wires the stage-to-stage trigger. Set after construction
// because the local dispatcher closes over the Stages themselves.
func (s *Stages) SetDispatcher(d Dispatcher) { s.dispatcher = d }

// SetStringsFile configures a local fallback for the strings lookup tables.
func (s *Stages) SetStringsFile(path string) { s.stringsFile = path }

// SetStrictGate makes download a no-op unless the backend status is exactly
// Fetched. Off by default; idempotence already makes re-entry safe.
func (s *Stages) SetStrictGate(enabled bool) { s.strictGate = enabled }

// Invoke reconstructs stage arguments from task attributes and runs the
// stage. This is the subscriber side of the bus round trip. A missing
// required attribute is logged and swallowed so the bus does not redeliver a
// task that can never succeed.
func (s *Stages) Invoke(ctx context.Context, stage string, attributes map[string]string) error {
	switch stage {
	case StageMatchForPlayer:
		profileID := attributes["profile_id"]
		if profileID == "" {
			logger.Log.Warn("match_for_player task without profile_id")
			return nil
		}
		count := intAttribute(attributes, "count", 20)
		start := intAttribute(attributes, "start", 0)
		return s.MatchForPlayer(ctx, profileID, count, start)

	case StageDownload:
		matchID := attributes["match_id"]
		if matchID == "" {
			logger.Log.Warn("download task without match_id")
			return nil
		}
		return s.Download(ctx, matchID)

	case StageParse:
		matchID := attributes["match_id"]
		if matchID == "" {
			logger.Log.Warn("parse task without match_id")
			return nil
		}
		return s.Parse(ctx, matchID)

	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
}

func intAttribute(attributes map[string]string, key string, defaultValue int) int {
	if value, ok := attributes[key]; ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// setStatus records a transition, logging instead of failing: the operator
// visible outcome of a stage is a status value, never a crash.
func (s *Stages) setStatus(ctx context.Context, matchID string, status models.Status) {
	if _, err := s.backend.SetStatus(ctx, matchID, status); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"match_id": matchID,
			"status":   status,
		}).Error("Failed to record status")
	}
}

func (s *Stages) dispatch(ctx context.Context, stage string, attributes map[string]string) {
	if s.dispatcher == nil {
		logger.Log.WithField("stage", stage).Warn("No dispatcher configured, dropping task")
		return
	}
	if err := s.dispatcher.Dispatch(ctx, stage, attributes); err != nil {
		logger.Log.WithError(err).WithField("stage", stage).Error("Failed to dispatch task")
	}
}

// names loads the strings lookup tables, falling back to the local file when
// the API is unreachable. A nil result only disables display-name
// resolution; ids are always kept.
func (s *Stages) names(ctx context.Context) *aoe2api.Strings {
	names, err := s.api.Strings(ctx)
	if err == nil {
		return names
	}
	logger.Log.WithError(err).Warn("Failed to fetch strings tables")
	if s.stringsFile == "" {
		return nil
	}
	names, err = aoe2api.LoadStringsFile(s.stringsFile)
	if err != nil {
		logger.Log.WithError(err).Warn("Failed to load local strings file")
		return nil
	}
	return names
}
