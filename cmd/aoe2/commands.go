package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/boertel/aoe2/pkg/aoe2api"
	"github.com/boertel/aoe2/pkg/backend"
	"github.com/boertel/aoe2/pkg/common/bus"
	"github.com/boertel/aoe2/pkg/common/config"
	"github.com/boertel/aoe2/pkg/common/database"
	"github.com/boertel/aoe2/pkg/common/httpclient"
	"github.com/boertel/aoe2/pkg/pipeline"
	"github.com/boertel/aoe2/pkg/recparse"
	"github.com/boertel/aoe2/pkg/recstore"
	"github.com/boertel/aoe2/pkg/resolver"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "aoe2",
		Short:         "Drive matches through the recording pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newMatchForPlayerCommand(),
		newDownloadCommand(),
		newParseCommand(),
		newImportCommand(),
	)
	return root
}

func newMatchForPlayerCommand() *cobra.Command {
	var (
		count int
		start int
		async bool
	)

	cmd := &cobra.Command{
		Use:   "match_for_player <profile_id>",
		Short: "Ingest a page of a player's match history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			attributes := map[string]string{
				"profile_id": args[0],
				"count":      strconv.Itoa(count),
				"start":      strconv.Itoa(start),
			}
			if async {
				return publishTask(ctx, pipeline.StageMatchForPlayer, attributes)
			}

			// local ingest chains into download/parse, which need the store
			stages, err := newStages(config.Load(), true)
			if err != nil {
				return err
			}
			return stages.Invoke(ctx, pipeline.StageMatchForPlayer, attributes)
		},
	}

	cmd.Flags().IntVar(&count, "count", 20, "number of matches to fetch")
	cmd.Flags().IntVar(&start, "start", 0, "page offset")
	cmd.Flags().BoolVar(&async, "async", true, "dispatch through the bus instead of running locally")
	return cmd
}

func newDownloadCommand() *cobra.Command {
	var async bool

	cmd := &cobra.Command{
		Use:   "download <match_id>",
		Short: "Fetch and store the recording for a match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			attributes := map[string]string{"match_id": args[0]}
			if async {
				return publishTask(ctx, pipeline.StageDownload, attributes)
			}

			stages, err := newStages(config.Load(), true)
			if err != nil {
				return err
			}
			return stages.Invoke(ctx, pipeline.StageDownload, attributes)
		},
	}

	cmd.Flags().BoolVar(&async, "async", true, "dispatch through the bus instead of running locally")
	return cmd
}

func newParseCommand() *cobra.Command {
	var async bool

	cmd := &cobra.Command{
		Use:   "parse <match_id>",
		Short: "Decode the stored recording and persist the merged record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			attributes := map[string]string{"match_id": args[0]}
			if async {
				return publishTask(ctx, pipeline.StageParse, attributes)
			}

			stages, err := newStages(config.Load(), true)
			if err != nil {
				return err
			}
			return stages.Invoke(ctx, pipeline.StageParse, attributes)
		},
	}

	cmd.Flags().BoolVar(&async, "async", false, "dispatch through the bus instead of running locally")
	return cmd
}

func newImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <directory>",
		Short: "Backfill matches from local recording files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			stages, err := newStages(config.Load(), false)
			if err != nil {
				return err
			}

			results, err := stages.ImportFiles(ctx, args[0])
			if err != nil {
				return err
			}

			imported := 0
			for _, result := range results {
				if result.Err != nil {
					fmt.Printf("failed  %s: %v\n", result.File, result.Err)
					continue
				}
				imported++
				fmt.Printf("imported %s (match %s)\n", result.File, result.MatchID)
			}
			fmt.Printf("%d/%d recordings imported\n", imported, len(results))
			return nil
		},
	}
	return cmd
}

// newStages wires the local invocation path. The blob store is only dialed
// for stages that touch it.
func newStages(cfg *config.Config, withBlobs bool) (*pipeline.Stages, error) {
	httpClient := httpclient.New(cfg.RequestTimeout)

	var blobs recstore.Blobs
	if withBlobs {
		redisClient, err := database.NewRedis(cfg)
		if err != nil {
			return nil, err
		}
		blobs = recstore.New(redisClient, cfg.RecordingPrefix)
	}

	stages := pipeline.New(
		backend.New(httpClient, cfg.BackendBaseURL),
		aoe2api.New(httpClient, cfg.APIBaseURL, cfg.APILanguage),
		blobs,
		resolver.New(httpClient, cfg.ReplayBaseURL),
		recparse.NewHTTPDecoder(httpClient, cfg.DecoderBaseURL),
	)
	stages.SetStringsFile(cfg.StringsFile)
	stages.SetStrictGate(cfg.StrictDownloadGate)
	stages.SetDispatcher(pipeline.NewLocalDispatcher(stages))
	return stages, nil
}

func publishTask(ctx context.Context, stage string, attributes map[string]string) error {
	cfg := config.Load()
	publisher := bus.NewPublisher(cfg.KafkaBrokers)
	defer publisher.Close()

	return pipeline.NewBusDispatcher(publisher).Dispatch(ctx, stage, attributes)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
