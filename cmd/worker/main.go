package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/datatypes"

	"github.com/boertel/aoe2/pkg/aoe2api"
	"github.com/boertel/aoe2/pkg/backend"
	"github.com/boertel/aoe2/pkg/common/bus"
	"github.com/boertel/aoe2/pkg/common/config"
	"github.com/boertel/aoe2/pkg/common/database"
	"github.com/boertel/aoe2/pkg/common/httpclient"
	"github.com/boertel/aoe2/pkg/common/logger"
	"github.com/boertel/aoe2/pkg/common/models"
	"github.com/boertel/aoe2/pkg/journal"
	"github.com/boertel/aoe2/pkg/pipeline"
	"github.com/boertel/aoe2/pkg/recparse"
	"github.com/boertel/aoe2/pkg/recstore"
	"github.com/boertel/aoe2/pkg/resolver"
)

func main() {
	logger.Init()
	cfg := config.Load()

	httpClient := httpclient.New(cfg.RequestTimeout)

	api := aoe2api.New(httpClient, cfg.APIBaseURL, cfg.APILanguage)
	backendClient := backend.New(httpClient, cfg.BackendBaseURL)

	redisClient, err := database.NewRedis(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to recording store")
	}
	blobs := recstore.New(redisClient, cfg.RecordingPrefix)

	stages := pipeline.New(
		backendClient,
		api,
		blobs,
		resolver.New(httpClient, cfg.ReplayBaseURL),
		recparse.NewHTTPDecoder(httpClient, cfg.DecoderBaseURL),
	)
	stages.SetStringsFile(cfg.StringsFile)
	stages.SetStrictGate(cfg.StrictDownloadGate)

	publisher := bus.NewPublisher(cfg.KafkaBrokers)
	defer publisher.Close()
	stages.SetDispatcher(pipeline.NewBusDispatcher(publisher))

	var tasks *journal.Repository
	if cfg.JournalEnabled {
		db, err := database.NewPostgres(cfg)
		if err != nil {
			logger.Log.WithError(err).Fatal("Failed to connect to task journal")
		}
		defer database.ClosePostgres(db)

		tasks = journal.NewRepository(db)
		if err := tasks.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("Failed to migrate task journal")
		}
	}

	handler := func(ctx context.Context, task models.Task) error {
		journalTask(ctx, tasks, task)
		err := stages.Invoke(ctx, task.Stage, task.Attributes)
		journalOutcome(ctx, tasks, task, err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stageNames := []string{pipeline.StageMatchForPlayer, pipeline.StageDownload, pipeline.StageParse}
	for _, stage := range stageNames {
		consumer := bus.NewConsumer(cfg.KafkaBrokers, stage, cfg.KafkaGroupID)
		defer consumer.Close()

		go func(stage string, consumer *bus.Consumer) {
			if err := consumer.Consume(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
				logger.Log.WithError(err).WithField("stage", stage).Fatal("Consumer error")
			}
		}(stage, consumer)
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods("GET")

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Pipeline worker started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down pipeline worker...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Pipeline worker stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func journalTask(ctx context.Context, tasks *journal.Repository, task models.Task) {
	if tasks == nil {
		return
	}
	attributes := make(datatypes.JSONMap, len(task.Attributes))
	for key, value := range task.Attributes {
		attributes[key] = value
	}
	record := &journal.TaskRecord{
		ID:         task.ID,
		Stage:      task.Stage,
		MatchID:    task.Attributes["match_id"],
		Attributes: attributes,
	}
	if err := tasks.Create(ctx, record); err != nil {
		// duplicate delivery of the same task id lands here
		logger.Log.WithError(err).WithField("task_id", task.ID).Debug("Task already journaled")
	}
}

func journalOutcome(ctx context.Context, tasks *journal.Repository, task models.Task, invokeErr error) {
	if tasks == nil {
		return
	}
	status := journal.StatusSucceeded
	errMsg := ""
	if invokeErr != nil {
		status = journal.StatusFailed
		errMsg = invokeErr.Error()
	}
	if err := tasks.UpdateStatus(ctx, task.ID, status, errMsg); err != nil {
		logger.Log.WithError(err).WithField("task_id", task.ID).Error("Failed to update task journal")
	}
}
