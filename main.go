package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"clipforge/api"
	"clipforge/config"
	"clipforge/ffmpeg"
	"clipforge/job"
	"clipforge/media"
	"clipforge/pipeline"
	"clipforge/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	store, err := job.NewStore(cfg.DatabasePath, logger.Named("store"))
	if err != nil {
		logger.Fatal("failed to open job store", zap.Error(err))
	}
	defer store.Close()

	encoderArgs, err := ffmpeg.ParseEncoderArgs(cfg.EncoderArgs)
	if err != nil {
		logger.Fatal("invalid encoder args", zap.Error(err))
	}

	executor, err := ffmpeg.NewExecutor(cfg.FFmpegBin, ffmpeg.Throttle{
		IdleCPUPercent: cfg.ThrottleCPU,
		FreeMemBytes:   cfg.ThrottleFreeMem,
		FreeDiskBytes:  cfg.ThrottleFreeDisk,
	}, logger.Named("ffmpeg"))
	if err != nil {
		logger.Fatal("failed to initialize executor", zap.Error(err))
	}

	prober := ffmpeg.NewProber(cfg.FFprobeBin, cfg.ProbeTimeout, logger.Named("ffprobe"))
	fetcher := media.NewFetcher(cfg.DownloadTimeout, cfg.MaxInputSize, logger.Named("fetcher"))
	publisher := storage.NewBucketPublisher(
		cfg.StorageEndpoint, cfg.StorageBucket, cfg.StorageAccessKey, cfg.StoragePublicBase,
		logger.Named("storage"))

	merger := pipeline.NewMerger(fetcher, prober, executor, publisher,
		encoderArgs, cfg.MergeTimeout, logger.Named("merge"))
	composer := pipeline.NewComposer(fetcher, prober, executor, publisher,
		encoderArgs, cfg.ConcatTimeout, cfg.LongformTimeout, logger.Named("longform"))

	scheduler := job.NewScheduler(store, composer, cfg.PollInterval, logger.Named("scheduler"))

	router := api.SetupRouter(merger, store, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	scheduler.Wait()
	logger.Info("server exiting")
}
