// Package bootstrap provides dependency initialization for audiosync.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/audiosync/internal/audio"
	"github.com/maauso/audiosync/internal/config"
	"github.com/maauso/audiosync/internal/encoding"
	"github.com/maauso/audiosync/internal/filestore"
	"github.com/maauso/audiosync/internal/media"
	"github.com/maauso/audiosync/internal/storage"
	"github.com/maauso/audiosync/internal/task"
	"github.com/maauso/audiosync/internal/tools"
	"github.com/maauso/audiosync/internal/workflow"
)

// Dependencies holds all initialized dependencies of the application.
type Dependencies struct {
	Tools     *tools.Resolver
	Storage   storage.Storage
	Prober    media.Prober
	Segmenter audio.Segmenter
	Encoder   encoding.Encoder
	Store     *filestore.Store
	Tasks     *task.Manager
	Workflows *workflow.Service
}

// NewDependencies creates and initializes all dependencies for the application.
// The task manager is created but not started.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	resolver := tools.NewResolver(
		tools.WithOverride(tools.FFmpeg, cfg.FFmpegPath),
		tools.WithOverride(tools.FFprobe, cfg.FFprobePath),
	)
	if err := resolver.MustResolveAll(tools.FFmpeg, tools.FFprobe); err != nil {
		return nil, fmt.Errorf("resolve tools: %w", err)
	}

	// Initialize storage
	st, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	extraArgs, err := encoding.ParseExtraArgs(cfg.EncoderExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("parse ENCODER_EXTRA_ARGS: %w", err)
	}

	runner := media.NewExecRunner()
	prober := media.NewFFprobe(runner, resolver.Prober)
	segmenter := audio.NewFFmpegSegmenter(runner, resolver.Encoder, audio.SegmentOpts{
		SilenceThreshDB: cfg.SilenceNoiseDB,
		MinSilenceSec:   cfg.SilenceMinSec,
	}, logger)
	encoder := encoding.NewEngine(runner, resolver.Encoder, st, logger,
		encoding.WithSampleRate(cfg.SampleRate),
		encoding.WithBitrate(cfg.AudioBitrate),
		encoding.WithSegmentDuration(cfg.DashSegmentSec),
		encoding.WithExtraArgs(extraArgs),
		encoding.WithMinFreeDisk(cfg.MinFreeDisk.Bytes()),
	)

	store := filestore.NewStore(prober, segmenter, encoder, logger,
		filestore.WithConcurrency(cfg.BatchConcurrency),
	)

	return &Dependencies{
		Tools:     resolver,
		Storage:   st,
		Prober:    prober,
		Segmenter: segmenter,
		Encoder:   encoder,
		Store:     store,
		Tasks:     task.NewManager(cfg.TaskConcurrency, logger),
		Workflows: workflow.NewService(store, st, cfg.S3Prefix, logger),
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
