// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/mattn/go-isatty"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Static errors for configuration validation.
var (
	// ErrInvalidConcurrency is returned when a concurrency setting is not positive.
	ErrInvalidConcurrency = errors.New("config: BATCH_CONCURRENCY and TASK_CONCURRENCY must be positive")
	// ErrInvalidEncoding is returned for a non-positive sample rate, bitrate or segment length.
	ErrInvalidEncoding = errors.New("config: SAMPLE_RATE, AUDIO_BITRATE and DASH_SEGMENT_SEC must be positive")
	// ErrInvalidSilence is returned when SILENCE_MIN_SEC is not positive.
	ErrInvalidSilence = errors.New("config: SILENCE_MIN_SEC must be positive")
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/audiosync" json:"temp_dir"`

	// External tools; empty means look up on PATH
	FFmpegPath  string `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`
	FFprobePath string `env:"FFPROBE_PATH" json:"ffprobe_path,omitempty"`

	// Processing settings
	BatchConcurrency int `env:"BATCH_CONCURRENCY, default=4" json:"batch_concurrency"`
	TaskConcurrency  int `env:"TASK_CONCURRENCY, default=2" json:"task_concurrency"`

	// Encoding settings
	SampleRate       int               `env:"SAMPLE_RATE, default=48000" json:"sample_rate"`
	AudioBitrate     int               `env:"AUDIO_BITRATE, default=128000" json:"audio_bitrate"`
	DashSegmentSec   float64           `env:"DASH_SEGMENT_SEC, default=2" json:"dash_segment_sec"`
	EncoderExtraArgs string            `env:"ENCODER_EXTRA_ARGS" json:"encoder_extra_args,omitempty"`
	MinFreeDisk      datasize.ByteSize `env:"MIN_FREE_DISK, default=0" json:"min_free_disk"` // e.g. "2GB", 0 disables the check

	// Silence detection settings
	SilenceNoiseDB float64 `env:"SILENCE_NOISE_DB, default=-60" json:"silence_noise_db"`
	SilenceMinSec  float64 `env:"SILENCE_MIN_SEC, default=1.0" json:"silence_min_sec"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Prefix           string `env:"S3_PREFIX, default=bundles" json:"s3_prefix"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json", "text" or "auto"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
	LogFile   string `env:"LOG_FILE" json:"log_file,omitempty"`         // rotated file instead of stdout
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	return load(context.Background(), nil)
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	ec := &envconfig.Config{Target: cfg}
	if lookuper != nil {
		ec.Lookuper = lookuper
	}
	if err := envconfig.ProcessWith(ctx, ec); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.BatchConcurrency <= 0 || c.TaskConcurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.SampleRate <= 0 || c.AudioBitrate <= 0 || c.DashSegmentSec <= 0 {
		return ErrInvalidEncoding
	}
	if c.SilenceMinSec <= 0 {
		return ErrInvalidSilence
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// "auto" picks text on a terminal and JSON otherwise.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.newLogger(c.logWriter())
}

func (c *Config) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if c.useJSON(w) {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func (c *Config) logWriter() io.Writer {
	if c.LogFile == "" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
}

func (c *Config) useJSON(w io.Writer) bool {
	switch strings.ToLower(c.LogFormat) {
	case "json":
		return true
	case "auto":
		f, ok := w.(*os.File)
		if !ok {
			return true
		}
		return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
	default:
		return false
	}
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, BatchConcurrency: %d, TaskConcurrency: %d, SampleRate: %d, AudioBitrate: %d, DashSegmentSec: %g, MinFreeDisk: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.BatchConcurrency,
		c.TaskConcurrency,
		c.SampleRate,
		c.AudioBitrate,
		c.DashSegmentSec,
		c.MinFreeDisk.HumanReadable(),
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
