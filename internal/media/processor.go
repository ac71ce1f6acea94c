// Package media wraps the external prober and the process runner used by the
// encoding pipeline.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Static errors for probe operations.
var (
	// ErrProbe is the parent of every probe failure.
	ErrProbe = errors.New("probe failed")
	// ErrNoStreams is returned when the prober reports no streams at all.
	ErrNoStreams = fmt.Errorf("%w: no streams found", ErrProbe)
	// ErrNotAudio is returned when the first stream is not an audio stream.
	ErrNotAudio = fmt.Errorf("%w: first stream is not audio", ErrProbe)
	// ErrNotImage is returned when an image file does not expose a picture stream.
	ErrNotImage = fmt.Errorf("%w: first stream is not an image", ErrProbe)
)

// ProbeResult is the audio metadata the pipeline needs.
type ProbeResult struct {
	SampleRate  int     `json:"sampleRate"`
	NumChannels int     `json:"numChannels"`
	Duration    float64 `json:"duration"`
}

// ImageInfo is the metadata extracted from an image file.
type ImageInfo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Codec  string `json:"codec"`
}

// Prober extracts stream metadata from media files.
type Prober interface {
	Probe(ctx context.Context, path string) (ProbeResult, error)
	ProbeImage(ctx context.Context, path string) (ImageInfo, error)
}

// BinaryFunc returns the path of a resolved executable.
type BinaryFunc func() (string, error)

// FFprobe implements Prober with the ffprobe CLI.
type FFprobe struct {
	runner Runner
	binary BinaryFunc
}

// NewFFprobe creates a prober that runs the binary returned by binary.
func NewFFprobe(runner Runner, binary BinaryFunc) *FFprobe {
	if runner == nil {
		runner = NewExecRunner()
	}
	return &FFprobe{runner: runner, binary: binary}
}

type ffprobeStream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Duration   string `json:"duration"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (p *FFprobe) inspect(ctx context.Context, path string) (ffprobeOutput, error) {
	bin, err := p.binary()
	if err != nil {
		return ffprobeOutput{}, err
	}

	res, err := p.runner.Run(ctx, bin, []string{
		"-v", "error",
		"-hide_banner",
		"-show_streams",
		"-show_format",
		"-of", "json",
		"--", path,
	})
	if err != nil {
		return ffprobeOutput{}, fmt.Errorf("%w: %w", ErrProbe, err)
	}

	var out ffprobeOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return ffprobeOutput{}, fmt.Errorf("%w: parse ffprobe output: %w", ErrProbe, err)
	}
	if len(out.Streams) == 0 {
		return ffprobeOutput{}, ErrNoStreams
	}
	return out, nil
}

// Probe returns sample rate, channel count and duration of the first stream,
// which must be an audio stream.
func (p *FFprobe) Probe(ctx context.Context, path string) (ProbeResult, error) {
	out, err := p.inspect(ctx, path)
	if err != nil {
		return ProbeResult{}, err
	}

	first := out.Streams[0]
	if !strings.EqualFold(first.CodecType, "audio") {
		return ProbeResult{}, fmt.Errorf("%w (got %q)", ErrNotAudio, first.CodecType)
	}

	sampleRate, err := strconv.Atoi(strings.TrimSpace(first.SampleRate))
	if err != nil {
		return ProbeResult{}, fmt.Errorf("%w: sample rate %q: %w", ErrProbe, first.SampleRate, err)
	}

	duration := parseFloat(first.Duration)
	if duration <= 0 {
		duration = parseFloat(out.Format.Duration)
	}

	return ProbeResult{
		SampleRate:  sampleRate,
		NumChannels: first.Channels,
		Duration:    Round2(duration),
	}, nil
}

// ProbeImage returns the dimensions of an image file. Still images are reported
// by ffprobe as a single-frame video stream.
func (p *FFprobe) ProbeImage(ctx context.Context, path string) (ImageInfo, error) {
	out, err := p.inspect(ctx, path)
	if err != nil {
		return ImageInfo{}, err
	}

	first := out.Streams[0]
	if !strings.EqualFold(first.CodecType, "video") || first.Width <= 0 || first.Height <= 0 {
		return ImageInfo{}, fmt.Errorf("%w (got %q)", ErrNotImage, first.CodecType)
	}
	return ImageInfo{Width: first.Width, Height: first.Height, Codec: first.CodecName}, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Round2 rounds to two decimal places. Every duration comparison in the pipeline
// goes through it.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
