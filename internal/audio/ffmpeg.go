package audio

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/maauso/audiosync/internal/media"
)

// FFmpegSegmenter implements Segmenter using the ffmpeg silencedetect filter.
type FFmpegSegmenter struct {
	runner media.Runner
	binary media.BinaryFunc
	opts   SegmentOpts
	logger *slog.Logger
}

// NewFFmpegSegmenter creates a new FFmpegSegmenter.
func NewFFmpegSegmenter(runner media.Runner, binary media.BinaryFunc, opts SegmentOpts, logger *slog.Logger) *FFmpegSegmenter {
	if runner == nil {
		runner = media.NewExecRunner()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegSegmenter{runner: runner, binary: binary, opts: opts, logger: logger}
}

// SilenceEvent is one silence reported by the detector: the time it ended
// and how long it lasted.
type SilenceEvent struct {
	End      float64
	Duration float64
}

// Begin returns the time the silence started.
func (e SilenceEvent) Begin() float64 {
	return e.End - e.Duration
}

// Segment implements Segmenter.Segment.
func (s *FFmpegSegmenter) Segment(ctx context.Context, path string, totalDuration float64) ([]Item, error) {
	events, err := s.detectSilences(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("detect silences: %w", err)
	}

	items := DeriveItems(events, totalDuration)
	s.logger.Debug("segmented audio",
		slog.String("path", path),
		slog.Int("silences", len(events)),
		slog.Int("items", len(items)),
		slog.Float64("duration", totalDuration),
	)
	return items, nil
}

// detectSilences runs ffmpeg in null-output analysis mode and parses its diagnostics.
func (s *FFmpegSegmenter) detectSilences(ctx context.Context, path string) ([]SilenceEvent, error) {
	bin, err := s.binary()
	if err != nil {
		return nil, err
	}

	res, err := s.runner.Run(ctx, bin, silenceDetectArgs(path, s.opts))
	if err != nil {
		return nil, err
	}

	// ffmpeg writes silencedetect output to stderr
	return parseSilenceDetectOutput(res.Stderr)
}

func silenceDetectArgs(path string, opts SegmentOpts) []string {
	filter := fmt.Sprintf("silencedetect=noise=%sdB:d=%s",
		strconv.FormatFloat(opts.SilenceThreshDB, 'f', -1, 64),
		strconv.FormatFloat(opts.MinSilenceSec, 'f', -1, 64),
	)
	return []string{
		"-hide_banner",
		"-nostats",
		"-i", path,
		"-af", filter,
		"-f", "null",
		"-",
	}
}

var silenceEndRe = regexp.MustCompile(`silence_end:\s*(-?[\d.]+)\s*\|\s*silence_duration:\s*(-?[\d.]+)`)

// parseSilenceDetectOutput extracts silence_end/silence_duration pairs in emission order.
func parseSilenceDetectOutput(output string) ([]SilenceEvent, error) {
	var events []SilenceEvent
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		m := silenceEndRe.FindStringSubmatch(scanner.Text())
		if len(m) < 3 {
			continue
		}
		end, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		dur, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		events = append(events, SilenceEvent{End: end, Duration: dur})
	}

	return events, scanner.Err()
}

// DeriveItems turns ordered silence events into the non-silent items between
// them, padded by Extend and classified by MaxBufferDuration.
func DeriveItems(events []SilenceEvent, totalDuration float64) []Item {
	var items []Item
	nextStart := 0.0

	for _, ev := range events {
		start := nextStart
		if d := ev.Begin() - start; d > 0 {
			items = append(items, Item{Start: start, Duration: d})
		}
		nextStart = ev.End
	}

	// Also the only item when no silence was detected.
	if remaining := totalDuration - nextStart; media.Round2(nextStart) != media.Round2(totalDuration) && remaining > 0 {
		items = append(items, Item{Start: nextStart, Duration: remaining})
	}

	for i := range items {
		items[i] = pad(items[i], totalDuration)
	}
	return items
}

// pad widens an unpadded item and assigns its kind from the unpadded duration.
func pad(it Item, totalDuration float64) Item {
	kind := KindBuffer
	if it.Duration > MaxBufferDuration {
		kind = KindDash
	}

	start := it.Start - Extend/2
	if start < 0 {
		start = 0
	}
	duration := it.Duration + Extend
	if duration > totalDuration {
		duration = totalDuration
	}

	return Item{
		Start:    media.Round2(start),
		Duration: media.Round2(duration),
		Type:     kind,
	}
}
