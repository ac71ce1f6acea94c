// Package encoding transcodes segmented audio into buffer files and DASH
// bundles with standard and Safari manifests.
package encoding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/c2h5oh/datasize"
	"github.com/google/shlex"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/maauso/audiosync/internal/audio"
	"github.com/maauso/audiosync/internal/media"
)

// Encoding defaults.
const (
	DefaultSampleRate      = 48000
	DefaultBitrate         = 128000
	DefaultChannels        = 2
	DefaultSegmentDuration = 2.0
	// PadDuration is the length in seconds of the silence appended to every
	// DASH item.
	PadDuration = 0.5
)

var (
	// ErrEncode is returned when a transcode invocation fails.
	ErrEncode = errors.New("encode failed")
	// ErrInsufficientDisk is returned by the free space preflight.
	ErrInsufficientDisk = errors.New("insufficient free disk space")
)

// DirAllocator hands out fresh output directories.
type DirAllocator interface {
	AllocateDir(ctx context.Context, prefix string) (string, error)
}

// EncodedItem is an item together with the location of its encoded output.
// Paths are relative to EncodeResult.BaseDir.
type EncodedItem struct {
	Start              float64    `json:"start"`
	Duration           float64    `json:"duration"`
	Type               audio.Kind `json:"type"`
	RelativePath       string     `json:"relativePath"`
	RelativePathSafari string     `json:"relativePathSafari,omitempty"`
}

// EncodeRequest describes one file to encode.
type EncodeRequest struct {
	Path  string
	Items []audio.Item
	// BaseDir is an existing output directory. When empty a new one is
	// allocated.
	BaseDir string
	// OnItem, when set, is called after each item with the number of
	// finished items.
	OnItem func(done, total int)
}

// EncodeResult is the outcome of a successful Encode.
type EncodeResult struct {
	BaseDir string        `json:"baseDir"`
	Items   []EncodedItem `json:"items"`
}

// Encoder encodes the items of a file.
type Encoder interface {
	Encode(ctx context.Context, req EncodeRequest) (EncodeResult, error)
}

// DiskFreeFunc reports the free bytes of the filesystem holding path.
type DiskFreeFunc func(path string) (uint64, error)

// Engine runs ffmpeg once per item, strictly in item order.
type Engine struct {
	runner media.Runner
	binary media.BinaryFunc
	dirs   DirAllocator
	logger *slog.Logger

	sampleRate      int
	bitrate         int
	channels        int
	segmentDuration float64
	extraArgs       []string
	minFreeDisk     uint64
	diskFree        DiskFreeFunc

	padMu   sync.Mutex
	padPath string
}

// Option configures an Engine.
type Option func(*Engine)

// WithSampleRate sets the output sample rate in Hz.
func WithSampleRate(hz int) Option {
	return func(e *Engine) {
		if hz > 0 {
			e.sampleRate = hz
		}
	}
}

// WithBitrate sets the AAC bitrate in bits per second.
func WithBitrate(bps int) Option {
	return func(e *Engine) {
		if bps > 0 {
			e.bitrate = bps
		}
	}
}

// WithSegmentDuration sets the DASH segment length in seconds.
func WithSegmentDuration(sec float64) Option {
	return func(e *Engine) {
		if sec > 0 {
			e.segmentDuration = sec
		}
	}
}

// WithExtraArgs appends args to every transcode invocation.
func WithExtraArgs(args []string) Option {
	return func(e *Engine) {
		e.extraArgs = append([]string(nil), args...)
	}
}

// WithMinFreeDisk makes Encode refuse to start when the output filesystem
// has fewer than n free bytes. Zero disables the check.
func WithMinFreeDisk(n uint64) Option {
	return func(e *Engine) {
		e.minFreeDisk = n
	}
}

// WithDiskFree replaces the free space lookup.
func WithDiskFree(fn DiskFreeFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.diskFree = fn
		}
	}
}

// NewEngine creates an Engine. Output directories come from dirs.
func NewEngine(runner media.Runner, binary media.BinaryFunc, dirs DirAllocator, logger *slog.Logger, opts ...Option) *Engine {
	if runner == nil {
		runner = media.NewExecRunner()
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		runner:          runner,
		binary:          binary,
		dirs:            dirs,
		logger:          logger,
		sampleRate:      DefaultSampleRate,
		bitrate:         DefaultBitrate,
		channels:        DefaultChannels,
		segmentDuration: DefaultSegmentDuration,
		diskFree:        gopsutilFree,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ParseExtraArgs splits a shell-quoted argument string.
func ParseExtraArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	args, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("parse encoder args: %w", err)
	}
	return args, nil
}

func gopsutilFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Encode transcodes every item of req. The first failing item aborts the
// remaining ones.
func (e *Engine) Encode(ctx context.Context, req EncodeRequest) (EncodeResult, error) {
	bin, err := e.binary()
	if err != nil {
		return EncodeResult{}, err
	}

	name := outputName(req.Path)
	baseDir := req.BaseDir
	if baseDir == "" {
		baseDir, err = e.dirs.AllocateDir(ctx, name)
		if err != nil {
			return EncodeResult{}, fmt.Errorf("allocate output directory: %w", err)
		}
	} else if info, statErr := os.Stat(baseDir); statErr != nil || !info.IsDir() {
		return EncodeResult{}, fmt.Errorf("output directory %s: %w", baseDir, os.ErrNotExist)
	}

	if err := e.checkDisk(baseDir); err != nil {
		return EncodeResult{}, err
	}

	log := e.logger.With(slog.String("file", req.Path), slog.String("base_dir", baseDir))
	log.Info("encoding file", slog.Int("items", len(req.Items)))

	encoded := make([]EncodedItem, 0, len(req.Items))
	for i, item := range req.Items {
		itemName := fmt.Sprintf("%s_%04d", name, i)

		var out EncodedItem
		switch item.Type {
		case audio.KindBuffer:
			out, err = e.encodeBuffer(ctx, bin, req.Path, baseDir, itemName, item)
		case audio.KindDash:
			out, err = e.encodeDash(ctx, bin, req.Path, baseDir, itemName, item)
		default:
			err = fmt.Errorf("%w: %d", audio.ErrInvalidKind, int(item.Type))
		}
		if err != nil {
			log.Error("item encode failed", slog.Int("index", i), slog.String("error", err.Error()))
			return EncodeResult{}, fmt.Errorf("%w: item %d (%s): %w", ErrEncode, i, item.Type, err)
		}

		encoded = append(encoded, out)
		log.Debug("item encoded", slog.Int("index", i), slog.String("type", item.Type.String()))
		if req.OnItem != nil {
			req.OnItem(i+1, len(req.Items))
		}
	}

	log.Info("file encoded")
	return EncodeResult{BaseDir: baseDir, Items: encoded}, nil
}

func (e *Engine) checkDisk(dir string) error {
	if e.minFreeDisk == 0 {
		return nil
	}
	free, err := e.diskFree(dir)
	if err != nil {
		return fmt.Errorf("check free disk space: %w", err)
	}
	if free < e.minFreeDisk {
		return fmt.Errorf("%w: %s free at %s, need %s", ErrInsufficientDisk,
			datasize.ByteSize(free).HumanReadable(), dir, datasize.ByteSize(e.minFreeDisk).HumanReadable())
	}
	return nil
}

func (e *Engine) encodeBuffer(ctx context.Context, bin, src, baseDir, name string, item audio.Item) (EncodedItem, error) {
	rel := name + ".m4a"

	args := []string{
		"-y", "-hide_banner", "-nostats",
		"-ss", formatSeconds(item.Start),
		"-t", formatSeconds(item.Duration),
		"-i", src,
		"-vn",
		"-ac", strconv.Itoa(e.channels),
		"-ar", strconv.Itoa(e.sampleRate),
		"-c:a", "aac",
		"-b:a", strconv.Itoa(e.bitrate),
	}
	args = append(args, e.extraArgs...)
	args = append(args, filepath.Join(baseDir, rel))

	if _, err := e.runner.Run(ctx, bin, args); err != nil {
		return EncodedItem{}, err
	}
	return EncodedItem{
		Start:        item.Start,
		Duration:     item.Duration,
		Type:         audio.KindBuffer,
		RelativePath: rel,
	}, nil
}

func (e *Engine) encodeDash(ctx context.Context, bin, src, baseDir, name string, item audio.Item) (EncodedItem, error) {
	pad, err := e.silencePad(ctx, bin)
	if err != nil {
		return EncodedItem{}, err
	}

	dir := filepath.Join(baseDir, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return EncodedItem{}, fmt.Errorf("create %s: %w", dir, err)
	}

	if _, err := e.runner.Run(ctx, bin, e.dashArgs(src, pad, dir, item)); err != nil {
		return EncodedItem{}, err
	}

	params := ManifestParams{
		Duration:        item.Duration + PadDuration,
		SegmentDuration: e.segmentDuration,
		SampleRate:      e.sampleRate,
		Channels:        e.channels,
		Bitrate:         e.bitrate,
	}
	if err := writeManifest(filepath.Join(dir, ManifestName), params); err != nil {
		return EncodedItem{}, err
	}
	params.Safari = true
	if err := writeManifest(filepath.Join(dir, SafariManifestName), params); err != nil {
		return EncodedItem{}, err
	}

	return EncodedItem{
		Start:              item.Start,
		Duration:           item.Duration,
		Type:               audio.KindDash,
		RelativePath:       filepath.ToSlash(filepath.Join(name, ManifestName)),
		RelativePathSafari: filepath.ToSlash(filepath.Join(name, SafariManifestName)),
	}, nil
}

// dashArgs builds the two-output invocation: the trimmed input followed by the
// silence pad is split into a fragmented DASH output and a flat segment output.
func (e *Engine) dashArgs(src, pad, dir string, item audio.Item) []string {
	layout := channelLayout(e.channels)
	norm := fmt.Sprintf("aresample=%d,aformat=sample_fmts=fltp:channel_layouts=%s", e.sampleRate, layout)
	graph := fmt.Sprintf("[0:a]%s[main];[1:a]%s[pad];[main][pad]concat=n=2:v=0:a=1,asplit=2[dash][safari]", norm, norm)
	seg := formatSeconds(e.segmentDuration)

	codec := []string{
		"-c:a", "aac",
		"-b:a", strconv.Itoa(e.bitrate),
		"-ar", strconv.Itoa(e.sampleRate),
		"-ac", strconv.Itoa(e.channels),
	}
	codec = append(codec, e.extraArgs...)

	args := []string{
		"-y", "-hide_banner", "-nostats",
		"-ss", formatSeconds(item.Start),
		"-t", formatSeconds(item.Duration),
		"-i", src,
		"-i", pad,
		"-filter_complex", graph,
		"-map", "[dash]",
	}
	args = append(args, codec...)
	args = append(args,
		"-f", "dash",
		"-seg_duration", seg,
		"-use_template", "1",
		"-use_timeline", "0",
		"-init_seg_name", InitSegmentName,
		"-media_seg_name", MediaSegmentName,
		filepath.Join(dir, ManifestName),
		"-map", "[safari]",
	)
	args = append(args, codec...)
	args = append(args,
		"-f", "segment",
		"-segment_time", seg,
		"-segment_format", "mp4",
		"-segment_start_number", "1",
		"-reset_timestamps", "1",
		filepath.Join(dir, safariSegmentPattern),
	)
	return args
}

// silencePad returns the shared silence asset, generating it on first use.
// A failed generation is retried by the next caller.
func (e *Engine) silencePad(ctx context.Context, bin string) (string, error) {
	e.padMu.Lock()
	defer e.padMu.Unlock()

	if e.padPath != "" {
		if _, err := os.Stat(e.padPath); err == nil {
			return e.padPath, nil
		}
		e.padPath = ""
	}

	dir, err := e.dirs.AllocateDir(ctx, "silence_pad")
	if err != nil {
		return "", fmt.Errorf("allocate silence pad directory: %w", err)
	}
	path := filepath.Join(dir, "pad.wav")

	_, err = e.runner.Run(ctx, bin, []string{
		"-y", "-hide_banner", "-nostats",
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=%d:cl=%s", e.sampleRate, channelLayout(e.channels)),
		"-t", formatSeconds(PadDuration),
		"-c:a", "pcm_s16le",
		path,
	})
	if err != nil {
		return "", fmt.Errorf("generate silence pad: %w", err)
	}

	e.logger.Debug("silence pad generated", slog.String("path", path))
	e.padPath = path
	return path, nil
}

func writeManifest(path string, p ManifestParams) error {
	data, err := BuildManifest(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func channelLayout(n int) string {
	if n == 1 {
		return "mono"
	}
	return "stereo"
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// outputName derives a filesystem and URL safe stem from the source path.
func outputName(src string) string {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		return "audio"
	}
	return base
}
