package filestore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/maauso/audiosync/internal/audio"
	"github.com/maauso/audiosync/internal/encoding"
	"github.com/maauso/audiosync/internal/media"
)

var _ Record = (*AudioRecord)(nil)

// AudioRecord runs the probe, segment and encode pipeline for an audio file.
// Each stage depends on the previous one and runs at most once at a time.
type AudioRecord struct {
	id   string
	path string

	prober    media.Prober
	segmenter audio.Segmenter
	encoder   encoding.Encoder
	logger    *slog.Logger

	probe   stage[media.ProbeResult]
	segment stage[[]audio.Item]
	encode  stage[encoding.EncodeResult]

	mu         sync.Mutex
	targetBase string
}

// NewAudioRecord creates a record for the audio file at path.
func NewAudioRecord(id, path string, prober media.Prober, segmenter audio.Segmenter, encoder encoding.Encoder, logger *slog.Logger) *AudioRecord {
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioRecord{
		id:        id,
		path:      path,
		prober:    prober,
		segmenter: segmenter,
		encoder:   encoder,
		logger:    logger.With(slog.String("file_id", id)),
	}
}

// ID returns the file id.
func (r *AudioRecord) ID() string { return r.id }

// Path returns the absolute file path.
func (r *AudioRecord) Path() string { return r.path }

// Kind returns KindAudio.
func (r *AudioRecord) Kind() Kind { return KindAudio }

// Exists implements Record.
func (r *AudioRecord) Exists(ctx context.Context) error {
	return checkExists(ctx, r.path)
}

// Probe implements Record.
func (r *AudioRecord) Probe(ctx context.Context) (Probed, error) {
	res, err := r.ProbeAudio(ctx)
	if err != nil {
		return Probed{}, err
	}
	return Probed{Audio: &res}, nil
}

// ProbeAudio returns the memoized audio probe result.
func (r *AudioRecord) ProbeAudio(ctx context.Context) (media.ProbeResult, error) {
	return r.probe.get(ctx, func(ctx context.Context) (media.ProbeResult, error) {
		if err := r.Exists(ctx); err != nil {
			return media.ProbeResult{}, err
		}
		res, err := r.prober.Probe(ctx, r.path)
		if err != nil {
			return media.ProbeResult{}, err
		}
		r.logger.Debug("probed",
			slog.Int("sample_rate", res.SampleRate),
			slog.Int("channels", res.NumChannels),
			slog.Float64("duration", res.Duration),
		)
		return res, nil
	})
}

// Segment implements Record.
func (r *AudioRecord) Segment(ctx context.Context, seed []audio.Item) ([]audio.Item, error) {
	if len(seed) > 0 {
		r.segment.seed(cloneItems(seed))
	}
	items, err := r.segment.get(ctx, func(ctx context.Context) ([]audio.Item, error) {
		if err := r.Exists(ctx); err != nil {
			return nil, err
		}
		probe, err := r.ProbeAudio(ctx)
		if err != nil {
			return nil, err
		}
		items, err := r.segmenter.Segment(ctx, r.path, probe.Duration)
		if err != nil {
			return nil, err
		}
		r.logger.Debug("segmented", slog.Int("items", len(items)))
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneItems(items), nil
}

// Encode implements Record. A cached result whose base directory has
// disappeared is discarded and the file is encoded again.
func (r *AudioRecord) Encode(ctx context.Context, seed []encoding.EncodedItem, seedBase string) (encoding.EncodeResult, error) {
	if seedBase != "" {
		if len(seed) > 0 {
			r.encode.seed(encoding.EncodeResult{BaseDir: seedBase, Items: cloneEncoded(seed)})
		} else if st := r.encode.state(); st == StageIdle || st == StageFailed {
			// consumed by the next encode run only
			r.mu.Lock()
			r.targetBase = seedBase
			r.mu.Unlock()
		}
	}

	for attempt := 0; ; attempt++ {
		res, err := r.encode.get(ctx, r.runEncode)
		if err != nil {
			return encoding.EncodeResult{}, err
		}
		if dirExists(res.BaseDir) {
			return cloneResult(res), nil
		}
		if attempt > 0 {
			return encoding.EncodeResult{}, fmt.Errorf("%w: encoded output %s", ErrNotFound, res.BaseDir)
		}
		r.logger.Warn("encoded output is gone, encoding again", slog.String("base_dir", res.BaseDir))
		r.encode.invalidate(func(cur encoding.EncodeResult) bool { return !dirExists(cur.BaseDir) })
	}
}

func (r *AudioRecord) runEncode(ctx context.Context) (encoding.EncodeResult, error) {
	if err := r.Exists(ctx); err != nil {
		return encoding.EncodeResult{}, err
	}
	items, err := r.Segment(ctx, nil)
	if err != nil {
		return encoding.EncodeResult{}, err
	}

	r.mu.Lock()
	base := r.targetBase
	r.targetBase = ""
	r.mu.Unlock()
	if !dirExists(base) {
		base = ""
	}

	return r.encoder.Encode(ctx, encoding.EncodeRequest{
		Path:    r.path,
		Items:   items,
		BaseDir: base,
	})
}

// Snapshot implements Record.
func (r *AudioRecord) Snapshot() Snapshot {
	s := Snapshot{
		FileID:       r.id,
		FilePath:     r.path,
		Kind:         KindAudio,
		ProbeState:   r.probe.state(),
		SegmentState: r.segment.state(),
		EncodeState:  r.encode.state(),
	}
	if p, ok := r.probe.peek(); ok {
		s.Probe = &p
	}
	if items, ok := r.segment.peek(); ok {
		s.Items = cloneItems(items)
	}
	if enc, ok := r.encode.peek(); ok {
		s.EncodedItems = cloneEncoded(enc.Items)
		s.EncodedItemsBasePath = enc.BaseDir
	}
	return s
}

func cloneItems(items []audio.Item) []audio.Item {
	if items == nil {
		return nil
	}
	return append([]audio.Item(nil), items...)
}

func cloneEncoded(items []encoding.EncodedItem) []encoding.EncodedItem {
	if items == nil {
		return nil
	}
	return append([]encoding.EncodedItem(nil), items...)
}

func cloneResult(res encoding.EncodeResult) encoding.EncodeResult {
	return encoding.EncodeResult{BaseDir: res.BaseDir, Items: cloneEncoded(res.Items)}
}
