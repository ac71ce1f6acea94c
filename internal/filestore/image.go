package filestore

import (
	"context"
	"fmt"

	"github.com/maauso/audiosync/internal/audio"
	"github.com/maauso/audiosync/internal/encoding"
	"github.com/maauso/audiosync/internal/media"
)

var _ Record = (*ImageRecord)(nil)

// ImageRecord is a registered image. Only existence and probing apply.
type ImageRecord struct {
	id     string
	path   string
	prober media.Prober
	probe  stage[media.ImageInfo]
}

// NewImageRecord creates a record for the image at path.
func NewImageRecord(id, path string, prober media.Prober) *ImageRecord {
	return &ImageRecord{id: id, path: path, prober: prober}
}

func (r *ImageRecord) ID() string   { return r.id }
func (r *ImageRecord) Path() string { return r.path }
func (r *ImageRecord) Kind() Kind   { return KindImage }

// Exists implements Record.
func (r *ImageRecord) Exists(ctx context.Context) error {
	return checkExists(ctx, r.path)
}

// Probe implements Record.
func (r *ImageRecord) Probe(ctx context.Context) (Probed, error) {
	info, err := r.probe.get(ctx, func(ctx context.Context) (media.ImageInfo, error) {
		if err := r.Exists(ctx); err != nil {
			return media.ImageInfo{}, err
		}
		return r.prober.ProbeImage(ctx, r.path)
	})
	if err != nil {
		return Probed{}, err
	}
	return Probed{Image: &info}, nil
}

// Segment returns ErrUnsupported.
func (r *ImageRecord) Segment(context.Context, []audio.Item) ([]audio.Item, error) {
	return nil, fmt.Errorf("segment %s: %w", r.id, ErrUnsupported)
}

// Encode returns ErrUnsupported.
func (r *ImageRecord) Encode(context.Context, []encoding.EncodedItem, string) (encoding.EncodeResult, error) {
	return encoding.EncodeResult{}, fmt.Errorf("encode %s: %w", r.id, ErrUnsupported)
}

// Snapshot implements Record.
func (r *ImageRecord) Snapshot() Snapshot {
	s := Snapshot{
		FileID:       r.id,
		FilePath:     r.path,
		Kind:         KindImage,
		ProbeState:   r.probe.state(),
		SegmentState: StageIdle,
		EncodeState:  StageIdle,
	}
	if info, ok := r.probe.peek(); ok {
		s.Image = &info
	}
	return s
}
