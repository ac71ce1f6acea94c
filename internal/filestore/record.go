// Package filestore keeps a registry of source files and memoizes the
// existence, probe, segmentation and encoding results of each one.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/maauso/audiosync/internal/audio"
	"github.com/maauso/audiosync/internal/encoding"
	"github.com/maauso/audiosync/internal/media"
)

var (
	// ErrNotFound is returned when a file is missing on disk.
	ErrNotFound = errors.New("file not found")
	// ErrUnknownFile is returned when no record is registered under an id.
	ErrUnknownFile = errors.New("file is not registered")
	// ErrUnsupported is returned when an operation does not apply to a record kind.
	ErrUnsupported = errors.New("operation not supported for this file kind")
	// ErrInvalidRegistration is returned for an empty id or path.
	ErrInvalidRegistration = errors.New("invalid file registration")
)

// Kind is the variant of a file record.
type Kind string

const (
	KindAudio Kind = "audio"
	KindImage Kind = "image"
)

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	return k == KindAudio || k == KindImage
}

// Probed is the probe result of a record. Exactly one field is set.
type Probed struct {
	Audio *media.ProbeResult `json:"audio,omitempty"`
	Image *media.ImageInfo   `json:"image,omitempty"`
}

// Record is a registered file.
type Record interface {
	ID() string
	Path() string
	Kind() Kind
	// Exists checks the file on disk, returning an error wrapping ErrNotFound
	// when it is gone.
	Exists(ctx context.Context) error
	Probe(ctx context.Context) (Probed, error)
	// Segment returns the cached items, or seeds the cache with seed when
	// non-empty, or derives them.
	Segment(ctx context.Context, seed []audio.Item) ([]audio.Item, error)
	// Encode returns the cached encode, or seeds the cache with seed and
	// seedBase, or encodes into seedBase (or a new directory).
	Encode(ctx context.Context, seed []encoding.EncodedItem, seedBase string) (encoding.EncodeResult, error)
	Snapshot() Snapshot
}

// Snapshot is a plain-data view of a record.
type Snapshot struct {
	FileID               string                 `json:"fileId"`
	FilePath             string                 `json:"filePath"`
	Kind                 Kind                   `json:"kind"`
	Probe                *media.ProbeResult     `json:"probe,omitempty"`
	Image                *media.ImageInfo       `json:"image,omitempty"`
	Items                []audio.Item           `json:"items,omitempty"`
	EncodedItems         []encoding.EncodedItem `json:"encodedItems,omitempty"`
	EncodedItemsBasePath string                 `json:"encodedItemsBasePath,omitempty"`
	ProbeState           StageState             `json:"probeState"`
	SegmentState         StageState             `json:"segmentState"`
	EncodeState          StageState             `json:"encodeState"`
}

func checkExists(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}
	return nil
}

func dirExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
