// Package audio provides silence-based segmentation of audio files into
// playable items.
package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// Extend is the padding added around every item. Half of it is taken
	// from the start, all of it is added to the duration.
	Extend = 0.1
	// MaxBufferDuration is the longest item still delivered as a single buffer.
	MaxBufferDuration = 10.0
)

// ErrInvalidKind is returned when an item type is neither "buffer" nor "dash".
var ErrInvalidKind = errors.New("audio: invalid item type")

// Kind classifies an item by how the player consumes it.
type Kind int

const (
	// KindBuffer items are short enough to be loaded in full.
	KindBuffer Kind = iota
	// KindDash items are streamed as DASH segments.
	KindDash
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindDash:
		return "dash"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind converts a wire name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "buffer":
		return KindBuffer, nil
	case "dash":
		return KindDash, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if k != KindBuffer && k != KindDash {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKind, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Item is a time range of an audio file, in seconds.
type Item struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Type     Kind    `json:"type"`
}

// End returns Start+Duration.
func (i Item) End() float64 {
	return i.Start + i.Duration
}

// DecodeItems decodes a JSON item list, rejecting unknown item types.
func DecodeItems(data []byte) ([]Item, error) {
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SegmentOpts configures silence detection.
type SegmentOpts struct {
	// SilenceThreshDB is the volume threshold in dB below which
	// audio is considered silence.
	// Default: -60 dB.
	SilenceThreshDB float64

	// MinSilenceSec is the minimum silence length, in seconds, reported
	// by the detector.
	// Default: 1 second.
	MinSilenceSec float64
}

// DefaultSegmentOpts returns the default options for segmentation.
func DefaultSegmentOpts() SegmentOpts {
	return SegmentOpts{
		SilenceThreshDB: -60,
		MinSilenceSec:   1,
	}
}

// Segmenter defines the interface for deriving items from an audio file.
type Segmenter interface {
	// Segment analyzes the file at path, whose probed duration is
	// totalDuration seconds, and returns its items in playback order.
	Segment(ctx context.Context, path string, totalDuration float64) ([]Item, error)
}
