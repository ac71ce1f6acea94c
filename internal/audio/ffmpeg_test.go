package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/audiosync/internal/media"
)

// mockRunner implements media.Runner for testing.
type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, bin string, args []string) (media.Result, error) {
	a := m.Called(ctx, bin, args)
	return a.Get(0).(media.Result), a.Error(1)
}

func ffmpegBin() (string, error) { return "/usr/bin/ffmpeg", nil }

const sampleSilenceOutput = `Input #0, wav, from 'in.wav':
  Duration: 00:00:10.00, bitrate: 256 kb/s
[silencedetect @ 0x55d] silence_start: 2
[silencedetect @ 0x55d] silence_end: 4 | silence_duration: 2
[silencedetect @ 0x55d] silence_start: 6
[silencedetect @ 0x55d] silence_end: 8.0 | silence_duration: 2.0
size=N/A time=00:00:10.00 bitrate=N/A speed= 812x
`

func TestParseSilenceDetectOutput(t *testing.T) {
	events, err := parseSilenceDetectOutput(sampleSilenceOutput)
	require.NoError(t, err)
	assert.Equal(t, []SilenceEvent{{End: 4, Duration: 2}, {End: 8, Duration: 2}}, events)
}

func TestParseSilenceDetectOutput_Empty(t *testing.T) {
	events, err := parseSilenceDetectOutput("Input #0, wav\nsize=N/A\n")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDeriveItems_Example(t *testing.T) {
	items := DeriveItems([]SilenceEvent{{End: 4.0, Duration: 2.0}, {End: 8, Duration: 2}}, 10)

	assert.Equal(t, []Item{
		{Start: 0, Duration: 2.1, Type: KindBuffer},
		{Start: 3.95, Duration: 2.1, Type: KindBuffer},
		{Start: 7.95, Duration: 2.1, Type: KindBuffer},
	}, items)
}

func TestDeriveItems_NoSilence(t *testing.T) {
	items := DeriveItems(nil, 42.5)

	require.Len(t, items, 1)
	assert.Equal(t, 0.0, items[0].Start)
	assert.Equal(t, 42.5, items[0].Duration)
	assert.Equal(t, KindDash, items[0].Type)
}

func TestDeriveItems_LeadingSilenceDropped(t *testing.T) {
	// The file starts exactly on a silence: no zero-length item.
	items := DeriveItems([]SilenceEvent{{End: 3, Duration: 3}}, 8)

	require.Len(t, items, 1)
	assert.Equal(t, Item{Start: 2.95, Duration: 5.1, Type: KindBuffer}, items[0])
}

func TestDeriveItems_TrailingSilence(t *testing.T) {
	// Silence runs to the end of the file: no trailing item.
	items := DeriveItems([]SilenceEvent{{End: 12, Duration: 2}}, 12.003)

	require.Len(t, items, 1)
	assert.Equal(t, Item{Start: 0, Duration: 10.1, Type: KindBuffer}, items[0])
}

func TestDeriveItems_Classification(t *testing.T) {
	items := DeriveItems([]SilenceEvent{{End: 11, Duration: 1}, {End: 23, Duration: 1}}, 40)

	require.Len(t, items, 3)
	assert.Equal(t, Item{Start: 0, Duration: 10.1, Type: KindBuffer}, items[0], "exactly at the ceiling stays a buffer")
	assert.Equal(t, Item{Start: 10.95, Duration: 11.1, Type: KindDash}, items[1])
	assert.Equal(t, Item{Start: 22.95, Duration: 17.1, Type: KindDash}, items[2])
}

func TestDeriveItems_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 200; round++ {
		total := 5 + rng.Float64()*300
		var events []SilenceEvent
		cursor := 0.0
		for {
			begin := cursor + rng.Float64()*25
			dur := 0.5 + rng.Float64()*3
			if begin+dur >= total {
				break
			}
			events = append(events, SilenceEvent{End: begin + dur, Duration: dur})
			cursor = begin + dur
		}

		items := DeriveItems(events, total)
		require.NotEmpty(t, items)

		assert.True(t, sort.SliceIsSorted(items, func(i, j int) bool { return items[i].Start < items[j].Start }))
		for i, it := range items {
			assert.Greater(t, it.Duration, 0.0, "round %d item %d", round, i)
			assert.GreaterOrEqual(t, it.Start, 0.0)
			if i > 0 {
				assert.LessOrEqual(t, items[i-1].End(), it.Start+1e-9, "round %d items overlap", round)
			}
			unpadded := it.Duration - Extend
			if unpadded > MaxBufferDuration+0.01 {
				assert.Equal(t, KindDash, it.Type)
			} else if unpadded < MaxBufferDuration-0.01 {
				assert.Equal(t, KindBuffer, it.Type)
			}
		}
	}
}

func TestFFmpegSegmenter_Segment(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, "/usr/bin/ffmpeg", []string{
		"-hide_banner", "-nostats",
		"-i", "/audio/a.wav",
		"-af", "silencedetect=noise=-60dB:d=1",
		"-f", "null", "-",
	}).Return(media.Result{Stderr: sampleSilenceOutput}, nil).Once()

	s := NewFFmpegSegmenter(runner, ffmpegBin, DefaultSegmentOpts(), nil)
	items, err := s.Segment(context.Background(), "/audio/a.wav", 10)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	runner.AssertExpectations(t)
}

func TestFFmpegSegmenter_ToolFailure(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).
		Return(media.Result{ExitCode: 1}, &media.FFmpegError{ExitCode: 1, Err: errors.New("exit status 1")})

	s := NewFFmpegSegmenter(runner, ffmpegBin, DefaultSegmentOpts(), nil)
	_, err := s.Segment(context.Background(), "/audio/a.wav", 10)
	require.Error(t, err)
	_, ok := media.AsFFmpegError(err)
	assert.True(t, ok)
}

func TestKind_JSON(t *testing.T) {
	data, err := json.Marshal([]Item{{Start: 1, Duration: 2, Type: KindDash}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"start":1,"duration":2,"type":"dash"}]`, string(data))

	items, err := DecodeItems([]byte(`[{"start":0,"duration":3,"type":"buffer"}]`))
	require.NoError(t, err)
	assert.Equal(t, KindBuffer, items[0].Type)

	_, err = DecodeItems([]byte(`[{"start":0,"duration":3,"type":"hls"}]`))
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("dash")
	require.NoError(t, err)
	assert.Equal(t, KindDash, k)

	_, err = ParseKind("Buffer")
	assert.ErrorIs(t, err, ErrInvalidKind)
	assert.Equal(t, "Kind(7)", Kind(7).String())
}

// checkFFmpeg skips test if ffmpeg is not available.
func checkFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
}

// createToneWithGap writes tone / silence / tone, each part lasting part seconds.
func createToneWithGap(t *testing.T, outputPath string, part float64) {
	t.Helper()
	d := strconv.FormatFloat(part, 'f', 3, 64)
	cmd := exec.Command("ffmpeg", "-y",
		"-f", "lavfi", "-i", "sine=frequency=440:sample_rate=16000:duration="+d,
		"-f", "lavfi", "-i", "anullsrc=channel_layout=mono:sample_rate=16000:duration="+d,
		"-f", "lavfi", "-i", "sine=frequency=440:sample_rate=16000:duration="+d,
		"-filter_complex", "[0:a][1:a][2:a]concat=n=3:v=0:a=1[out]",
		"-map", "[out]", "-ac", "1",
		outputPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test WAV: %v\n%s", err, out)
	}
}

func TestFFmpegSegmenter_Integration(t *testing.T) {
	checkFFmpeg(t)

	path := filepath.Join(t.TempDir(), "gap.wav")
	createToneWithGap(t, path, 3)

	s := NewFFmpegSegmenter(nil, func() (string, error) { return exec.LookPath("ffmpeg") }, DefaultSegmentOpts(), nil)
	items, err := s.Segment(context.Background(), path, 9)
	require.NoError(t, err)
	require.Len(t, items, 2, fmt.Sprintf("items: %+v", items))
	assert.InDelta(t, 0, items[0].Start, 0.05)
	assert.InDelta(t, 3.1, items[0].Duration, 0.1)
	assert.InDelta(t, 5.95, items[1].Start, 0.1)
}
