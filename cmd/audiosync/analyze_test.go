package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/audiosync/internal/audio"
	"github.com/maauso/audiosync/internal/encoding"
	"github.com/maauso/audiosync/internal/filestore"
	"github.com/maauso/audiosync/internal/media"
)

type stubProber struct{}

func (stubProber) Probe(_ context.Context, path string) (media.ProbeResult, error) {
	if strings.Contains(path, "broken") {
		return media.ProbeResult{}, errors.New("invalid data found when processing input")
	}
	return media.ProbeResult{SampleRate: 44100, NumChannels: 2, Duration: 10}, nil
}

func (stubProber) ProbeImage(context.Context, string) (media.ImageInfo, error) {
	return media.ImageInfo{}, media.ErrNotImage
}

type stubSegmenter struct{}

func (stubSegmenter) Segment(_ context.Context, _ string, total float64) ([]audio.Item, error) {
	return []audio.Item{
		{Start: 0, Duration: 4, Type: audio.KindBuffer},
		{Start: 5, Duration: total - 5, Type: audio.KindDash},
	}, nil
}

type stubEncoder struct {
	dir string
}

func (e stubEncoder) Encode(_ context.Context, req encoding.EncodeRequest) (encoding.EncodeResult, error) {
	items := make([]encoding.EncodedItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = encoding.EncodedItem{Start: it.Start, Duration: it.Duration, Type: it.Type, RelativePath: "item.m4a"}
	}
	return encoding.EncodeResult{BaseDir: e.dir, Items: items}, nil
}

type stepLog struct {
	mu    sync.Mutex
	steps map[string]int
}

func (l *stepLog) progress(step string) filestore.ProgressFunc {
	return func(done, total int) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.steps[step] = done
	}
}

func writeFiles(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(paths[i], []byte("RIFF"), 0o600))
	}
	return paths
}

func TestAnalyzeFiles(t *testing.T) {
	store := filestore.NewStore(stubProber{}, stubSegmenter{}, stubEncoder{dir: t.TempDir()}, nil)
	paths := writeFiles(t, "intro.wav", "broken.wav")
	paths = append(paths, filepath.Join(t.TempDir(), "intro.wav"))
	log := &stepLog{steps: map[string]int{}}

	results := analyzeFiles(context.Background(), store, paths, false, log.progress)

	require.Len(t, results, 3)
	assert.Equal(t, "intro", results[0].FileID)
	assert.Empty(t, results[0].Error)
	assert.Len(t, results[0].Outcome.Items, 2)
	require.NotNil(t, results[0].Outcome.Probe)
	assert.Equal(t, 44100, results[0].Outcome.Probe.SampleRate)

	assert.Equal(t, "broken", results[1].FileID)
	assert.Contains(t, results[1].Error, "invalid data")

	// duplicate base names get a suffix, the missing file fails registration
	assert.Equal(t, "intro_1", results[2].FileID)
	assert.Contains(t, results[2].Error, "not found")

	assert.Equal(t, map[string]int{"register": 3, "segment": 2}, log.steps)
	assert.Error(t, analysisError(results))
}

func TestAnalyzeFiles_Encode(t *testing.T) {
	store := filestore.NewStore(stubProber{}, stubSegmenter{}, stubEncoder{dir: t.TempDir()}, nil)
	paths := writeFiles(t, "a.wav")
	log := &stepLog{steps: map[string]int{}}

	results := analyzeFiles(context.Background(), store, paths, true, log.progress)

	require.Len(t, results, 1)
	assert.Empty(t, results[0].Error)
	assert.Len(t, results[0].Outcome.EncodedItems, 2)
	assert.Equal(t, 1, log.steps["encode"])
	assert.NoError(t, analysisError(results))

	var buf bytes.Buffer
	printAnalysis(&buf, results, true)
	out := buf.String()
	assert.Contains(t, out, "Output")
	assert.Contains(t, out, "item.m4a")
	assert.Contains(t, out, "a: 10.00s, 44100 Hz, 2 ch")
}

func TestPrintAnalysis(t *testing.T) {
	results := []analysis{
		{FileID: "song", Outcome: filestore.Outcome{Success: true, Items: []audio.Item{
			{Start: 0, Duration: 2.5, Type: audio.KindBuffer},
			{Start: 3, Duration: 7, Type: audio.KindDash},
		}}},
		{FileID: "bad", Error: "file not found"},
	}

	var buf bytes.Buffer
	printAnalysis(&buf, results, false)
	out := buf.String()

	assert.Contains(t, out, "buffer")
	assert.Contains(t, out, "dash")
	assert.Contains(t, out, "2.50s")
	assert.Contains(t, out, "10.00s")
	assert.Contains(t, out, "failed: file not found")
	assert.NotContains(t, out, "Output")
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"1"}, {"2", "3", "extra"}}, []columnAlignment{alignLeft, alignRight})
	assert.Contains(t, out, "A")
	assert.Contains(t, out, "3")
	assert.NotContains(t, out, "extra")
	assert.Empty(t, renderTable(nil, nil, nil))
}

func TestRootCommand(t *testing.T) {
	root := newRootCommand()

	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "analyze")

	root.SetArgs([]string{"analyze"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}
