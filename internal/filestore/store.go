package filestore

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/maauso/audiosync/internal/audio"
	"github.com/maauso/audiosync/internal/encoding"
	"github.com/maauso/audiosync/internal/media"
)

// DefaultConcurrency is the default size of the batch worker pool.
const DefaultConcurrency = 4

// Registration names a file to register.
type Registration struct {
	FileID string `json:"fileId"`
	Path   string `json:"path"`
	Kind   Kind   `json:"kind"`
}

// SegmentRequest asks for the items of a file, optionally seeding them.
type SegmentRequest struct {
	FileID string       `json:"fileId"`
	Items  []audio.Item `json:"items,omitempty"`
}

// EncodeRequest asks for the encoded output of a file, optionally seeding it.
type EncodeRequest struct {
	FileID               string                 `json:"fileId"`
	EncodedItems         []encoding.EncodedItem `json:"encodedItems,omitempty"`
	EncodedItemsBasePath string                 `json:"encodedItemsBasePath,omitempty"`
}

// Outcome is the per-file result of a batch operation.
type Outcome struct {
	FileID               string                 `json:"fileId"`
	Success              bool                   `json:"success"`
	Error                string                 `json:"error,omitempty"`
	Probe                *media.ProbeResult     `json:"probe,omitempty"`
	Image                *media.ImageInfo       `json:"image,omitempty"`
	Items                []audio.Item           `json:"items,omitempty"`
	EncodedItems         []encoding.EncodedItem `json:"encodedItems,omitempty"`
	EncodedItemsBasePath string                 `json:"encodedItemsBasePath,omitempty"`
}

// ProgressFunc is called after each file of a batch with the number of
// finished files.
type ProgressFunc func(done, total int)

// Store maps file ids to records.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record

	prober      media.Prober
	segmenter   audio.Segmenter
	encoder     encoding.Encoder
	concurrency int
	logger      *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithConcurrency sets the batch worker pool size.
func WithConcurrency(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewStore creates an empty Store whose records use the given engines.
func NewStore(prober media.Prober, segmenter audio.Segmenter, encoder encoding.Encoder, logger *slog.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		records:     make(map[string]Record),
		prober:      prober,
		segmenter:   segmenter,
		encoder:     encoder,
		concurrency: DefaultConcurrency,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterFile registers path under id, replacing any previous record and
// its cached results. The file is not checked for existence.
func (s *Store) RegisterFile(id, path string, kind Kind) (Record, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: id and path are required", ErrInvalidRegistration)
	}
	if kind == "" {
		kind = KindAudio
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRegistration, kind)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRegistration, err)
	}

	var rec Record
	switch kind {
	case KindImage:
		rec = NewImageRecord(id, abs, s.prober)
	default:
		rec = NewAudioRecord(id, abs, s.prober, s.segmenter, s.encoder, s.logger)
	}

	s.mu.Lock()
	_, replaced := s.records[id]
	s.records[id] = rec
	s.mu.Unlock()

	s.logger.Info("file registered",
		slog.String("file_id", id),
		slog.String("path", abs),
		slog.String("kind", string(kind)),
		slog.Bool("replaced", replaced),
	)
	return rec, nil
}

// Get returns the record registered under id.
func (s *Store) Get(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFile, id)
	}
	return rec, nil
}

// Snapshots returns a snapshot of every record, ordered by id.
func (s *Store) Snapshots() []Snapshot {
	s.mu.RLock()
	recs := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	out := make([]Snapshot, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out
}

// Len returns the number of registered files.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close drops every record. Operations already in flight finish in the
// background and their results are discarded.
func (s *Store) Close() {
	s.mu.Lock()
	n := len(s.records)
	s.records = make(map[string]Record)
	s.mu.Unlock()
	s.logger.Info("file store closed", slog.Int("records", n))
}

// RegisterFiles registers every entry and checks that it exists on disk.
func (s *Store) RegisterFiles(ctx context.Context, regs []Registration, onProgress ProgressFunc) []Outcome {
	return s.runBatch(ctx, len(regs), func(i int) string { return regs[i].FileID }, onProgress, func(ctx context.Context, i int) Outcome {
		reg := regs[i]
		rec, err := s.RegisterFile(reg.FileID, reg.Path, reg.Kind)
		if err != nil {
			return failure(reg.FileID, err)
		}
		if err := rec.Exists(ctx); err != nil {
			return failure(reg.FileID, err)
		}
		return Outcome{FileID: reg.FileID, Success: true}
	})
}

// ProbeFiles probes every file.
func (s *Store) ProbeFiles(ctx context.Context, ids []string, onProgress ProgressFunc) []Outcome {
	return s.runBatch(ctx, len(ids), func(i int) string { return ids[i] }, onProgress, func(ctx context.Context, i int) Outcome {
		rec, err := s.Get(ids[i])
		if err != nil {
			return failure(ids[i], err)
		}
		p, err := rec.Probe(ctx)
		if err != nil {
			return failure(ids[i], err)
		}
		return Outcome{FileID: ids[i], Success: true, Probe: p.Audio, Image: p.Image}
	})
}

// SegmentFiles segments every file.
func (s *Store) SegmentFiles(ctx context.Context, reqs []SegmentRequest, onProgress ProgressFunc) []Outcome {
	return s.runBatch(ctx, len(reqs), func(i int) string { return reqs[i].FileID }, onProgress, func(ctx context.Context, i int) Outcome {
		req := reqs[i]
		rec, err := s.Get(req.FileID)
		if err != nil {
			return failure(req.FileID, err)
		}
		items, err := rec.Segment(ctx, req.Items)
		if err != nil {
			return failure(req.FileID, err)
		}
		return Outcome{FileID: req.FileID, Success: true, Items: items}
	})
}

// EncodeFiles encodes every file.
func (s *Store) EncodeFiles(ctx context.Context, reqs []EncodeRequest, onProgress ProgressFunc) []Outcome {
	return s.runBatch(ctx, len(reqs), func(i int) string { return reqs[i].FileID }, onProgress, func(ctx context.Context, i int) Outcome {
		req := reqs[i]
		rec, err := s.Get(req.FileID)
		if err != nil {
			return failure(req.FileID, err)
		}
		res, err := rec.Encode(ctx, req.EncodedItems, req.EncodedItemsBasePath)
		if err != nil {
			return failure(req.FileID, err)
		}
		return Outcome{
			FileID:               req.FileID,
			Success:              true,
			EncodedItems:         res.Items,
			EncodedItemsBasePath: res.BaseDir,
		}
	})
}

// runBatch runs fn for indices [0, n) on at most s.concurrency goroutines.
// A panicking fn fails only its own entry, which keeps the id given by idOf.
func (s *Store) runBatch(ctx context.Context, n int, idOf func(int) string, onProgress ProgressFunc, fn func(context.Context, int) Outcome) []Outcome {
	out := make([]Outcome, n)
	if n == 0 {
		return out
	}

	sem := make(chan struct{}, s.concurrency)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			out[i] = s.safeRun(ctx, i, idOf(i), fn)

			mu.Lock()
			done++
			d := done
			if onProgress != nil {
				onProgress(d, n)
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	failed := 0
	for _, o := range out {
		if !o.Success {
			failed++
		}
	}
	s.logger.Debug("batch finished", slog.Int("files", n), slog.Int("failed", failed))
	return out
}

func (s *Store) safeRun(ctx context.Context, i int, id string, fn func(context.Context, int) Outcome) (o Outcome) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("batch worker panicked",
				slog.Int("index", i),
				slog.String("file_id", id),
				slog.Any("panic", p),
			)
			o = failure(id, fmt.Errorf("internal error: %v", p))
		}
	}()
	return fn(ctx, i)
}

func failure(id string, err error) Outcome {
	return Outcome{FileID: id, Success: false, Error: err.Error()}
}
