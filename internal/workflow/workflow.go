// Package workflow turns file store batch operations into task workers.
package workflow

import (
	"context"
	"log/slog"

	"github.com/maauso/audiosync/internal/filestore"
	"github.com/maauso/audiosync/internal/progress"
	"github.com/maauso/audiosync/internal/storage"
	"github.com/maauso/audiosync/internal/task"
)

// Service builds task workers over a file store.
type Service struct {
	store    *filestore.Store
	storage  storage.Storage
	s3Prefix string
	logger   *slog.Logger
}

// NewService creates a Service. Bundles are staged in st and uploaded below
// s3Prefix.
func NewService(store *filestore.Store, st storage.Storage, s3Prefix string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		storage:  st,
		s3Prefix: s3Prefix,
		logger:   logger,
	}
}

// Probe returns a worker probing ids. The result is []filestore.Outcome.
func (s *Service) Probe(ids []string) task.Worker {
	ids = append([]string(nil), ids...)
	return batchWorker("probe", func(ctx context.Context, onProgress filestore.ProgressFunc) []filestore.Outcome {
		return s.store.ProbeFiles(ctx, ids, onProgress)
	})
}

// Segment returns a worker segmenting the requested files.
func (s *Service) Segment(reqs []filestore.SegmentRequest) task.Worker {
	reqs = append([]filestore.SegmentRequest(nil), reqs...)
	return batchWorker("segment", func(ctx context.Context, onProgress filestore.ProgressFunc) []filestore.Outcome {
		return s.store.SegmentFiles(ctx, reqs, onProgress)
	})
}

// Encode returns a worker encoding the requested files.
func (s *Service) Encode(reqs []filestore.EncodeRequest) task.Worker {
	reqs = append([]filestore.EncodeRequest(nil), reqs...)
	return batchWorker("encode", func(ctx context.Context, onProgress filestore.ProgressFunc) []filestore.Outcome {
		return s.store.EncodeFiles(ctx, reqs, onProgress)
	})
}

// batchWorker reports a single step whose sub-progress is the number of
// finished files. Per-file failures are part of the result, not task errors.
func batchWorker(step string, run func(context.Context, filestore.ProgressFunc) []filestore.Outcome) task.Worker {
	return func(ctx context.Context, report progress.Func) (task.Outcome, error) {
		r := progress.New(1, report)
		sub := r.Advance(step)
		outcomes := run(ctx, func(done, total int) {
			sub(done, total, step)
		})
		r.Complete()
		return task.Outcome{Result: outcomes}, nil
	}
}
