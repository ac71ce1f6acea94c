package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/lithammer/shortuuid/v4"

	"github.com/maauso/audiosync/internal/encoding"
	"github.com/maauso/audiosync/internal/filestore"
	"github.com/maauso/audiosync/internal/progress"
	"github.com/maauso/audiosync/internal/storage"
	"github.com/maauso/audiosync/internal/task"
)

// BundleManifestName is the index file written at the bundle root.
const BundleManifestName = "bundle.json"

// ErrNothingToPublish is returned when a publish request names no files.
var ErrNothingToPublish = errors.New("publish: no files requested")

// PublishRequest selects the files to bundle.
type PublishRequest struct {
	FileIDs []string
	// Name prefixes the bundle directory. A random name is used when empty.
	Name string
	// Upload copies the bundle to S3 after staging.
	Upload bool
}

// BundleFile is one file of a bundle. Item paths are relative to the bundle root.
type BundleFile struct {
	FileID string                 `json:"fileId"`
	Dir    string                 `json:"dir"`
	Items  []encoding.EncodedItem `json:"items"`
}

// PublishResult describes a staged bundle.
type PublishResult struct {
	Name      string       `json:"name"`
	BundleDir string       `json:"bundleDir"`
	Files     []BundleFile `json:"files"`
	URLs      []string     `json:"urls,omitempty"`
}

// Publish returns a worker that encodes the files, stages their outputs in a
// fresh bundle directory and optionally uploads it. Cancelling the finished
// task removes the bundle directory.
func (s *Service) Publish(req PublishRequest) task.Worker {
	req.FileIDs = append([]string(nil), req.FileIDs...)
	return func(ctx context.Context, report progress.Func) (task.Outcome, error) {
		res, err := s.publish(ctx, req, report)
		if err != nil {
			return task.Outcome{}, err
		}
		dir := res.BundleDir
		return task.Outcome{
			Result: res,
			OnCancel: func(ctx context.Context) error {
				s.logger.Info("removing bundle", slog.String("dir", dir))
				return s.storage.Cleanup(ctx, []string{dir})
			},
		}, nil
	}
}

func (s *Service) publish(ctx context.Context, req PublishRequest, report progress.Func) (*PublishResult, error) {
	if len(req.FileIDs) == 0 {
		return nil, ErrNothingToPublish
	}

	steps := 2
	if req.Upload {
		steps = 3
	}
	r := progress.New(steps, report)

	sub := r.Advance("encode")
	encodeReqs := make([]filestore.EncodeRequest, len(req.FileIDs))
	for i, id := range req.FileIDs {
		encodeReqs[i] = filestore.EncodeRequest{FileID: id}
	}
	outcomes := s.store.EncodeFiles(ctx, encodeReqs, func(done, total int) {
		sub(done, total, "encode")
	})
	var failed []string
	for _, o := range outcomes {
		if !o.Success {
			failed = append(failed, fmt.Sprintf("%s: %s", o.FileID, o.Error))
		}
	}
	if len(failed) > 0 {
		return nil, fmt.Errorf("publish: %d file(s) failed to encode: %s", len(failed), strings.Join(failed, "; "))
	}

	sub = r.Advance("stage")
	name := req.Name
	if name == "" {
		name = "bundle_" + shortuuid.New()
	}
	bundleDir, err := s.storage.AllocateDir(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	res := &PublishResult{Name: filepath.Base(bundleDir), BundleDir: bundleDir}

	if err := s.stage(ctx, res, outcomes, sub); err != nil {
		s.discard(bundleDir)
		return nil, err
	}

	if req.Upload {
		r.Advance("upload")
		prefix := path.Join(strings.Trim(s.s3Prefix, "/"), res.Name)
		urls, err := s.storage.Publish(ctx, bundleDir, prefix)
		if err != nil {
			s.discard(bundleDir)
			return nil, fmt.Errorf("publish: %w", err)
		}
		res.URLs = urls
	}

	r.Complete()
	s.logger.Info("bundle published",
		slog.String("dir", bundleDir),
		slog.Int("files", len(res.Files)),
		slog.Int("uploaded", len(res.URLs)),
	)
	return res, nil
}

// stage copies each file's encoded outputs into <bundle>/<file dir> and
// writes the bundle index.
func (s *Service) stage(ctx context.Context, res *PublishResult, outcomes []filestore.Outcome, sub progress.SubProgress) error {
	used := make(map[string]bool)
	for i, o := range outcomes {
		base := safeDirName(o.FileID)
		dir := base
		for n := 1; used[dir]; n++ {
			dir = fmt.Sprintf("%s_%d", base, n)
		}
		used[dir] = true

		if err := storage.CopyTree(ctx, o.EncodedItemsBasePath, filepath.Join(res.BundleDir, dir)); err != nil {
			return fmt.Errorf("publish: stage %s: %w", o.FileID, err)
		}

		items := make([]encoding.EncodedItem, len(o.EncodedItems))
		for j, it := range o.EncodedItems {
			it.RelativePath = path.Join(dir, it.RelativePath)
			if it.RelativePathSafari != "" {
				it.RelativePathSafari = path.Join(dir, it.RelativePathSafari)
			}
			items[j] = it
		}
		res.Files = append(res.Files, BundleFile{FileID: o.FileID, Dir: dir, Items: items})
		sub(i+1, len(outcomes), "stage")
	}

	data, err := json.MarshalIndent(res.Files, "", "  ")
	if err != nil {
		return fmt.Errorf("publish: encode bundle index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(res.BundleDir, BundleManifestName), data, 0o640); err != nil {
		return fmt.Errorf("publish: write bundle index: %w", err)
	}
	return nil
}

func (s *Service) discard(dir string) {
	if err := s.storage.Cleanup(context.Background(), []string{dir}); err != nil {
		s.logger.Warn("failed to remove bundle", slog.String("dir", dir), slog.String("error", err.Error()))
	}
}

func safeDirName(id string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
	if out == "" {
		return "file"
	}
	return out
}
