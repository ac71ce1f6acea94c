package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maauso/audiosync/internal/bootstrap"
	"github.com/maauso/audiosync/internal/filestore"
)

// analysis is the combined result for one file.
type analysis struct {
	FileID  string            `json:"fileId"`
	Path    string            `json:"path"`
	Error   string            `json:"error,omitempty"`
	Outcome filestore.Outcome `json:"outcome"`
}

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var (
		encode  bool
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <file>...",
		Short: "Probe and segment audio files and print their items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			deps, err := bootstrap.NewDependencies(cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize dependencies: %w", err)
			}
			defer deps.Store.Close()

			progress := func(step string) filestore.ProgressFunc {
				return func(done, total int) {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d/%d\n", step, done, total)
				}
			}
			results := analyzeFiles(cmd.Context(), deps.Store, args, encode, progress)

			if jsonOut {
				return writeJSON(cmd, results)
			}
			printAnalysis(cmd.OutOrStdout(), results, encode)
			return analysisError(results)
		},
	}

	cmd.Flags().BoolVar(&encode, "encode", false, "Also encode the items")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print results as JSON")
	return cmd
}

// analyzeFiles registers paths under ids derived from their base names, then
// segments them and optionally encodes them. Failures are reported per file.
func analyzeFiles(ctx context.Context, store *filestore.Store, paths []string, encode bool, progress func(step string) filestore.ProgressFunc) []analysis {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]analysis, len(paths))
	regs := make([]filestore.Registration, len(paths))
	used := make(map[string]int)
	for i, p := range paths {
		id := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		if n := used[id]; n > 0 {
			id = id + "_" + strconv.Itoa(n)
		}
		used[id]++
		regs[i] = filestore.Registration{FileID: id, Path: p, Kind: filestore.KindAudio}
		results[i] = analysis{FileID: id, Path: p}
	}

	pending := func() []int {
		var idx []int
		for i := range results {
			if results[i].Error == "" {
				idx = append(idx, i)
			}
		}
		return idx
	}
	record := func(idx []int, outcomes []filestore.Outcome) {
		for j, o := range outcomes {
			i := idx[j]
			results[i].Outcome = o
			if !o.Success {
				results[i].Error = o.Error
			}
		}
	}

	idx := pending()
	record(idx, store.RegisterFiles(ctx, regs, progress("register")))

	idx = pending()
	segReqs := make([]filestore.SegmentRequest, len(idx))
	for j, i := range idx {
		segReqs[j] = filestore.SegmentRequest{FileID: results[i].FileID}
	}
	record(idx, store.SegmentFiles(ctx, segReqs, progress("segment")))

	if encode {
		idx = pending()
		encReqs := make([]filestore.EncodeRequest, len(idx))
		for j, i := range idx {
			encReqs[j] = filestore.EncodeRequest{FileID: results[i].FileID}
		}
		record(idx, store.EncodeFiles(ctx, encReqs, progress("encode")))
	}

	// Fill in probe results from the record cache.
	for i := range results {
		if rec, err := store.Get(results[i].FileID); err == nil {
			snap := rec.Snapshot()
			results[i].Outcome.Probe = snap.Probe
		}
	}
	return results
}

func printAnalysis(w io.Writer, results []analysis, encoded bool) {
	headers := []string{"File", "#", "Type", "Start", "Duration", "End"}
	aligns := []columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignRight, alignRight}
	if encoded {
		headers = append(headers, "Output")
		aligns = append(aligns, alignLeft)
	}

	var rows [][]string
	for _, r := range results {
		if r.Error != "" {
			rows = append(rows, []string{r.FileID, "", "failed: " + r.Error})
			continue
		}
		items := r.Outcome.Items
		if encoded {
			for n, it := range r.Outcome.EncodedItems {
				rows = append(rows, []string{
					r.FileID, strconv.Itoa(n + 1), it.Type.String(),
					formatSeconds(it.Start), formatSeconds(it.Duration), formatSeconds(it.Start + it.Duration),
					filepath.Join(r.Outcome.EncodedItemsBasePath, it.RelativePath),
				})
			}
			continue
		}
		for n, it := range items {
			rows = append(rows, []string{
				r.FileID, strconv.Itoa(n + 1), it.Type.String(),
				formatSeconds(it.Start), formatSeconds(it.Duration), formatSeconds(it.End()),
			})
		}
	}

	fmt.Fprintln(w, renderTable(headers, rows, aligns))
	for _, r := range results {
		if r.Outcome.Probe != nil {
			p := r.Outcome.Probe
			fmt.Fprintf(w, "%s: %s, %d Hz, %d ch\n", r.FileID, formatSeconds(p.Duration), p.SampleRate, p.NumChannels)
		}
	}
}

func analysisError(results []analysis) error {
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed", failed, len(results))
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + "s"
}
