package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// FetchResult counts what Fetch did
type FetchResult struct {
	Downloaded int
	Skipped    int
	Pending    int // batches not yet completed
	Failed     int
}

// Fetch downloads the output of every completed batch into outDir as
// output_batch<n>.jsonl. Existing outputs are kept, so Fetch can be re-run.
// Files appear only once fully written.
func Fetch(ctx context.Context, client API, store *Store, outDir string, concurrency int,
	logger *slog.Logger) (FetchResult, error) {
	var result FetchResult

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return result, fmt.Errorf("failed to create output directory: %w", err)
	}

	type outcome int
	const (
		downloaded outcome = iota
		skipped
		failed
	)
	outcomes := make(chan outcome)
	done := make(chan struct{})
	go func() {
		for o := range outcomes {
			switch o {
			case downloaded:
				result.Downloaded++
			case skipped:
				result.Skipped++
			case failed:
				result.Failed++
			}
		}
		close(done)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, concurrency))

	all := store.All()
	completed := Completed(all)
	result.Pending = len(all) - len(completed)

	for _, info := range completed {
		n, ok := RequestFileIndex(info.BatchFile)
		if !ok {
			logger.Warn("Unrecognized batch file name", "file", info.BatchFile)
			outcomes <- failed
			continue
		}
		target := filepath.Join(outDir, OutputFileName(n))

		if _, err := os.Stat(target); err == nil {
			logger.Debug("Output already downloaded", "file", filepath.Base(target))
			outcomes <- skipped
			continue
		}

		g.Go(func() error {
			fileID := info.OutputFileID
			if fileID == "" {
				b, err := client.RetrieveBatch(gctx, info.BatchID)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					logger.Error("Failed to refresh batch", "batch_id", info.BatchID, "error", err)
					outcomes <- failed
					return nil
				}
				updated := apply(info, b)
				if err := store.Update(updated); err != nil {
					return err
				}
				fileID = updated.OutputFileID
			}
			if fileID == "" {
				logger.Warn("Completed batch has no output file", "batch_id", info.BatchID)
				outcomes <- failed
				return nil
			}

			size, err := download(gctx, client, fileID, target)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Error("Failed to download batch output", "batch_id", info.BatchID, "error", err)
				outcomes <- failed
				return nil
			}

			logger.Info("Batch output downloaded",
				"batch_id", info.BatchID,
				"file", filepath.Base(target),
				"bytes", size)
			outcomes <- downloaded
			return nil
		})
	}

	err := g.Wait()
	close(outcomes)
	<-done

	return result, err
}

// download streams a file into a temp file next to target, then renames it
func download(ctx context.Context, client API, fileID, target string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	size, err := client.DownloadFile(ctx, fileID, tmp)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		return 0, fmt.Errorf("failed to rename output file: %w", err)
	}
	return size, nil
}
