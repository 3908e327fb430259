package batch

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/lamim/pairforge/pkg/models"
)

// PollResult summarizes one refresh of every known batch
type PollResult struct {
	Refreshed int
	Failed    int
	Counts    map[string]int // batches per status after the refresh
}

// Poll refreshes the status of every non-terminal batch, at most concurrency
// requests in flight. A failed lookup keeps the previous record.
func Poll(ctx context.Context, client API, store *Store, concurrency int, logger *slog.Logger) (PollResult, error) {
	var (
		result  PollResult
		results = make(chan bool)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, concurrency))

	done := make(chan struct{})
	go func() {
		for ok := range results {
			if ok {
				result.Refreshed++
			} else {
				result.Failed++
			}
		}
		close(done)
	}()

	for _, info := range store.All() {
		if info.Status.Terminal() {
			continue
		}
		g.Go(func() error {
			b, err := client.RetrieveBatch(gctx, info.BatchID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Error("Failed to check batch", "batch_id", info.BatchID, "file", info.BatchFile, "error", err)
				results <- false
				return nil
			}

			updated := apply(info, b)
			if err := store.Update(updated); err != nil {
				return err
			}
			results <- true

			if updated.Status != info.Status {
				logger.Info("Batch status changed",
					"batch_id", info.BatchID,
					"file", info.BatchFile,
					"from", info.Status,
					"to", updated.Status)
			}
			return nil
		})
	}

	err := g.Wait()
	close(results)
	<-done

	result.Counts = store.StatusCounts()
	return result, err
}

// Completed returns the batches whose outputs can be fetched
func Completed(batches []models.BatchInfo) []models.BatchInfo {
	var out []models.BatchInfo
	for _, b := range batches {
		if b.Status == models.BatchCompleted {
			out = append(out, b)
		}
	}
	return out
}
