package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lamim/pairforge/internal/api"
	"github.com/lamim/pairforge/pkg/models"
)

// SubmitOptions are sent with every batch creation call
type SubmitOptions struct {
	Task             string
	Endpoint         string
	CompletionWindow string
}

// SubmitResult counts what Submit did
type SubmitResult struct {
	Submitted int
	Skipped   int
	Adopted   int // Found on the provider without a local record
	Failed    int
}

// Metadata keys sent with every batch and matched when reconciling
const (
	metaBatchFile = "batch_file"
	metaDigest    = "request_sha256"
)

// Submit uploads and creates a batch for every request file in dir that has
// no metadata record yet. A failing file is logged and the rest still go out.
//
// Before the first creation it lists the provider's batches: a live batch
// whose metadata names the same file and content digest was created by an
// earlier run that died before saving its record, so it is adopted instead of
// paid for twice.
func Submit(ctx context.Context, client API, store *Store, dir string, opts SubmitOptions,
	logger *slog.Logger) (SubmitResult, error) {
	var result SubmitResult

	files, err := RequestFiles(dir)
	if err != nil {
		return result, err
	}
	if len(files) == 0 {
		return result, fmt.Errorf("no request files in %s; run batch build first", dir)
	}

	var remote map[string]api.Batch
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		name := filepath.Base(path)
		if existing, ok := store.Find(name); ok {
			logger.Debug("Already submitted", "file", name, "batch_id", existing.BatchID)
			result.Skipped++
			continue
		}

		digest, err := fileDigest(path)
		if err != nil {
			logger.Error("Failed to submit batch", "file", name, "error", err)
			result.Failed++
			continue
		}

		if remote == nil {
			remote = remoteBatches(ctx, client, logger)
		}
		if b, ok := remote[remoteKey(name, digest)]; ok {
			info := apply(models.BatchInfo{
				BatchFile: name,
				BatchID:   b.ID,
				FileID:    b.InputFileID,
				CreatedAt: b.CreatedAt,
			}, &b)
			if err := store.Add(info); err != nil {
				return result, err
			}
			result.Adopted++

			logger.Warn("Adopted batch created by an interrupted run", "file", name, "batch_id", b.ID,
				"status", info.Status)
			continue
		}

		info, err := submitFile(ctx, client, path, digest, opts)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			logger.Error("Failed to submit batch", "file", name, "error", err)
			result.Failed++
			continue
		}

		if err := store.Add(info); err != nil {
			return result, err
		}
		result.Submitted++

		logger.Info("Batch submitted", "file", name, "batch_id", info.BatchID, "status", info.Status)
	}

	return result, nil
}

// remoteBatches indexes the provider's live batches by file name and digest.
// Listing is best effort: on failure the index is empty and every file is
// submitted.
func remoteBatches(ctx context.Context, client API, logger *slog.Logger) map[string]api.Batch {
	index := make(map[string]api.Batch)

	batches, err := client.ListBatches(ctx)
	if err != nil {
		logger.Warn("Could not list provider batches; submitting without reconciliation", "error", err)
		return index
	}

	for _, b := range batches {
		name, digest := b.Metadata[metaBatchFile], b.Metadata[metaDigest]
		if name == "" || digest == "" {
			continue
		}
		switch models.BatchStatus(b.Status) {
		case models.BatchFailed, models.BatchExpired, models.BatchCancelling, models.BatchCancelled:
			continue
		}
		key := remoteKey(name, digest)
		// Listing is newest first; keep the newest match
		if _, ok := index[key]; !ok {
			index[key] = b
		}
	}
	return index
}

func remoteKey(name, digest string) string {
	return name + "@" + digest
}

// fileDigest returns the hex SHA-256 of a request file
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", filepath.Base(path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func submitFile(ctx context.Context, client API, path, digest string, opts SubmitOptions) (models.BatchInfo, error) {
	name := filepath.Base(path)

	fileID, err := client.UploadFile(ctx, path)
	if err != nil {
		return models.BatchInfo{}, fmt.Errorf("failed to upload %s: %w", name, err)
	}

	b, err := client.CreateBatch(ctx, api.CreateBatchRequest{
		InputFileID:      fileID,
		Endpoint:         opts.Endpoint,
		CompletionWindow: opts.CompletionWindow,
		Metadata: map[string]string{
			"description": opts.Task + " dataset generation",
			metaBatchFile: name,
			metaDigest:    digest,
		},
	})
	if err != nil {
		return models.BatchInfo{}, fmt.Errorf("failed to create batch for %s: %w", name, err)
	}

	info := models.BatchInfo{
		BatchFile: name,
		BatchID:   b.ID,
		FileID:    fileID,
		CreatedAt: b.CreatedAt,
	}
	return apply(info, b), nil
}

// apply copies provider state onto a metadata record
func apply(info models.BatchInfo, b *api.Batch) models.BatchInfo {
	info.Status = models.BatchStatus(b.Status)
	info.RequestCounts = models.RequestCounts{
		Total:     b.RequestCounts.Total,
		Completed: b.RequestCounts.Completed,
		Failed:    b.RequestCounts.Failed,
	}
	if b.OutputFileID != "" {
		info.OutputFileID = b.OutputFileID
	}
	if b.ErrorFileID != "" {
		info.ErrorFileID = b.ErrorFileID
	}
	return info
}
