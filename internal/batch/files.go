// Package batch implements the bulk backend: build request files, submit them,
// poll the provider and fetch outputs. Each stage is safe to re-run.
package batch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/lamim/pairforge/internal/api"
)

const (
	requestPrefix = "request_batch"
	outputPrefix  = "output_batch"
	fileExt       = ".jsonl"
)

var (
	requestFilePattern = regexp.MustCompile(`^request_batch(\d+)\.jsonl$`)
	outputFilePattern  = regexp.MustCompile(`^output_batch(\d+)\.jsonl$`)
)

// API is the provider surface the pipeline uses; *api.BatchClient implements it
type API interface {
	UploadFile(ctx context.Context, path string) (string, error)
	CreateBatch(ctx context.Context, req api.CreateBatchRequest) (*api.Batch, error)
	RetrieveBatch(ctx context.Context, batchID string) (*api.Batch, error)
	ListBatches(ctx context.Context) ([]api.Batch, error)
	DownloadFile(ctx context.Context, fileID string, w io.Writer) (int64, error)
}

var _ API = (*api.BatchClient)(nil)

// RequestFileName returns the name of request file n
func RequestFileName(n int) string {
	return requestPrefix + strconv.Itoa(n) + fileExt
}

// OutputFileName returns the name of the output file for request file n
func OutputFileName(n int) string {
	return outputPrefix + strconv.Itoa(n) + fileExt
}

// CustomID identifies request r of file n
func CustomID(n, r int) string {
	return fmt.Sprintf("request-%d-%d", n, r)
}

// RequestFileIndex extracts n from request_batch<n>.jsonl
func RequestFileIndex(name string) (int, bool) {
	return fileIndex(requestFilePattern, name)
}

// OutputFileIndex extracts n from output_batch<n>.jsonl
func OutputFileIndex(name string) (int, bool) {
	return fileIndex(outputFilePattern, name)
}

func fileIndex(re *regexp.Regexp, name string) (int, bool) {
	m := re.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// RequestFiles lists request files in dir in numeric order
func RequestFiles(dir string) ([]string, error) {
	return listNumbered(dir, requestFilePattern)
}

// OutputFiles lists downloaded output files in dir in numeric order
func OutputFiles(dir string) ([]string, error) {
	return listNumbered(dir, outputFilePattern)
}

func listNumbered(dir string, re *regexp.Regexp) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	type numbered struct {
		n    int
		path string
	}
	var files []numbered
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := fileIndex(re, e.Name()); ok {
			files = append(files, numbered{n: n, path: filepath.Join(dir, e.Name())})
		}
	}

	// request_batch10 sorts after request_batch9
	sort.Slice(files, func(i, j int) bool { return files[i].n < files[j].n })

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}
