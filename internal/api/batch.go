package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
)

// BatchClient talks to the provider's files and batches endpoints
type BatchClient struct {
	client     *Client
	baseURL    string
	apiKey     string
	maxRetries int
}

// Batches returns a batch client bound to one endpoint and key
func (c *Client) Batches(baseURL, apiKey string) *BatchClient {
	return &BatchClient{
		client:     c,
		baseURL:    baseURL,
		apiKey:     apiKey,
		maxRetries: c.maxRetries,
	}
}

// UploadFile uploads a request file with purpose "batch" and returns its file id
func (b *BatchClient) UploadFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read batch file: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", "batch"); err != nil {
		return "", fmt.Errorf("failed to write multipart field: %w", err)
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("failed to create multipart file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write multipart file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	var file FileObject
	err = b.client.withRetry(ctx, "files", b.maxRetries, func() error {
		return b.client.doJSON(ctx, http.MethodPost, endpointURL(b.baseURL, "files"),
			b.apiKey, mw.FormDataContentType(), body.Bytes(), &file)
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", filepath.Base(path), err)
	}
	if file.ID == "" {
		return "", fmt.Errorf("upload of %s returned no file id", filepath.Base(path))
	}

	return file.ID, nil
}

// CreateBatch starts a batch job over an uploaded file
func (b *BatchClient) CreateBatch(ctx context.Context, req CreateBatchRequest) (*Batch, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch request: %w", err)
	}

	var batch Batch
	err = b.client.withRetry(ctx, "batches", b.maxRetries, func() error {
		return b.client.doJSON(ctx, http.MethodPost, endpointURL(b.baseURL, "batches"),
			b.apiKey, "application/json", body, &batch)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	return &batch, nil
}

// batchListLimit is the page size used when listing batches
const batchListLimit = 100

// ListBatches returns every batch visible to the key, newest first
func (b *BatchClient) ListBatches(ctx context.Context) ([]Batch, error) {
	var all []Batch
	after := ""
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(batchListLimit))
		if after != "" {
			q.Set("after", after)
		}

		var page BatchList
		err := b.client.withRetry(ctx, "batches", b.maxRetries, func() error {
			return b.client.doJSON(ctx, http.MethodGet, endpointURL(b.baseURL, "batches?"+q.Encode()),
				b.apiKey, "", nil, &page)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list batches: %w", err)
		}

		all = append(all, page.Data...)
		if !page.HasMore || len(page.Data) == 0 {
			return all, nil
		}
		after = page.LastID
		if after == "" {
			after = page.Data[len(page.Data)-1].ID
		}
	}
}

// RetrieveBatch fetches the current state of a batch
func (b *BatchClient) RetrieveBatch(ctx context.Context, batchID string) (*Batch, error) {
	var batch Batch
	err := b.client.withRetry(ctx, "batches", b.maxRetries, func() error {
		return b.client.doJSON(ctx, http.MethodGet, endpointURL(b.baseURL, "batches/"+url.PathEscape(batchID)),
			b.apiKey, "", nil, &batch)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve batch %s: %w", batchID, err)
	}

	return &batch, nil
}

// DownloadFile streams the content of a file into w
func (b *BatchClient) DownloadFile(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	var resp *http.Response
	err := b.client.withRetry(ctx, "files", b.maxRetries, func() error {
		var err error
		resp, err = b.client.send(ctx, http.MethodGet,
			endpointURL(b.baseURL, "files/"+url.PathEscape(fileID)+"/content"), b.apiKey, "", nil)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read file %s: %w", fileID, err)
	}
	return n, nil
}
