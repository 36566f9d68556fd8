// Package vectorstore talks to a Pinecone-style namespaced vector index over
// its REST API. The core only constructs and parses the metadata envelope;
// similarity search itself is the store's business.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"studyrag/internal/model"
)

// Pinecone caps upsert batches at 96 records; stay safely below.
const upsertBatchSize = 90

type Config struct {
	BaseURL string
	APIKey  string
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Upsert writes records into the namespace in batches. Records with ids the
// namespace already holds are overwritten, never duplicated.
func (c *Client) Upsert(ctx context.Context, namespace string, records []model.VectorRecord) error {
	for i := 0; i < len(records); i += upsertBatchSize {
		end := i + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		body := map[string]interface{}{
			"namespace": namespace,
			"vectors":   records[i:end],
		}
		if err := c.post(ctx, "/vectors/upsert", body, nil); err != nil {
			return err
		}
	}
	return nil
}

// Query returns the topK records of the namespace most similar to vector,
// optionally restricted by a metadata equality filter.
func (c *Client) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]string) ([]model.ScoredRecord, error) {
	body := map[string]interface{}{
		"namespace":       namespace,
		"vector":          vector,
		"topK":            topK,
		"includeMetadata": true,
	}
	if len(filter) > 0 {
		body["filter"] = filter
	}

	var parsed struct {
		Matches []model.ScoredRecord `json:"matches"`
	}
	if err := c.post(ctx, "/query", body, &parsed); err != nil {
		return nil, err
	}
	return parsed.Matches, nil
}

// ListIDs returns every vector id in the namespace starting with prefix,
// following pagination until the store is exhausted.
func (c *Client) ListIDs(ctx context.Context, namespace, prefix string) ([]string, error) {
	var ids []string
	paginationToken := ""
	for {
		params := url.Values{}
		params.Set("namespace", namespace)
		params.Set("prefix", prefix)
		if paginationToken != "" {
			params.Set("paginationToken", paginationToken)
		}

		var parsed struct {
			Vectors []struct {
				ID string `json:"id"`
			} `json:"vectors"`
			Pagination struct {
				Next string `json:"next"`
			} `json:"pagination"`
		}
		if err := c.get(ctx, "/vectors/list?"+params.Encode(), &parsed); err != nil {
			return nil, err
		}
		for _, v := range parsed.Vectors {
			ids = append(ids, v.ID)
		}
		if parsed.Pagination.Next == "" {
			return ids, nil
		}
		paginationToken = parsed.Pagination.Next
	}
}

// Delete removes the given ids from the namespace in one logical operation.
func (c *Client) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]interface{}{
		"namespace": namespace,
		"ids":       ids,
	}
	return c.post(ctx, "/vectors/delete", body, nil)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal vector store request failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build vector store request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return fmt.Errorf("build vector store request failed: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Api-Key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vector store request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read vector store response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("vector store response status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse vector store json failed: %w", err)
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}
