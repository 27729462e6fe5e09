package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/hearthapp/hearth/internal/types"
)

const defaultTimeout = 30 * time.Second

// Client is an HTTP-backed implementation of Store against the hosted
// document-store API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client

	// disabled mirrors the platform SDK's disable-network switch: while set,
	// every call fails fast with ErrNetworkDisabled without touching the wire.
	disabled atomic.Bool
}

// NewClient creates a Client for the given base URL and API key.
func NewClient(baseURL, apiKey string) *Client {
	return NewClientWithTimeout(baseURL, apiKey, defaultTimeout)
}

// NewClientWithTimeout is NewClient with an explicit per-request timeout.
func NewClientWithTimeout(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// queryRequest is the wire form of a collection query.
type queryRequest struct {
	Filters map[string]any `json:"filters,omitempty"`
	OrderBy string         `json:"order_by,omitempty"`
	Desc    bool           `json:"desc,omitempty"`
	Limit   int            `json:"limit,omitempty"`
}

// Create inserts a document and returns its server-assigned ID.
func (c *Client) Create(ctx context.Context, collection string, data types.Document) (string, error) {
	resp, err := c.send(ctx, http.MethodPost, c.collectionPath(collection), data)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	return out.ID, nil
}

// Update applies a patch to a document. The patch's "version" field, when
// present, is the version the client observed; the server rejects the update
// with 409 when it no longer matches.
func (c *Client) Update(ctx context.Context, collection, id string, patch types.Document) error {
	resp, err := c.send(ctx, http.MethodPatch, c.documentPath(collection, id), patch)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkStatus(resp)
}

// Delete removes a document.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	resp, err := c.send(ctx, http.MethodDelete, c.documentPath(collection, id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkStatus(resp)
}

// Get fetches a single document. Returns ErrNotFound when it does not exist.
// Idempotent reads are retried with fibonacci backoff on transient failures.
func (c *Client) Get(ctx context.Context, collection, id string) (types.Document, error) {
	var doc types.Document
	err := c.withReadRetry(ctx, func(ctx context.Context) error {
		resp, err := c.send(ctx, http.MethodGet, c.documentPath(collection, id), nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := c.checkStatus(resp); err != nil {
			return err
		}
		return json.NewDecoder(resp.Body).Decode(&doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Query returns documents matching the options, retried like Get.
func (c *Client) Query(ctx context.Context, collection string, opts QueryOptions) ([]types.Document, error) {
	req := queryRequest{
		OrderBy: opts.OrderBy,
		Desc:    opts.Desc,
		Limit:   opts.Limit,
	}
	if len(opts.Filters) > 0 {
		req.Filters = make(map[string]any, len(opts.Filters))
		for _, f := range opts.Filters {
			req.Filters[f.Field] = f.Value
		}
	}

	var docs []types.Document
	err := c.withReadRetry(ctx, func(ctx context.Context) error {
		resp, err := c.send(ctx, http.MethodPost, c.collectionPath(collection)+"/query", req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := c.checkStatus(resp); err != nil {
			return err
		}
		docs = docs[:0]
		return json.NewDecoder(resp.Body).Decode(&docs)
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// EnableNetwork re-enables the client's network layer.
func (c *Client) EnableNetwork(ctx context.Context) error {
	c.disabled.Store(false)
	return nil
}

// DisableNetwork forces the client into a disconnected mode.
func (c *Client) DisableNetwork(ctx context.Context) error {
	c.disabled.Store(true)
	return nil
}

// CheckHealth performs a single reachability check against the store.
func (c *Client) CheckHealth(ctx context.Context) error {
	resp, err := c.send(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// Subscribe returns a restartable snapshot stream over the collection.
func (c *Client) Subscribe(collection string, opts QueryOptions, interval time.Duration) *Snapshots {
	return newSnapshots(c, collection, opts, interval)
}

// withReadRetry retries fn with fibonacci backoff while it fails with
// ErrUnavailable. Only used for idempotent reads; write retry belongs to the
// mutation queue.
func (c *Client) withReadRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(2, retry.NewFibonacci(200*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if c.disabled.Load() {
		return nil, ErrNetworkDisabled
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Transport-level failures (refused, timeout, DNS) are transient.
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

// checkStatus maps HTTP status codes onto the sentinel error taxonomy.
// Consumes nothing from the body; callers decode on success.
func (c *Client) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return ErrConflict
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: status %d", ErrInvalidPayload, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, resp.Request.URL.Path)
	}
}

func (c *Client) collectionPath(collection string) string {
	return "/api/v1/collections/" + url.PathEscape(collection)
}

func (c *Client) documentPath(collection, id string) string {
	return c.collectionPath(collection) + "/" + url.PathEscape(id)
}
