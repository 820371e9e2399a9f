// Package rest talks to the hosted backend's REST gateway: row-level table
// access under /rest/v1, remote procedures under /rest/v1/rpc and
// password sign-in under /auth/v1.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/reelcast/reelcast/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond
)

// Client implements domain.RecordStore, domain.Procedures and domain.Identity
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	retryDelay time.Duration
	logger     *slog.Logger

	mu     sync.RWMutex
	token  string
	userID string
}

// NewClient creates a REST client. token and userID may be empty until sign-in.
func NewClient(baseURL, anonKey, token, userID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		token:   token,
		userID:  userID,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		retryDelay: baseRetryDelay,
		logger:     logger,
	}
}

// SetSession switches the client to a signed-in user
func (c *Client) SetSession(token, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.userID = userID
}

// CurrentUser implements domain.Identity
func (c *Client) CurrentUser() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.userID != "" && c.token != ""
}

// Token returns the access token used for requests ("" = anonymous)
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// doRequest performs an authenticated request against the gateway.
// 429 and 5xx are retried with exponential backoff; transport errors are
// retried only for requests without side effects.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any, prefer string) (*response, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	idempotent := method == http.MethodGet || method == http.MethodHead

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // 500ms, 1s, 2s
			c.logger.Debug("retrying request", "attempt", attempt, "delay", delay, "url", reqURL)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		token := c.Token()
		if token == "" {
			token = c.anonKey
		}
		req.Header.Set("apikey", c.anonKey)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if prefer != "" {
			req.Header.Set("Prefer", prefer)
		}

		c.logger.Debug("rest request", "method", method, "url", reqURL, "attempt", attempt)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("%w: %v", domain.ErrConnection, err)
			if idempotent {
				c.logger.Warn("rest request failed, will retry", "error", err, "attempt", attempt, "path", path)
				continue
			}
			c.logger.Error("rest request failed", "error", err, "path", path)
			return nil, lastErr
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read response: %v", domain.ErrConnection, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("%w: server error: %d - %s", domain.ErrConnection, resp.StatusCode, string(respBody))
			c.logger.Warn("rest server error, will retry",
				"status", resp.StatusCode,
				"body", string(respBody),
				"attempt", attempt,
				"maxRetries", maxRetries,
				"path", path,
			)
			continue
		}

		if resp.StatusCode >= 400 {
			return nil, c.statusError(resp.StatusCode, respBody, path)
		}

		return &response{status: resp.StatusCode, header: resp.Header, body: respBody}, nil
	}

	c.logger.Error("rest request failed after retries", "error", lastErr, "url", reqURL)
	return nil, lastErr
}

// statusError maps a 4xx response to a domain error
func (c *Client) statusError(status int, body []byte, path string) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)

	switch {
	case status == http.StatusConflict, eb.Code == uniqueViolation:
		return fmt.Errorf("%w: %s", domain.ErrDuplicate, eb.Message)
	case status == http.StatusUnauthorized:
		return domain.ErrAuthFailed
	case status == http.StatusForbidden:
		return domain.ErrForbidden
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", path, domain.ErrNotFound)
	}

	c.logger.Error("rest request error", "status", status, "body", string(body), "path", path)
	if eb.Message != "" {
		return fmt.Errorf("unexpected status code: %d: %s", status, eb.Message)
	}
	return fmt.Errorf("unexpected status code: %d", status)
}

// encodeQuery renders q in the gateway's query dialect
func encodeQuery(q domain.Query) url.Values {
	values := url.Values{}
	for _, f := range q.Filters {
		values.Add(f.Column, string(f.Op)+"."+domain.FormatValue(f.Value))
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		values.Set("order", q.OrderBy+"."+dir)
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	return values
}

func decodeRecords(body []byte) ([]domain.Record, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var recs []domain.Record
	if err := dec.Decode(&recs); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return recs, nil
}

func tablePath(collection string) string {
	return "/rest/v1/" + url.PathEscape(collection)
}

// Select implements domain.RecordStore
func (c *Client) Select(ctx context.Context, collection string, q domain.Query) ([]domain.Record, error) {
	query := encodeQuery(q)
	query.Set("select", "*")

	resp, err := c.doRequest(ctx, http.MethodGet, tablePath(collection), query, nil, "")
	if err != nil {
		return nil, err
	}
	return decodeRecords(resp.body)
}

// Count implements domain.RecordStore using an exact count header
func (c *Client) Count(ctx context.Context, collection string, q domain.Query) (int, error) {
	query := encodeQuery(q)
	query.Set("select", "*")

	resp, err := c.doRequest(ctx, http.MethodHead, tablePath(collection), query, nil, "count=exact")
	if err != nil {
		return 0, err
	}
	return parseContentRange(resp.header.Get("Content-Range"))
}

// parseContentRange extracts the total from "0-24/3573" or "*/0"
func parseContentRange(header string) (int, error) {
	idx := strings.LastIndex(header, "/")
	if idx < 0 {
		return 0, fmt.Errorf("missing count in content range %q", header)
	}
	n, err := strconv.Atoi(header[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("invalid count in content range %q: %w", header, err)
	}
	return n, nil
}

func firstRecord(body []byte) (domain.Record, error) {
	recs, err := decodeRecords(body)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, domain.ErrNotFound
	}
	return recs[0], nil
}

// Insert implements domain.RecordStore
func (c *Client) Insert(ctx context.Context, collection string, rec domain.Record) (domain.Record, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, tablePath(collection), nil, rec, "return=representation")
	if err != nil {
		return nil, err
	}
	return firstRecord(resp.body)
}

// Upsert implements domain.RecordStore
func (c *Client) Upsert(ctx context.Context, collection string, rec domain.Record, onConflict []string) (domain.Record, error) {
	query := url.Values{}
	if len(onConflict) > 0 {
		query.Set("on_conflict", strings.Join(onConflict, ","))
	}
	resp, err := c.doRequest(ctx, http.MethodPost, tablePath(collection), query, rec,
		"resolution=merge-duplicates,return=representation")
	if err != nil {
		return nil, err
	}
	return firstRecord(resp.body)
}

// Delete implements domain.RecordStore. An unfiltered delete is refused.
func (c *Client) Delete(ctx context.Context, collection string, q domain.Query) (int, error) {
	if len(q.Filters) == 0 {
		return 0, fmt.Errorf("%w: delete without filters", domain.ErrInvalidInput)
	}
	resp, err := c.doRequest(ctx, http.MethodDelete, tablePath(collection), encodeQuery(q), nil, "return=representation")
	if err != nil {
		return 0, err
	}
	recs, err := decodeRecords(resp.body)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Call implements domain.Procedures
func (c *Client) Call(ctx context.Context, name string, args map[string]any, out any) error {
	if args == nil {
		args = map[string]any{}
	}
	resp, err := c.doRequest(ctx, http.MethodPost, "/rest/v1/rpc/"+url.PathEscape(name), nil, args, "")
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("failed to parse %s result: %w", name, err)
	}
	return nil
}
