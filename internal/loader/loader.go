// Package loader implements progressive video loading: a small byte-range
// prefix is fetched and exposed first, then the full asset replaces it.
// Both are cached so later plays start from disk.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/reelcast/reelcast/internal/domain"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultPartialBytes is the last byte offset requested for the prefix (bytes=0-3145728)
	DefaultPartialBytes = 3145728

	// DefaultFetchTimeout bounds a single video request
	DefaultFetchTimeout = 30 * time.Second

	// partialProgress is the share of the progress bar covered by the prefix
	partialProgress = 30

	videoContentType = "video/mp4"
	readChunkSize    = 32 * 1024

	// maxPrealloc caps how much of an advertised Content-Length is reserved up front
	maxPrealloc = 8 << 20
)

// ObjectURLs creates and revokes playable URLs for blobs (see blob.Registry)
type ObjectURLs interface {
	Create(data []byte, contentType string) string
	Revoke(url string) bool
}

// Options configures a Loader
type Options struct {
	HTTPClient   *http.Client
	PartialBytes int64         // Last byte offset of the prefix request; 0 = DefaultPartialBytes
	FetchTimeout time.Duration // Per request; 0 = DefaultFetchTimeout, <0 = none
	Logger       *slog.Logger
}

// Loader holds the collaborators shared by all sessions
type Loader struct {
	httpClient   *http.Client
	cache        domain.BlobCache
	urls         ObjectURLs
	partialBytes int64
	fetchTimeout time.Duration
	group        singleflight.Group // Collapses concurrent full fetches per video id
	logger       *slog.Logger
}

// New creates a Loader
func New(cache domain.BlobCache, urls ObjectURLs, opts Options) *Loader {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.PartialBytes <= 0 {
		opts.PartialBytes = DefaultPartialBytes
	}
	if opts.FetchTimeout == 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	return &Loader{
		httpClient:   opts.HTTPClient,
		cache:        cache,
		urls:         urls,
		partialBytes: opts.PartialBytes,
		fetchTimeout: opts.FetchTimeout,
		logger:       opts.Logger,
	}
}

// statusError is returned when the video server answers with an unusable status
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

func (l *Loader) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.fetchTimeout > 0 {
		return context.WithTimeout(ctx, l.fetchTimeout)
	}
	return context.WithCancel(ctx)
}

// fetchPrefix requests the first partialBytes+1 bytes of url.
// complete is true when the response turned out to hold the whole video
// (server ignored the range, or the video is shorter than the prefix).
func (l *Loader) fetchPrefix(ctx context.Context, url string, onProgress domain.ProgressFunc) (data []byte, complete bool, err error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", l.partialBytes))

	l.logger.Debug("ranged video request", "url", url, "range", req.Header.Get("Range"))

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		limit := l.partialBytes + 1
		expected := resp.ContentLength
		if expected <= 0 || expected > limit {
			expected = limit
		}
		data, err := readBody(io.LimitReader(resp.Body, limit), expected, onProgress)
		if err != nil {
			return nil, false, err
		}
		return data, contentRangeComplete(resp.Header.Get("Content-Range"), int64(len(data))), nil

	case http.StatusOK:
		data, err := readBody(resp.Body, resp.ContentLength, onProgress)
		if err != nil {
			return nil, false, err
		}
		return data, true, nil

	default:
		return nil, false, &statusError{code: resp.StatusCode}
	}
}

// fetchFull downloads the whole video without a Range header
func (l *Loader) fetchFull(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	l.logger.Debug("full video request", "url", url)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}
	return readBody(resp.Body, resp.ContentLength, nil)
}

// loadFull fetches and caches the full video, sharing one fetch between
// concurrent callers for the same id.
func (l *Loader) loadFull(ctx context.Context, id, url string) ([]byte, error) {
	for {
		ch := l.group.DoChan(id, func() (any, error) {
			data, err := l.fetchFull(ctx, url)
			if err != nil {
				return nil, err
			}
			l.store(id, data, domain.PriorityLow)
			return data, nil
		})

		select {
		case res := <-ch:
			if res.Err != nil {
				// The shared fetch ran on another session's context which was cancelled
				if errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
					continue
				}
				return nil, res.Err
			}
			return res.Val.([]byte), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *Loader) store(key string, data []byte, priority domain.Priority) {
	if err := l.cache.Store(key, data, priority); err != nil {
		l.logger.Warn("failed to cache video", "key", key, "error", err)
	}
}

func (l *Loader) revoke(url string) {
	if url != "" {
		l.urls.Revoke(url)
	}
}

// readBody streams body into memory, reporting progress after every chunk
func readBody(body io.Reader, expected int64, onProgress domain.ProgressFunc) ([]byte, error) {
	var buf bytes.Buffer
	if expected > 0 {
		buf.Grow(int(min(expected, maxPrealloc)))
	} else {
		expected = -1
	}

	chunk := make([]byte, readChunkSize)
	var received int64
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			received += int64(n)
			if onProgress != nil {
				onProgress(received, expected)
			}
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read video: %w", err)
		}
	}
}

// contentRangeComplete reports whether a "bytes 0-99/100" header says the
// received bytes cover the whole resource.
func contentRangeComplete(header string, received int64) bool {
	idx := strings.LastIndex(header, "/")
	if idx < 0 {
		return false
	}
	total, err := strconv.ParseInt(strings.TrimSpace(header[idx+1:]), 10, 64)
	if err != nil {
		return false // "*" or garbage
	}
	return received >= total
}
