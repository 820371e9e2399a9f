// Package blob hands out local URLs for in-memory video blobs so an external
// player can stream them. A URL stays valid until it is revoked.
package blob

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// scheme is used for URLs created before the HTTP listener is started
const scheme = "blob:reelcast/"

type entry struct {
	data        []byte
	contentType string
	created     time.Time
}

// Registry maps object URLs to blobs and serves them over HTTP
type Registry struct {
	mu      sync.RWMutex
	blobs   map[string]entry // id -> blob
	baseURL string           // "http://127.0.0.1:port/blob/" once listening
	server  *http.Server
	logger  *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		blobs:  make(map[string]entry),
		logger: logger,
	}
}

// Create registers data and returns the URL it can be fetched from
func (r *Registry) Create(data []byte, contentType string) string {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs[id] = entry{data: data, contentType: contentType, created: time.Now()}
	return r.prefixLocked() + id
}

// Revoke releases the blob behind url. Returns false for unknown URLs.
func (r *Registry) Revoke(url string) bool {
	id, ok := r.idFor(url)
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blobs[id]; !ok {
		return false
	}
	delete(r.blobs, id)
	return true
}

// Resolve returns the blob behind url
func (r *Registry) Resolve(url string) ([]byte, bool) {
	id, ok := r.idFor(url)
	if !ok {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.blobs[id]
	return e.data, ok
}

// Len returns the number of live object URLs
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}

func (r *Registry) prefixLocked() string {
	if r.baseURL != "" {
		return r.baseURL
	}
	return scheme
}

func (r *Registry) idFor(url string) (string, bool) {
	r.mu.RLock()
	base := r.baseURL
	r.mu.RUnlock()

	switch {
	case strings.HasPrefix(url, scheme):
		return strings.TrimPrefix(url, scheme), true
	case base != "" && strings.HasPrefix(url, base):
		return strings.TrimPrefix(url, base), true
	default:
		return "", false
	}
}

// Handler serves GET /blob/{id} with range support
func (r *Registry) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /blob/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := req.PathValue("id")

		r.mu.RLock()
		e, ok := r.blobs[id]
		r.mu.RUnlock()

		if !ok {
			http.NotFound(w, req)
			return
		}
		if e.contentType != "" {
			w.Header().Set("Content-Type", e.contentType)
		}
		http.ServeContent(w, req, id, e.created, bytes.NewReader(e.data))
	})
	return mux
}

// Listen starts serving blobs on addr (e.g. "127.0.0.1:0") and returns the base URL.
// URLs created afterwards point at the listener.
func (r *Registry) Listen(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	srv := &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	r.mu.Lock()
	r.server = srv
	r.baseURL = "http://" + ln.Addr().String() + "/blob/"
	base := r.baseURL
	r.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("blob server stopped", "error", err)
		}
	}()

	r.logger.Info("serving object URLs", "base", base)
	return base, nil
}

// Close stops the listener and drops all blobs
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	srv := r.server
	r.server = nil
	r.baseURL = ""
	r.blobs = make(map[string]entry)
	r.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
