package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateResolveRevoke(t *testing.T) {
	r := NewRegistry(nil)

	url := r.Create([]byte("video"), "video/mp4")
	assert.True(t, strings.HasPrefix(url, "blob:reelcast/"))
	assert.Equal(t, 1, r.Len())

	data, ok := r.Resolve(url)
	require.True(t, ok)
	assert.Equal(t, []byte("video"), data)

	assert.True(t, r.Revoke(url))
	assert.False(t, r.Revoke(url), "second revoke is a no-op")
	assert.Equal(t, 0, r.Len())

	_, ok = r.Resolve(url)
	assert.False(t, ok)
	assert.False(t, r.Revoke("https://cdn.example.com/v1.mp4"))
}

func TestRegistry_HandlerServesRanges(t *testing.T) {
	r := NewRegistry(nil)
	url := r.Create([]byte("0123456789"), "video/mp4")
	id := strings.TrimPrefix(url, "blob:reelcast/")

	req := httptest.NewRequest(http.MethodGet, "/blob/"+id, nil)
	req.Header.Set("Range", "bytes=2-5")
	rr := httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusPartialContent, rr.Code)
	assert.Equal(t, "2345", rr.Body.String())
	assert.Equal(t, "video/mp4", rr.Header().Get("Content-Type"))

	r.Revoke(url)
	rr = httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/blob/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRegistry_Listen(t *testing.T) {
	r := NewRegistry(nil)
	base, err := r.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(context.Background()) })

	url := r.Create([]byte("served"), "video/mp4")
	assert.True(t, strings.HasPrefix(url, base))

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "served", string(body))

	assert.True(t, r.Revoke(url))
}
