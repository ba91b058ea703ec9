package interceptor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jo-hoe/photoqueue/internal/client/cache"
)

const origin = "http://shell.test"

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]cache.Entry
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]cache.Entry{}}
}

func (c *memoryCache) Match(_ context.Context, key string) (*cache.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (c *memoryCache) Put(_ context.Context, key string, entry cache.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	return nil
}

// network records requests and answers from a fixed table, or fails when offline.
type network struct {
	mu       sync.Mutex
	offline  bool
	requests []string
	bodies   map[string]string
}

func (n *network) RoundTrip(req *http.Request) (*http.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req.Method+" "+req.URL.String())
	if n.offline {
		return nil, errors.New("dial tcp: network unreachable")
	}
	rec := httptest.NewRecorder()
	body, ok := n.bodies[req.URL.Path]
	if !ok {
		rec.WriteHeader(http.StatusNotFound)
	} else {
		_, _ = rec.WriteString(body)
	}
	return rec.Result(), nil
}

func (n *network) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.requests)
}

func newTestInterceptor(t *testing.T) (*Interceptor, *memoryCache, *network) {
	t.Helper()
	c := newMemoryCache()
	n := &network{bodies: map[string]string{
		"/":          "index",
		"/app.js":    "script",
		"/api/items": "api",
	}}
	i, err := New(origin, c, n)
	require.NoError(t, err)
	return i, c, n
}

func do(t *testing.T, i *Interceptor, method, target string, navigate bool) (*http.Response, error) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.RequestURI = ""
	if navigate {
		req.Header.Set("Sec-Fetch-Mode", "navigate")
	}
	return i.RoundTrip(req)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRoundTrip_CrossOriginPassesThrough(t *testing.T) {
	i, c, n := newTestInterceptor(t)

	resp, err := do(t, i, http.MethodGet, "http://cdn.test/app.js", false)
	require.NoError(t, err)
	assert.Equal(t, "script", readBody(t, resp))
	assert.Empty(t, c.entries)

	n.offline = true
	_, err = do(t, i, http.MethodGet, "http://cdn.test/app.js", false)
	assert.Error(t, err)
}

func TestRoundTrip_APIAndWritesAreNeverCached(t *testing.T) {
	i, c, n := newTestInterceptor(t)

	resp, err := do(t, i, http.MethodGet, origin+"/api/items", false)
	require.NoError(t, err)
	assert.Equal(t, "api", readBody(t, resp))

	resp, err = do(t, i, http.MethodPost, origin+"/app.js", false)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Empty(t, c.entries)
	assert.Equal(t, 2, n.count())
}

func TestRoundTrip_NavigationIsNetworkFirst(t *testing.T) {
	i, c, n := newTestInterceptor(t)
	require.NoError(t, c.Put(context.Background(), "/", cache.Entry{StatusCode: http.StatusOK, Body: []byte("stale")}))

	resp, err := do(t, i, http.MethodGet, origin+"/", true)
	require.NoError(t, err)
	assert.Equal(t, "index", readBody(t, resp))
	assert.Equal(t, "index", string(c.entries["/"].Body))

	n.offline = true
	resp, err = do(t, i, http.MethodGet, origin+"/", true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "index", readBody(t, resp))
}

func TestRoundTrip_NavigationFallsBackToOfflinePage(t *testing.T) {
	i, c, n := newTestInterceptor(t)
	n.offline = true

	_, err := do(t, i, http.MethodGet, origin+"/gallery", true)
	assert.ErrorIs(t, err, ErrOffline)

	require.NoError(t, c.Put(context.Background(), OfflinePage, cache.Entry{StatusCode: http.StatusOK, Body: []byte("you are offline")}))
	resp, err := do(t, i, http.MethodGet, origin+"/gallery", true)
	require.NoError(t, err)
	assert.Equal(t, "you are offline", readBody(t, resp))
}

func TestRoundTrip_NavigationErrorStatusIsNotCached(t *testing.T) {
	i, c, _ := newTestInterceptor(t)

	resp, err := do(t, i, http.MethodGet, origin+"/missing", true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
	assert.NotContains(t, c.entries, "/missing")
}

func TestRoundTrip_SubresourcesAreCacheFirst(t *testing.T) {
	i, c, n := newTestInterceptor(t)

	resp, err := do(t, i, http.MethodGet, origin+"/app.js", false)
	require.NoError(t, err)
	assert.Equal(t, "script", readBody(t, resp))
	assert.Equal(t, 1, n.count())
	assert.Contains(t, c.entries, "/app.js")

	n.offline = true
	resp, err = do(t, i, http.MethodGet, origin+"/app.js", false)
	require.NoError(t, err)
	assert.Equal(t, "script", readBody(t, resp))
	assert.Equal(t, 1, n.count())
}

func TestRoundTrip_HeadServesHeadersOnly(t *testing.T) {
	i, c, _ := newTestInterceptor(t)
	require.NoError(t, c.Put(context.Background(), "/app.js", cache.Entry{StatusCode: http.StatusOK, Body: []byte("script")}))

	resp, err := do(t, i, http.MethodHead, origin+"/app.js", false)
	require.NoError(t, err)
	assert.Equal(t, "", readBody(t, resp))
	assert.Equal(t, "6", resp.Header.Get("Content-Length"))
}

func TestRoundTrip_WithCacheManager(t *testing.T) {
	ctx := context.Background()
	storage, err := cache.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer func() {
		_ = storage.Close()
	}()

	n := &network{bodies: map[string]string{"/": "index", OfflinePage: "offline"}}
	fetcher := fetcherFunc(func(ctx context.Context, path string) (cache.Entry, error) {
		return cache.Entry{StatusCode: http.StatusOK, Body: []byte(n.bodies[path])}, nil
	})
	manager, err := cache.NewManager(storage, fetcher, cache.Config{
		Prefix:   "photoqueue-",
		Version:  "v2",
		Manifest: []string{"/", OfflinePage},
	})
	require.NoError(t, err)
	require.NoError(t, manager.Install(ctx))
	_, err = manager.Activate(ctx)
	require.NoError(t, err)

	i, err := New(origin, manager, n)
	require.NoError(t, err)
	n.offline = true

	resp, err := do(t, i, http.MethodGet, origin+"/settings", true)
	require.NoError(t, err)
	assert.Equal(t, "offline", readBody(t, resp))
}

type fetcherFunc func(ctx context.Context, path string) (cache.Entry, error)

func (f fetcherFunc) Fetch(ctx context.Context, path string) (cache.Entry, error) {
	return f(ctx, path)
}
