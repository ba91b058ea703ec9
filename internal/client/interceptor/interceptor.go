// Package interceptor serves the application shell from the active cache
// generation while letting API traffic reach the network untouched.
package interceptor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jo-hoe/photoqueue/internal/client/cache"
)

const (
	OfflinePage   = "/offline.html"
	APIPathPrefix = "/api/"
)

// ErrOffline is returned for a navigation that failed on the network and has
// nothing cached to fall back on.
var ErrOffline = errors.New("offline and no cached copy available")

// Cache is the part of cache.Manager the interceptor needs.
type Cache interface {
	Match(ctx context.Context, key string) (*cache.Entry, error)
	Put(ctx context.Context, key string, entry cache.Entry) error
}

// Interceptor is an http.RoundTripper placed in front of the network transport.
type Interceptor struct {
	origin *url.URL
	cache  Cache
	next   http.RoundTripper
}

func New(origin string, c Cache, next http.RoundTripper) (*Interceptor, error) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	if next == nil {
		next = http.DefaultTransport
	}
	return &Interceptor{origin: parsed, cache: c, next: next}, nil
}

func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	if !i.sameOrigin(req.URL) {
		return i.next.RoundTrip(req)
	}
	if (req.Method != http.MethodGet && req.Method != http.MethodHead) || strings.HasPrefix(req.URL.Path, APIPathPrefix) {
		return i.next.RoundTrip(req)
	}
	if isNavigation(req) {
		return i.networkFirst(req)
	}
	return i.cacheFirst(req)
}

func (i *Interceptor) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, i.origin.Scheme) && strings.EqualFold(u.Host, i.origin.Host)
}

func isNavigation(req *http.Request) bool {
	return req.Header.Get("Sec-Fetch-Mode") == "navigate"
}

func cacheKey(u *url.URL) string {
	return u.RequestURI()
}

func (i *Interceptor) networkFirst(req *http.Request) (*http.Response, error) {
	resp, err := i.next.RoundTrip(req)
	if err == nil {
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return i.storeCopy(req, resp)
		}
		return resp, nil
	}

	slog.Debug("navigation failed, serving cached shell", "path", req.URL.Path, "error", err)
	for _, key := range []string{cacheKey(req.URL), OfflinePage} {
		entry, matchErr := i.cache.Match(req.Context(), key)
		if matchErr != nil {
			return nil, matchErr
		}
		if entry != nil {
			return toResponse(req, entry), nil
		}
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrOffline, req.URL.Path, err)
}

func (i *Interceptor) cacheFirst(req *http.Request) (*http.Response, error) {
	entry, err := i.cache.Match(req.Context(), cacheKey(req.URL))
	if err != nil {
		return nil, err
	}
	if entry != nil {
		return toResponse(req, entry), nil
	}

	resp, err := i.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 && req.Method == http.MethodGet {
		return i.storeCopy(req, resp)
	}
	return resp, nil
}

// storeCopy buffers the body so that one copy goes to the cache and one to
// the caller. A failed cache write does not fail the request.
func (i *Interceptor) storeCopy(req *http.Request, resp *http.Response) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return resp, nil
	}
	entry, err := cache.EntryFromResponse(resp)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if err := i.cache.Put(req.Context(), cacheKey(req.URL), entry); errors.Is(err, cache.ErrNotServing) {
		slog.Debug("response not cached", "path", req.URL.Path, "error", err)
	} else if err != nil {
		slog.Warn("could not cache response", "path", req.URL.Path, "error", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(entry.Body))
	resp.ContentLength = int64(len(entry.Body))
	return resp, nil
}

func toResponse(req *http.Request, entry *cache.Entry) *http.Response {
	header := entry.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(entry.Body)))

	body := entry.Body
	if req.Method == http.MethodHead {
		body = nil
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode)),
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(entry.Body)),
		Request:       req,
	}
}
