package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Fetcher retrieves one shell resource from the network.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (Entry, error)
}

// HTTPFetcher resolves manifest paths against a base URL.
type HTTPFetcher struct {
	client *http.Client
	base   *url.URL
}

func NewHTTPFetcher(client *http.Client, baseURL string) (*HTTPFetcher, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, base: base}, nil
}

// Fetch fails for transport errors and for any non-2xx response.
func (f *HTTPFetcher) Fetch(ctx context.Context, path string) (Entry, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid resource path %q: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.base.ResolveReference(ref).String(), nil)
	if err != nil {
		return Entry{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Entry{}, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Entry{}, fmt.Errorf("fetch %s: unexpected status %d", path, resp.StatusCode)
	}
	return EntryFromResponse(resp)
}

// EntryFromResponse reads resp's body into an Entry. The caller still owns resp.Body.
func EntryFromResponse(resp *http.Response) (Entry, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read response body: %w", err)
	}
	return Entry{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}
