// Package registry looks up package metadata from an npm-compatible registry.
//
// Every request goes through a [cache.Cache], so repeated lookups of the same
// package within the cache TTL never touch the network. Only the description
// survives a cache round trip; the latest version is read from live responses
// and is absent on a cache hit.
package registry

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matzehuels/depscan/pkg/cache"
	"github.com/matzehuels/depscan/pkg/errors"
	"github.com/matzehuels/depscan/pkg/manifest"
	"github.com/matzehuels/depscan/pkg/observability"
)

const (
	// DefaultBaseURL is the public npm registry.
	DefaultBaseURL = "https://registry.npmjs.org"

	// DefaultDescription is used when a package has no description.
	DefaultDescription = "No description available"

	httpTimeout = 10 * time.Second
)

// Info is the result of a successful lookup.
type Info struct {
	Description string
	Version     string // empty when served from cache
	Cached      bool
}

// Client fetches package metadata.
type Client struct {
	cache   *cache.Cache
	http    *http.Client
	baseURL string
	headers map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another registry.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the default HTTP client (10s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithHeaders sets headers sent with every request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) { c.headers = h }
}

// NewClient creates a registry client. A nil cache disables caching.
func NewClient(c *cache.Cache, opts ...Option) *Client {
	if c == nil {
		c = cache.New(nil)
	}
	cl := &Client{
		cache:   c,
		http:    &http.Client{Timeout: httpTimeout},
		baseURL: DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// BaseURL returns the registry base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// URL returns the metadata URL for a package. Scoped names keep their
// leading "@" and have the slash escaped.
func (c *Client) URL(name string) string {
	return c.baseURL + "/" + url.PathEscape(name)
}

// Lookup fetches the description and latest version of req.Name. With
// useCache false the cached entry is ignored and overwritten.
//
// A non-200 response yields a PACKAGE_NOT_FOUND error; a transport failure
// yields NETWORK_ERROR. Both name the package.
func (c *Client) Lookup(ctx context.Context, req manifest.Request, useCache bool) (*Info, error) {
	name := req.Name
	if err := errors.ValidatePackageName(name); err != nil {
		return nil, errors.Wrap(errors.ErrCodePackageNotFound, err, "package %q not found", name)
	}

	u := c.URL(name)
	lk, err := c.cache.GetOrFetch(ctx, u, !useCache, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, u)
	})
	if err != nil {
		return nil, classify(name, err)
	}

	info := &Info{Description: lk.Description, Cached: lk.Hit}
	if info.Description == "" {
		info.Description = DefaultDescription
	}
	if lk.Raw != nil {
		var doc registryResponse
		if json.Unmarshal(lk.Raw, &doc) == nil {
			info.Version = doc.DistTags.Latest
		}
	}
	return info, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	host, path := req.URL.Host, req.URL.EscapedPath()
	hooks := observability.HTTP()
	hooks.OnRequest(ctx, http.MethodGet, host, path)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		hooks.OnError(ctx, http.MethodGet, host, path, err)
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()
	hooks.OnResponse(ctx, http.MethodGet, host, path, resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: err}
	}
	return body, nil
}

// classify turns a fetch failure into a coded error naming the package.
func classify(name string, err error) error {
	var se *statusError
	if stderrors.As(err, &se) {
		return errors.Wrap(errors.ErrCodePackageNotFound, se, "package %q not found", name)
	}
	var te *transportError
	if stderrors.As(err, &te) {
		return errors.Wrap(errors.ErrCodeNetwork, te.err, "failed to fetch package %q", name)
	}
	return errors.Wrap(errors.ErrCodeNetwork, err, "invalid registry response for package %q", name)
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("registry returned status %d", e.code) }

type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

type registryResponse struct {
	Name     string   `json:"name"`
	DistTags distTags `json:"dist-tags"`
}

type distTags struct {
	Latest string `json:"latest"`
}
