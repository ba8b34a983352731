// Package netfetch is the network side of a worker's fetch: it sends a
// core.Request over HTTP and returns the fully read core.Response.
package netfetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/hashicorp/go-cleanhttp"

	"github.com/cryguy/swcache/internal/core"
)

// DefaultMaxResponseBytes caps a response body when Options leaves it unset.
const DefaultMaxResponseBytes = 32 << 20 // 32 MB

const maxRedirects = 20

// forbiddenHeaders are controlled by the HTTP transport and are never copied
// from a worker request onto the outbound request.
var forbiddenHeaders = map[string]bool{
	"host":                true,
	"transfer-encoding":   true,
	"connection":          true,
	"keep-alive":          true,
	"upgrade":             true,
	"proxy-authorization": true,
	"proxy-connection":    true,
	"te":                  true,
	"trailer":             true,
	"accept-encoding":     true,
	"content-length":      true,
}

// Options configures a Client.
type Options struct {
	// BaseURL resolves relative request URLs. Optional.
	BaseURL string
	// Timeout bounds a single fetch. Zero means no timeout.
	Timeout time.Duration
	// MaxResponseBytes caps the decoded body size.
	MaxResponseBytes int64
	// Transport overrides the pooled cleanhttp transport.
	Transport http.RoundTripper
	// FollowRedirects follows up to 20 redirects. When false a 3xx response
	// is returned as-is with its Location header, like a browser's manual
	// redirect mode.
	FollowRedirects bool
}

// Client implements core.Fetcher over HTTP. It never retries.
type Client struct {
	base     *url.URL
	http     *http.Client
	maxBytes int64
}

var _ core.Fetcher = (*Client)(nil)

// New builds a Client from opts.
func New(opts Options) (*Client, error) {
	c := &Client{
		http:     cleanhttp.DefaultPooledClient(),
		maxBytes: opts.MaxResponseBytes,
	}
	if c.maxBytes <= 0 {
		c.maxBytes = DefaultMaxResponseBytes
	}
	if opts.BaseURL != "" {
		u, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing base URL %q: %w", opts.BaseURL, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("base URL %q must be absolute", opts.BaseURL)
		}
		c.base = u
	}
	if opts.Transport != nil {
		c.http.Transport = opts.Transport
	}
	c.http.Timeout = opts.Timeout
	c.http.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if !opts.FollowRedirects {
			return http.ErrUseLastResponse
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("too many redirects")
		}
		return nil
	}
	return c, nil
}

// Resolve turns a possibly relative URL into an absolute one using the
// client's base URL.
func (c *Client) Resolve(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing URL %q: %w", rawURL, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if c.base == nil {
		return "", fmt.Errorf("relative URL %q with no base URL", rawURL)
	}
	return c.base.ResolveReference(u).String(), nil
}

// Fetch sends req and reads the whole response. Non-2xx statuses are not
// errors; only transport failures and oversized bodies are.
func (c *Client) Fetch(ctx context.Context, req *core.Request) (*core.Response, error) {
	target, err := c.Resolve(req.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	for k, v := range req.Headers {
		if forbiddenHeaders[strings.ToLower(k)] {
			continue
		}
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Accept-Encoding", "br, gzip")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	if method == http.MethodHead || resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotModified {
		encoding = ""
	}
	respBody, err := c.readBody(resp.Body, encoding)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k, vals := range resp.Header {
		headers[strings.ToLower(k)] = strings.Join(vals, ", ")
	}
	if encoding == "br" || encoding == "gzip" {
		delete(headers, "content-encoding")
		delete(headers, "content-length")
	}

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &core.Response{
		StatusCode: resp.StatusCode,
		StatusText: resp.Status,
		Headers:    headers,
		Body:       respBody,
		URL:        finalURL,
	}, nil
}

// readBody decodes br and gzip bodies and enforces the size cap on the
// decoded output.
func (c *Client) readBody(r io.Reader, encoding string) ([]byte, error) {
	switch encoding {
	case "br":
		r = brotli.NewReader(r)
	case "gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("decoding gzip body: %w", err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	data, err := io.ReadAll(io.LimitReader(r, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("%w: limit %d bytes", core.ErrResponseTooLarge, c.maxBytes)
	}
	return data, nil
}
