package core

import (
	"net/http"
	"net/url"
	"strings"
)

// Request is a request as seen by a worker's fetch handler.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is a response produced by the network or read from a cache bucket.
type Response struct {
	StatusCode int
	StatusText string
	Headers    map[string]string
	Body       []byte
	// URL is the final URL after redirects. Empty for synthetic responses.
	URL string
}

// NewRequest builds a GET request for rawURL.
func NewRequest(rawURL string) *Request {
	return &Request{Method: http.MethodGet, URL: rawURL, Headers: map[string]string{}}
}

// IsGet reports whether the request uses GET (an empty method counts as GET).
func (r *Request) IsGet() bool {
	return r.Method == "" || strings.EqualFold(r.Method, http.MethodGet)
}

// OK reports whether the status is in the 200-299 range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// Header returns the named header, matching case-insensitively.
func (r *Response) Header(name string) string {
	if v, ok := r.Headers[strings.ToLower(name)]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Clone returns a deep copy. The clone shares no header map or body slice
// with the receiver.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		c.Headers[k] = v
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

// CacheKey returns the key a bucket stores a request under: the URL without
// its fragment.
func CacheKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		if i := strings.IndexByte(rawURL, '#'); i >= 0 {
			return rawURL[:i]
		}
		return rawURL
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
