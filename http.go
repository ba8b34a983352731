package swcache

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// maxRequestBody caps inbound request bodies handed to a worker.
const maxRequestBody = 10 << 20 // 10 MB

// hopHeaders are connection-scoped and never cross the host in either
// direction.
var hopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"proxy-connection":    true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"content-length":      true,
}

// ServeHTTP is the HTTP binding of the host: every inbound request becomes a
// fetch event. A network error is answered with 502 Bad Gateway.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := h.requestFromHTTP(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	resp, err := h.Fetch(r.Context(), req)
	if err != nil {
		h.log.Debug("network error", "method", req.Method, "url", req.URL, "error", err)
		http.Error(w, "network error", http.StatusBadGateway)
		return
	}

	hdr := w.Header()
	for k, v := range resp.Headers {
		if hopHeaders[strings.ToLower(k)] {
			continue
		}
		hdr.Set(k, v)
	}
	if r.Method != http.MethodHead {
		hdr.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	} else if n := resp.Header("content-length"); n != "" {
		hdr.Set("Content-Length", n)
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(resp.Body)
	}
}

func (h *Host) requestFromHTTP(w http.ResponseWriter, r *http.Request) (*Request, error) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err != nil {
			return nil, err
		}
	}
	headers := make(map[string]string, len(r.Header))
	for k, vals := range r.Header {
		lk := strings.ToLower(k)
		if hopHeaders[lk] {
			continue
		}
		headers[lk] = strings.Join(vals, ", ")
	}
	return &Request{
		Method:  r.Method,
		URL:     h.requestURL(r),
		Headers: headers,
		Body:    body,
	}, nil
}

// requestURL makes the inbound URL absolute: against the scope when one is
// set, against the Host header otherwise.
func (h *Host) requestURL(r *http.Request) string {
	ref := &url.URL{Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: r.URL.RawQuery}
	if h.scope != nil {
		return h.scope.ResolveReference(ref).String()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	base := &url.URL{Scheme: scheme, Host: r.Host, Path: "/"}
	return base.ResolveReference(ref).String()
}
