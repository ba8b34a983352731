package swcache

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cryguy/swcache/internal/cachestore"
	"github.com/cryguy/swcache/internal/netfetch"
)

func TestServeHTTP_ProxiesThroughWorker(t *testing.T) {
	var (
		mu   sync.Mutex
		hits = map[string]int{}
	)
	originHits := func(path string) int {
		mu.Lock()
		defer mu.Unlock()
		return hits[path]
	}
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		switch {
		case r.URL.Path == "/gone":
			http.NotFound(w, r)
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "page "+r.URL.Path)
		}
	}))
	defer origin.Close()

	fetcher, err := netfetch.New(netfetch.Options{BaseURL: origin.URL})
	if err != nil {
		t.Fatalf("netfetch.New: %v", err)
	}
	w, err := NewCacheFirst(DefaultConfig(), cachestore.NewMemory(), fetcher, WithScope(origin.URL))
	if err != nil {
		t.Fatalf("NewCacheFirst: %v", err)
	}
	h := newTestHost(t, fetcher, w, WithScope(origin.URL))
	proxy := httptest.NewServer(h)
	defer proxy.Close()

	get := func(path string) (*http.Response, string) {
		t.Helper()
		resp, err := http.Get(proxy.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(resp.Body)
		return resp, string(body)
	}

	resp, body := get("/reviews")
	if resp.StatusCode != http.StatusOK || body != "page /reviews" {
		t.Errorf("GET /reviews = %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("Content-Type") != "text/html" {
		t.Errorf("Content-Type = %q, want text/html", resp.Header.Get("Content-Type"))
	}
	if originHits("/reviews") != 1 {
		t.Errorf("origin hits for /reviews = %d, want 1 (install only)", originHits("/reviews"))
	}

	resp, _ = get("/gone")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /gone status = %d, want 404", resp.StatusCode)
	}
	_, _ = get("/gone")
	if originHits("/gone") != 2 {
		t.Errorf("origin hits for /gone = %d, want 2", originHits("/gone"))
	}

	_, _ = get("/venues?sort=score")
	drain(t, h)
	_, body = get("/venues?sort=score")
	if body != "page /venues" {
		t.Errorf("GET /venues body = %q", body)
	}
	if originHits("/venues") != 1 {
		t.Errorf("origin hits for /venues = %d, want 1", originHits("/venues"))
	}
}

func TestServeHTTP_NetworkErrorIs502(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.fail("http://app.test/offline", errNetwork)
	h := newTestHost(t, fetcher, passthroughHandler{fetcher}, WithScope("http://app.test/"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/offline", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestServeHTTP_RequestConversion(t *testing.T) {
	var seen *Request
	h := newTestHost(t, newFakeFetcher(), recordingHandler{seen: &seen}, WithScope("https://coffee.example.com/"))

	req := httptest.NewRequest(http.MethodPost, "/reviews/new?draft=1", strings.NewReader("coffee=5"))
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("X-Reviewer", "pat")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen == nil {
		t.Fatal("handler never saw the request")
	}
	if seen.URL != "https://coffee.example.com/reviews/new?draft=1" {
		t.Errorf("URL = %q", seen.URL)
	}
	if seen.Method != http.MethodPost || string(seen.Body) != "coffee=5" {
		t.Errorf("method/body = %s %q", seen.Method, seen.Body)
	}
	if _, ok := seen.Headers["connection"]; ok {
		t.Error("hop-by-hop header reached the worker")
	}
	if seen.Headers["x-reviewer"] != "pat" {
		t.Errorf("x-reviewer = %q, want pat", seen.Headers["x-reviewer"])
	}

	head := httptest.NewRecorder()
	h.ServeHTTP(head, httptest.NewRequest(http.MethodHead, "/", nil))
	if head.Body.Len() != 0 {
		t.Errorf("HEAD wrote %d body bytes", head.Body.Len())
	}
}

type passthroughHandler struct{ f Fetcher }

func (passthroughHandler) OnInstall(context.Context, *InstallEvent) error   { return nil }
func (passthroughHandler) OnActivate(context.Context, *ActivateEvent) error { return nil }
func (p passthroughHandler) OnFetch(ctx context.Context, ev *FetchEvent) (*Response, error) {
	return p.f.Fetch(ctx, ev.Request)
}

type recordingHandler struct{ seen **Request }

func (recordingHandler) OnInstall(context.Context, *InstallEvent) error   { return nil }
func (recordingHandler) OnActivate(context.Context, *ActivateEvent) error { return nil }
func (r recordingHandler) OnFetch(ctx context.Context, ev *FetchEvent) (*Response, error) {
	if ev.Request.Method == http.MethodPost {
		*r.seen = ev.Request
	}
	return &Response{StatusCode: 200, Headers: map[string]string{"connection": "close"}, Body: []byte("ok")}, nil
}

func TestServeHTTP_PassesRedirectsThrough(t *testing.T) {
	var (
		mu   sync.Mutex
		hits = map[string]int{}
	)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.Method+" "+r.URL.Path]++
		mu.Unlock()
		switch r.URL.Path {
		case "/reviews/new":
			if r.Method == http.MethodPost {
				http.Redirect(w, r, "/reviews?msg=added", http.StatusSeeOther)
				return
			}
		case "/moved":
			http.Redirect(w, r, "/reviews", http.StatusFound)
			return
		}
		_, _ = io.WriteString(w, "page "+r.URL.Path)
	}))
	defer origin.Close()

	fetcher, err := netfetch.New(netfetch.Options{BaseURL: origin.URL})
	if err != nil {
		t.Fatalf("netfetch.New: %v", err)
	}
	storage := cachestore.NewMemory()
	w, err := NewCacheFirst(DefaultConfig(), storage, fetcher, WithScope(origin.URL))
	if err != nil {
		t.Fatalf("NewCacheFirst: %v", err)
	}
	h := newTestHost(t, fetcher, w, WithScope(origin.URL))
	proxy := httptest.NewServer(h)
	defer proxy.Close()
	browser := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	resp, err := browser.Post(proxy.URL+"/reviews/new", "application/x-www-form-urlencoded", strings.NewReader("score=5"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		t.Errorf("POST /reviews/new status = %d, want 303", resp.StatusCode)
	}
	if got := resp.Header.Get("Location"); got != "/reviews?msg=added" {
		t.Errorf("Location = %q, want /reviews?msg=added", got)
	}

	for i := 0; i < 2; i++ {
		resp, err := browser.Get(proxy.URL + "/moved")
		if err != nil {
			t.Fatalf("GET /moved: %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusFound {
			t.Errorf("GET /moved status = %d, want 302", resp.StatusCode)
		}
		drain(t, h)
	}
	mu.Lock()
	movedHits := hits["GET /moved"]
	mu.Unlock()
	if movedHits != 2 {
		t.Errorf("origin hits for /moved = %d, want 2 (redirect not cached)", movedHits)
	}
	cache, err := storage.Open(context.Background(), DefaultCacheName)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := cache.Match(context.Background(), NewRequest(origin.URL+"/moved")); got != nil {
		t.Errorf("cached %d response under /moved", got.StatusCode)
	}
}

func TestServeHTTP_HeadKeepsOriginLength(t *testing.T) {
	fetcher := newFakeFetcher()
	h := newTestHost(t, fetcher, headHandler{}, WithScope("http://app.test/"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/static/app.js", nil))
	if got := rec.Header().Get("Content-Length"); got != "1234" {
		t.Errorf("HEAD Content-Length = %q, want 1234", got)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("HEAD wrote %d body bytes", rec.Body.Len())
	}
}

type headHandler struct{}

func (headHandler) OnInstall(context.Context, *InstallEvent) error   { return nil }
func (headHandler) OnActivate(context.Context, *ActivateEvent) error { return nil }
func (headHandler) OnFetch(context.Context, *FetchEvent) (*Response, error) {
	return &Response{StatusCode: 200, Headers: map[string]string{"content-length": "1234"}}, nil
}
