package cachestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cryguy/swcache/internal/core"
)

// backends returns a fresh instance of every CacheStorage implementation.
func backends(t *testing.T) map[string]core.CacheStorage {
	t.Helper()
	sq, err := NewSQLiteMemory()
	if err != nil {
		t.Fatalf("NewSQLiteMemory: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]core.CacheStorage{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func okResponse(body string) *core.Response {
	return &core.Response{
		StatusCode: 200,
		StatusText: "200 OK",
		Headers:    map[string]string{"content-type": "text/html"},
		Body:       []byte(body),
	}
}

func TestStorage_OpenCreatesAndKeysInOrder(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, n := range []string{"v1", "v2", "v1", "v3"} {
				if _, err := s.Open(ctx, n); err != nil {
					t.Fatalf("Open(%q): %v", n, err)
				}
			}
			keys, err := s.Keys(ctx)
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			if diff := cmp.Diff([]string{"v1", "v2", "v3"}, keys); diff != "" {
				t.Errorf("Keys mismatch (-want +got):\n%s", diff)
			}
			has, err := s.Has(ctx, "v2")
			if err != nil || !has {
				t.Errorf("Has(v2) = %v, %v; want true, nil", has, err)
			}
			has, _ = s.Has(ctx, "missing")
			if has {
				t.Error("Has(missing) = true, want false")
			}
		})
	}
}

func TestStorage_PutAndMatch(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c, err := s.Open(ctx, "v1")
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			req := core.NewRequest("https://example.com/reviews")
			if err := c.Put(ctx, req, okResponse("reviews")); err != nil {
				t.Fatalf("Put: %v", err)
			}

			got, err := c.Match(ctx, core.NewRequest("https://example.com/reviews#latest"))
			if err != nil {
				t.Fatalf("Match: %v", err)
			}
			if got == nil {
				t.Fatal("Match returned nil, expected entry")
			}
			if got.StatusCode != 200 {
				t.Errorf("StatusCode = %d, want 200", got.StatusCode)
			}
			if string(got.Body) != "reviews" {
				t.Errorf("Body = %q, want %q", got.Body, "reviews")
			}
			if got.Headers["content-type"] != "text/html" {
				t.Errorf("content-type = %q, want text/html", got.Headers["content-type"])
			}

			miss, err := c.Match(ctx, core.NewRequest("https://example.com/other"))
			if err != nil || miss != nil {
				t.Errorf("Match(other) = %v, %v; want nil, nil", miss, err)
			}
		})
	}
}

func TestStorage_PutOverwritesKeepsOrder(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c, _ := s.Open(ctx, "v1")
			_ = c.Put(ctx, core.NewRequest("https://example.com/a"), okResponse("a1"))
			_ = c.Put(ctx, core.NewRequest("https://example.com/b"), okResponse("b"))
			_ = c.Put(ctx, core.NewRequest("https://example.com/a"), okResponse("a2"))

			keys, err := c.Keys(ctx)
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			want := []string{"https://example.com/a", "https://example.com/b"}
			if diff := cmp.Diff(want, keys); diff != "" {
				t.Errorf("Keys mismatch (-want +got):\n%s", diff)
			}
			got, _ := c.Match(ctx, core.NewRequest("https://example.com/a"))
			if got == nil || string(got.Body) != "a2" {
				t.Errorf("Match(a) = %v, want body a2", got)
			}
		})
	}
}

func TestStorage_RejectsNonGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c, _ := s.Open(ctx, "v1")
			req := &core.Request{Method: "POST", URL: "https://example.com/reviews/new"}
			err := c.Put(ctx, req, okResponse("created"))
			if !errors.Is(err, core.ErrMethodNotCacheable) {
				t.Fatalf("Put(POST) error = %v, want ErrMethodNotCacheable", err)
			}
			if err := c.Put(ctx, core.NewRequest("https://example.com/x"), nil); !errors.Is(err, core.ErrNilResponse) {
				t.Errorf("Put(nil response) error = %v, want ErrNilResponse", err)
			}
			got, _ := c.Match(ctx, req)
			if got != nil {
				t.Error("Match(POST) should never return an entry")
			}
		})
	}
}

func TestStorage_PutAllIsAtomic(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c, _ := s.Open(ctx, "v1")
			entries := []core.Entry{
				{Request: core.NewRequest("https://example.com/a"), Response: okResponse("a")},
				{Request: &core.Request{Method: "PUT", URL: "https://example.com/b"}, Response: okResponse("b")},
			}
			if err := c.PutAll(ctx, entries); err == nil {
				t.Fatal("PutAll with a PUT request should fail")
			}
			keys, _ := c.Keys(ctx)
			if len(keys) != 0 {
				t.Errorf("Keys after failed PutAll = %v, want none", keys)
			}
		})
	}
}

func TestStorage_DeleteBucket(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			old, _ := s.Open(ctx, "v0")
			_ = old.Put(ctx, core.NewRequest("https://example.com/a"), okResponse("a"))
			_, _ = s.Open(ctx, "v1")

			deleted, err := s.Delete(ctx, "v0")
			if err != nil || !deleted {
				t.Fatalf("Delete(v0) = %v, %v; want true, nil", deleted, err)
			}
			deleted, _ = s.Delete(ctx, "v0")
			if deleted {
				t.Error("second Delete(v0) = true, want false")
			}

			keys, _ := s.Keys(ctx)
			if diff := cmp.Diff([]string{"v1"}, keys); diff != "" {
				t.Errorf("Keys mismatch (-want +got):\n%s", diff)
			}

			// A stale handle sees an empty bucket.
			got, err := old.Match(ctx, core.NewRequest("https://example.com/a"))
			if err != nil || got != nil {
				t.Errorf("stale Match = %v, %v; want nil, nil", got, err)
			}

			// Reopening starts empty.
			fresh, _ := s.Open(ctx, "v0")
			keys, _ = fresh.Keys(ctx)
			if len(keys) != 0 {
				t.Errorf("reopened bucket has keys %v, want none", keys)
			}
		})
	}
}

func TestStorage_DeleteEntry(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c, _ := s.Open(ctx, "v1")
			req := core.NewRequest("https://example.com/a")
			_ = c.Put(ctx, req, okResponse("a"))
			deleted, err := c.Delete(ctx, req)
			if err != nil || !deleted {
				t.Fatalf("Delete = %v, %v; want true, nil", deleted, err)
			}
			deleted, _ = c.Delete(ctx, req)
			if deleted {
				t.Error("second Delete = true, want false")
			}
		})
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "data")

	s, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	c, _ := s.Open(ctx, "coffee-reviews-v1")
	if err := c.Put(ctx, core.NewRequest("https://example.com/"), okResponse("home")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = OpenSQLite(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s.Close() }()
	c, _ = s.Open(ctx, "coffee-reviews-v1")
	got, err := c.Match(ctx, core.NewRequest("https://example.com/"))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if got == nil || string(got.Body) != "home" {
		t.Errorf("Match after reopen = %v, want body home", got)
	}
}
