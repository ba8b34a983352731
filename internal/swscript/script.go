// Package swscript emits the browser service worker script that implements
// the same cache-first worker for a given configuration, and serves it.
package swscript

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"text/template"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/cryguy/swcache"
)

// Path is where pages register the worker from. It must sit at the root so
// the worker's scope covers the whole origin.
const Path = "/sw.js"

var listenerEvents = []string{"install", "activate", "fetch"}

//go:embed sw.js.tmpl
var scriptTemplate string

var tmpl = template.Must(template.New("sw.js").Funcs(template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}).Parse(scriptTemplate))

// Render produces the service worker source for cfg.
func Render(cfg swcache.Config) ([]byte, error) {
	if cfg.IsZero() {
		return nil, fmt.Errorf("rendering service worker: %w", swcache.ErrInvalidConfig)
	}
	var buf bytes.Buffer
	err := tmpl.Execute(&buf, struct {
		CacheName  string
		CoreAssets []string
	}{cfg.CacheName(), cfg.CoreAssets()})
	if err != nil {
		return nil, fmt.Errorf("rendering service worker: %w", err)
	}
	return buf.Bytes(), nil
}

// Minify shrinks a script with esbuild.
func Minify(src []byte) ([]byte, error) {
	result := esbuild.Transform(string(src), esbuild.TransformOptions{
		Loader:            esbuild.LoaderJS,
		Target:            esbuild.ES2017,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		LegalComments:     esbuild.LegalCommentsNone,
	})
	if len(result.Errors) > 0 {
		var msgs []string
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return nil, fmt.Errorf("minifying service worker: %s", strings.Join(msgs, "; "))
	}
	return result.Code, nil
}

// Build renders the script for cfg, optionally minifies it, and verifies it.
func Build(cfg swcache.Config, minify bool) ([]byte, error) {
	src, err := Render(cfg)
	if err != nil {
		return nil, err
	}
	if minify {
		if src, err = Minify(src); err != nil {
			return nil, err
		}
	}
	if err := Verify(cfg, src); err != nil {
		return nil, err
	}
	return src, nil
}

// Verify checks that src registers exactly the install, activate and fetch
// listeners, in that order, and opens cfg's cache on install.
func Verify(cfg swcache.Config, src []byte) error {
	report, err := Check(src)
	if err != nil {
		return err
	}
	if !slices.Equal(report.Events, listenerEvents) {
		return fmt.Errorf("service worker registers %v, want %v", report.Events, listenerEvents)
	}
	if report.InstallCache != cfg.CacheName() {
		return fmt.Errorf("service worker opens cache %q on install, want %q", report.InstallCache, cfg.CacheName())
	}
	return nil
}

// Handler serves a prebuilt script with the headers browsers need to
// register it for the whole origin.
func Handler(script []byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Service-Worker-Allowed", "/")
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(script)
	})
}
