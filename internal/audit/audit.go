// Package audit checks a core asset list against the pages it precaches:
// every same-origin subresource an HTML core asset references should itself
// be a core asset, or the page will render incomplete offline.
package audit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/cryguy/swcache"
)

// Ref is a subresource referenced by a core page but not precached.
type Ref struct {
	Path string // root-relative, query included
	From string // core asset that references it
}

// Report is the result of an audit.
type Report struct {
	Pages   int      // HTML core assets inspected
	Missing []Ref    // sorted by Path, then From
	Failed  []string // core assets that did not answer 2xx
}

// OK reports whether the audit found nothing to fix.
func (r Report) OK() bool { return len(r.Missing) == 0 && len(r.Failed) == 0 }

// Run fetches every core asset of cfg relative to base and inspects the HTML
// ones. A transport error aborts the run.
func Run(ctx context.Context, fetcher swcache.Fetcher, cfg swcache.Config, base string) (Report, error) {
	origin, err := url.Parse(base)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return Report{}, fmt.Errorf("audit: base %q must be an absolute URL", base)
	}

	assets := cfg.CoreAssets()
	core := make(map[string]bool, len(assets))
	for _, p := range assets {
		core[p] = true
	}

	var rep Report
	seen := map[Ref]bool{}
	for _, p := range assets {
		ref, err := url.Parse(p)
		if err != nil {
			return Report{}, fmt.Errorf("audit: core asset %q: %w", p, err)
		}
		pageURL := origin.ResolveReference(ref)
		resp, err := fetcher.Fetch(ctx, swcache.NewRequest(pageURL.String()))
		if err != nil {
			return Report{}, fmt.Errorf("audit: fetching %s: %w", p, err)
		}
		if resp == nil || !resp.OK() {
			rep.Failed = append(rep.Failed, p)
			continue
		}
		if !isHTML(resp.Header("content-type")) {
			continue
		}
		rep.Pages++
		refs, err := Links(bytes.NewReader(resp.Body))
		if err != nil {
			return Report{}, fmt.Errorf("audit: parsing %s: %w", p, err)
		}
		for _, raw := range refs {
			path, ok := sameOrigin(origin, pageURL, raw)
			if !ok || core[path] {
				continue
			}
			miss := Ref{Path: path, From: p}
			if !seen[miss] {
				seen[miss] = true
				rep.Missing = append(rep.Missing, miss)
			}
		}
	}
	sort.Slice(rep.Missing, func(i, j int) bool {
		if rep.Missing[i].Path != rep.Missing[j].Path {
			return rep.Missing[i].Path < rep.Missing[j].Path
		}
		return rep.Missing[i].From < rep.Missing[j].From
	})
	return rep, nil
}

// Links returns the subresource URLs a document loads, in document order:
// stylesheets, icons and manifests from <link>, and the src of script, img,
// source and iframe elements. Anchors are navigation and are not included.
func Links(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Link:
				if loadsResource(attr(n, "rel")) {
					if v := attr(n, "href"); v != "" {
						out = append(out, v)
					}
				}
			case atom.Script, atom.Img, atom.Source, atom.Iframe:
				if v := attr(n, "src"); v != "" {
					out = append(out, v)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func loadsResource(rel string) bool {
	for _, r := range strings.Fields(strings.ToLower(rel)) {
		switch r {
		case "stylesheet", "icon", "apple-touch-icon", "manifest", "preload", "modulepreload":
			return true
		}
	}
	return false
}

// sameOrigin resolves raw against page and returns its root-relative form
// when it stays on origin.
func sameOrigin(origin, page *url.URL, raw string) (string, bool) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	u := page.ResolveReference(ref)
	if u.Scheme != origin.Scheme || u.Host != origin.Host {
		return "", false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path, true
}

func isHTML(contentType string) bool {
	mt := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	return mt == "text/html" || mt == "application/xhtml+xml"
}
