package swcache

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cryguy/swcache/internal/core"
)

// DefaultCacheName is the version identifier of the current cache bucket.
// Bump it whenever the core assets change so activation drops the old bucket.
const DefaultCacheName = "coffee-reviews-v1"

// defaultCoreAssets are preloaded on install, in this order.
var defaultCoreAssets = []string{
	"/",
	"/reviews",
	"/reviews/new",
	"/static/style.css",
	"/static/app.js",
	"/static/manifest.json",
	"/static/icons/icon-192.png",
}

// Config is the immutable worker configuration: the cache version identifier
// and the core asset list. The zero value is not valid; use NewConfig or
// DefaultConfig.
type Config struct {
	cacheName  string
	coreAssets []string
}

// NewConfig validates and copies its arguments. Core assets must be distinct
// root-relative paths.
func NewConfig(cacheName string, coreAssets []string) (Config, error) {
	if strings.TrimSpace(cacheName) == "" {
		return Config{}, fmt.Errorf("%w: cache name must not be empty", core.ErrInvalidConfig)
	}
	if len(coreAssets) == 0 {
		return Config{}, fmt.Errorf("%w: core asset list must not be empty", core.ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(coreAssets))
	for _, p := range coreAssets {
		if err := validateAssetPath(p); err != nil {
			return Config{}, err
		}
		if seen[p] {
			return Config{}, fmt.Errorf("%w: duplicate core asset %q", core.ErrInvalidConfig, p)
		}
		seen[p] = true
	}
	return Config{
		cacheName:  cacheName,
		coreAssets: append([]string(nil), coreAssets...),
	}, nil
}

// DefaultConfig returns the configuration the coffee-review app ships with.
func DefaultConfig() Config {
	cfg, err := NewConfig(DefaultCacheName, defaultCoreAssets)
	if err != nil {
		panic(err)
	}
	return cfg
}

// CacheName returns the version identifier.
func (c Config) CacheName() string { return c.cacheName }

// CoreAssets returns a copy of the core asset list.
func (c Config) CoreAssets() []string {
	return append([]string(nil), c.coreAssets...)
}

// IsZero reports whether c was never initialized.
func (c Config) IsZero() bool {
	return c.cacheName == "" && len(c.coreAssets) == 0
}

func validateAssetPath(p string) error {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return fmt.Errorf("%w: core asset %q must be a root-relative path", core.ErrInvalidConfig, p)
	}
	u, err := url.Parse(p)
	if err != nil {
		return fmt.Errorf("%w: core asset %q: %v", core.ErrInvalidConfig, p, err)
	}
	if u.Fragment != "" {
		return fmt.Errorf("%w: core asset %q must not carry a fragment", core.ErrInvalidConfig, p)
	}
	return nil
}
