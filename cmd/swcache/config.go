package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/viper"

	"github.com/cryguy/swcache"
	"github.com/cryguy/swcache/internal/netfetch"
)

// settings is the merged configuration: flags over SWCACHE_* environment
// variables over the YAML file over defaults.
type settings struct {
	CacheName        string        `mapstructure:"cache_name"`
	CoreAssets       []string      `mapstructure:"core_assets"`
	Origin           string        `mapstructure:"origin"`
	Listen           string        `mapstructure:"listen"`
	DataDir          string        `mapstructure:"data_dir"`
	Store            string        `mapstructure:"store"`
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes"`
}

const (
	storeSQLite = "sqlite"
	storeMemory = "memory"
)

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SWCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("cache_name", swcache.DefaultCacheName)
	v.SetDefault("core_assets", swcache.DefaultConfig().CoreAssets())
	v.SetDefault("origin", "")
	v.SetDefault("listen", ":8080")
	v.SetDefault("data_dir", ".swcache")
	v.SetDefault("store", storeSQLite)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "standard")
	v.SetDefault("fetch_timeout", time.Duration(0))
	v.SetDefault("max_response_bytes", int64(netfetch.DefaultMaxResponseBytes))
	return v
}

func readConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	return nil
}

func loadSettings(v *viper.Viper) (settings, error) {
	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return settings{}, fmt.Errorf("decoding config: %w", err)
	}
	s.Origin = strings.TrimRight(s.Origin, "/")
	switch s.Store {
	case storeSQLite, storeMemory:
	default:
		return settings{}, fmt.Errorf("unknown store %q (want %s or %s)", s.Store, storeSQLite, storeMemory)
	}
	switch s.LogFormat {
	case "standard", "json":
	default:
		return settings{}, fmt.Errorf("unknown log format %q (want standard or json)", s.LogFormat)
	}
	if hclog.LevelFromString(s.LogLevel) == hclog.NoLevel {
		return settings{}, fmt.Errorf("unknown log level %q", s.LogLevel)
	}
	return s, nil
}

func (s settings) workerConfig() (swcache.Config, error) {
	return swcache.NewConfig(s.CacheName, s.CoreAssets)
}

func (s settings) requireOrigin() error {
	if s.Origin == "" {
		return fmt.Errorf("origin is required (--origin or SWCACHE_ORIGIN)")
	}
	return nil
}

// fetcher builds the origin client. The worker path passes redirects through
// to the browser; the audit follows them to reach the page.
func (s settings) fetcher(followRedirects bool) (*netfetch.Client, error) {
	return netfetch.New(netfetch.Options{
		BaseURL:          s.Origin,
		Timeout:          s.FetchTimeout,
		MaxResponseBytes: s.MaxResponseBytes,
		FollowRedirects:  followRedirects,
	})
}

func (s settings) logger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "swcache",
		Level:      hclog.LevelFromString(s.LogLevel),
		JSONFormat: s.LogFormat == "json",
		Output:     os.Stderr,
	})
}
