package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries state shared by every subcommand of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
}

func newRootCmd() *cobra.Command {
	a := &app{v: newViper()}

	root := &cobra.Command{
		Use:          "swcache",
		Short:        "Cache-first offline worker for the coffee-review app",
		Long:         `swcache precaches the app's core assets, serves them cache-first in front of the origin, and emits the equivalent browser service worker.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return readConfigFile(a.v, a.cfgFile)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "YAML config file")
	pf.String("cache-name", "", "cache version identifier")
	pf.StringSlice("core-asset", nil, "core asset path to precache (repeatable, replaces the default list)")
	pf.String("origin", "", "origin base URL, e.g. http://localhost:8000")
	pf.String("data-dir", "", "directory holding the SQLite cache store")
	pf.String("store", "", "cache store: sqlite or memory")
	pf.String("log-level", "", "log level: trace, debug, info, warn, error")
	pf.String("log-format", "", "log format: standard or json")
	pf.Duration("fetch-timeout", 0, "timeout for a single origin fetch")
	pf.Int64("max-response-bytes", 0, "largest origin response body accepted")
	for key, flag := range map[string]string{
		"cache_name":         "cache-name",
		"core_assets":        "core-asset",
		"origin":             "origin",
		"data_dir":           "data-dir",
		"store":              "store",
		"log_level":          "log-level",
		"log_format":         "log-format",
		"fetch_timeout":      "fetch-timeout",
		"max_response_bytes": "max-response-bytes",
	} {
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(
		newServeCmd(a),
		newScriptCmd(a),
		newAuditCmd(a),
		newCachesCmd(a),
	)
	return root
}
