package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cryguy/swcache/internal/cachestore"
)

func newCachesCmd(a *app) *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "caches",
		Short: "List the cache buckets in the SQLite store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(a.v)
			if err != nil {
				return err
			}
			db, err := cachestore.OpenSQLite(s.DataDir)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			ctx := cmd.Context()
			names, err := db.Keys(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tENTRIES\tSTATUS")
			for _, name := range names {
				cache, err := db.Open(ctx, name)
				if err != nil {
					return err
				}
				keys, err := cache.Keys(ctx)
				if err != nil {
					return err
				}
				status := "stale"
				switch {
				case name == s.CacheName:
					status = "current"
				case prune:
					if _, err := db.Delete(ctx, name); err != nil {
						return fmt.Errorf("deleting cache %q: %w", name, err)
					}
					status = "deleted"
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", name, len(keys), status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "delete every bucket but the current one")
	return cmd
}
