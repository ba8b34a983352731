package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cryguy/swcache/internal/audit"
)

var errAuditFailed = errors.New("core asset audit failed")

func newAuditCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Check that core pages only load precached subresources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(a.v)
			if err != nil {
				return err
			}
			if err := s.requireOrigin(); err != nil {
				return err
			}
			cfg, err := s.workerConfig()
			if err != nil {
				return err
			}
			fetcher, err := s.fetcher(true)
			if err != nil {
				return err
			}
			rep, err := audit.Run(cmd.Context(), fetcher, cfg, s.Origin+"/")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, p := range rep.Failed {
				fmt.Fprintf(out, "unavailable\t%s\n", p)
			}
			for _, m := range rep.Missing {
				fmt.Fprintf(out, "not precached\t%s\t(from %s)\n", m.Path, m.From)
			}
			fmt.Fprintf(out, "%d pages inspected, %d unavailable, %d not precached\n",
				rep.Pages, len(rep.Failed), len(rep.Missing))
			if !rep.OK() {
				return errAuditFailed
			}
			return nil
		},
	}
}
