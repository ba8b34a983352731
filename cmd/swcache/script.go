package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cryguy/swcache/internal/swscript"
)

func newScriptCmd(a *app) *cobra.Command {
	var (
		minify bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "script",
		Short: "Print the browser service worker for the configured cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(a.v)
			if err != nil {
				return err
			}
			cfg, err := s.workerConfig()
			if err != nil {
				return err
			}
			src, err := swscript.Build(cfg, minify)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(src)
				return err
			}
			if err := os.WriteFile(output, src, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&minify, "minify", false, "minify the script")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}
