// Package cmd defines the CLI commands for the storefront-crawler executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newRootCmd creates the root command. Each invocation gets its own Viper
// instance so tests can build commands independently.
func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "storefront-crawler",
		Short: "Crawl storefront catalogs into per-variant product records.",
		Long: `storefront-crawler discovers the sitemaps of storefront domains through
robots.txt, walks their product sitemaps and normalizes every product variant
into a flat output record.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "input file (JSON or YAML)")
	cmd.AddCommand(newCrawlCmd(v, &cfgFile))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
