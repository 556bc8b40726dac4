// Package cmd provides the CLI commands for webfront.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "webfront",
	Short: "webfront - minimal web front end with structured request logging",
	Long: `webfront serves a small web front end. Every request gets a request ID
and a correlation ID, is logged when it starts and when it completes, and
unhandled errors are answered with a uniform JSON body.

Configuration:
  Config is loaded from webfront.yaml in the current directory,
  $HOME/.webfront/, or /etc/webfront/.

  Environment variables override config values with the WEBFRONT_ prefix.
  Example: WEBFRONT_ENV=development WEBFRONT_SERVER_ADDR=:8080

Commands:
  serve       Start the HTTP server
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./webfront.yaml)")
}
