// Package cli provides the command-line interface for grantwatch.
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

// DefaultConfigDir is used when --config is not given.
const DefaultConfigDir = ".grantwatch"

var configDir string

var rootCmd = &cobra.Command{
	Use:   "grantwatch",
	Short: "Watch grant announcement pages and post new entries to chat",
	Long: "grantwatch scrapes a configured list of public-sector and institutional pages, " +
		"drops links it has already announced, and posts the new ones to a Discord webhook.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("grantwatch %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", DefaultConfigDir, "config directory")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExitError carries a process exit status. An ExitError with a nil Err
// exits quietly.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an Execute error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}
