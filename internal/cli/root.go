package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "orkestra",
	Short: "Orkestra - agent and workflow orchestration",
	Long: `Orkestra runs LLM agents with bounded tool-calling loops and executes
workflow graphs with branching, parallel fan-out, and durable approval gates.
Every run leaves a persistent, step-by-step audit trail.`,
	Version: version,

	// Runtime failures are reported once by main; cobra's own echo and the
	// usage dump would just bury them.
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. main is the only caller.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.orkestra/orkestra.json)")
	pf.StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd exposes the root command for tests.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the build version.
func GetVersion() string {
	return version
}
