package commands

import (
	"github.com/spf13/cobra"

	"github.com/coralsys/meshactor/internal/build"
)

var (
	// envPath is the .env file loaded on top of MESHACTOR_* environment
	// variables before the node starts.
	envPath string

	// logDir, if non-empty, enables rotating file logging alongside the
	// console.
	logDir string

	maxLogFiles    int
	maxLogFileSize int
)

// rootCmd is the node daemon's base command: running it with no subcommand
// starts the node and blocks until signalled.
var rootCmd = &cobra.Command{
	Use:   "meshactor-node",
	Short: "Run a meshactor cluster node",
	Long: `meshactor-node hosts the local actor runtime, the remote session
transport, and a shard host, joining a cluster via statically configured
seed addresses and/or Consul-backed discovery.`,
	RunE: runNode,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&envPath, "env", ".env",
		"Path to a .env file of MESHACTOR_* overrides",
	)
	rootCmd.PersistentFlags().StringVar(
		&logDir, "log-dir", "",
		"Directory for rotated log files (empty disables file logging)",
	)
	rootCmd.PersistentFlags().IntVar(
		&maxLogFiles, "max-log-files", build.DefaultMaxLogFiles,
		"Maximum number of rotated log files to keep",
	)
	rootCmd.PersistentFlags().IntVar(
		&maxLogFileSize, "max-log-file-size", build.DefaultMaxLogFileSize,
		"Maximum log file size in MB before rotation",
	)

	rootCmd.AddCommand(versionCmd)
}
