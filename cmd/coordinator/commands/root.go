package commands

import (
	"github.com/spf13/cobra"

	"github.com/coralsys/meshactor/internal/build"
)

var (
	// envPath is the .env file loaded on top of MESHACTOR_* environment
	// variables before the coordinator starts.
	envPath string

	logDir         string
	maxLogFiles    int
	maxLogFileSize int
)

// rootCmd is the coordinator daemon's base command: running it with no
// subcommand starts the shard-allocation authority and blocks until
// signalled. Per the non-goal that leader election is supplied externally,
// exactly one coordinator process runs per cluster; this binary does not
// elect or replicate itself.
var rootCmd = &cobra.Command{
	Use:   "meshactor-coordinator",
	Short: "Run the cluster's shard-allocation authority",
	Long: `meshactor-coordinator answers AllocateShard requests from every
node's ShardHost, placing shards over the live node set by rendezvous hash.
It hosts no application entities itself.`,
	RunE: runCoordinator,
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
