package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var versionString = "dev"

// globalOptions are the persistent flags shared by every subcommand
type globalOptions struct {
	configPath string
	engine     string
	redisURL   string
	sqlitePath string
	bootstrap  string
	timeout    time.Duration
	verbose    bool
}

// NewRootCmd builds the command tree. Each call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "dhtc",
		Short: "dhtc - event-driven DHT client",
		Long: `dhtc drives a DHT engine through its connect, search, publish and
disconnect lifecycle.

Engines:
  memory - in-process network, useful for trying the client out
  redis  - nodes sharing a Redis server (peer set plus per-index hashes)
  sqlite - a single node persisting entries and contacts in SQLite

Configuration is read from dhtc.yml in the working directory when present.`,
		Version: versionString,
		// Prevent silent success when unknown flags are passed to the root command
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		FParseErrWhitelist: cobra.FParseErrWhitelist{},
		SilenceErrors:      true,
		SilenceUsage:       true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to dhtc.yml (default: ./dhtc.yml when present)")
	flags.StringVar(&opts.engine, "engine", "", "Engine kind: memory, redis or sqlite")
	flags.StringVar(&opts.redisURL, "redis-url", "", "Redis seed URL for the redis engine")
	flags.StringVar(&opts.sqlitePath, "sqlite-path", "", "Database file for the sqlite engine")
	flags.StringVar(&opts.bootstrap, "bootstrap", "", "Bootstrap contact file")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Overall deadline for one-shot commands")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log client and engine activity to stderr")

	rootCmd.AddCommand(
		newFindCmd(opts),
		newStoreCmd(opts),
		newServeCmd(opts),
		newDigestCmd(),
		newInitCmd(),
	)
	return rootCmd
}

// Execute runs the command tree. This is called by main.main().
func Execute() error {
	return NewRootCmd().Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	versionString = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}
