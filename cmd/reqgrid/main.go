// Command reqgrid serves a filterable, faceted view over HTTP request logs.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/reqgrid/reqgrid/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Global flags
var (
	configFile string
	dataDir    string
	sourcePath string
	sourceType string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reqgrid",
	Short: "reqgrid - filter, facet and chart HTTP request logs",
	Long: `reqgrid loads HTTP request logs from a JSON access log, a SQLite table or an
object store prefix and answers filter, facet, chart and percentile queries.

Configuration is layered: defaults, then the --config file, then REQGRID_*
environment variables, then command line flags.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("reqgrid version %s (commit: %s)\n", version, commit)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "Path to configuration file (YAML or JSON)")
	pf.StringVar(&dataDir, "data-dir", "", "Base directory for caches and temporary files")
	pf.StringVarP(&sourcePath, "source", "s", "", "Log file or SQLite database to load")
	pf.StringVar(&sourceType, "source-type", "", "Source type: file, sqlite, or objects")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig applies the configuration layers. apply sets command-specific
// flags last.
func loadConfig(apply func(cfg *config.Config)) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}
	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if sourcePath != "" {
		cfg.Source.Path = sourcePath
	}
	if sourceType != "" {
		cfg.Source.Type = sourceType
	}
	if apply != nil {
		apply(cfg)
	}
	return cfg, nil
}

func printBanner(cfg *config.Config) {
	log.Printf("reqgrid %s", version)
	location := cfg.Source.Path
	if cfg.Source.Type == config.SourceObjects {
		location = cfg.Source.Prefix
	}
	log.Printf("  Source:   %s %s", cfg.Source.Type, location)
	log.Printf("  Storage:  %s", cfg.Storage.Type)
	log.Printf("  HTTP:     %s", cfg.HTTP.Addr)
	if cfg.GRPC.Enabled {
		log.Printf("  gRPC:     %s", cfg.GRPC.Addr)
	}
	log.Printf("  Tracing:  %s", cfg.Telemetry.Exporter)
}
