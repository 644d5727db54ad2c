package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fmcglinn/ring-exporter/pkg/config"
	"github.com/fmcglinn/ring-exporter/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ring-exporter",
	Short:   "NLNOG Ring reachability exporter",
	Long:    `ring-exporter fans out ping probes from NLNOG Ring nodes over persistent SSH control channels and serves the results as Prometheus metrics and JSON.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ring-exporter version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error) — overrides LOG_LEVEL")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	registerServeFlags(serveCmd)
}

func initLogging() {
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	if level == "" {
		level = config.FromEnv(config.Default()).LogLevel
	}

	log.Init(log.Config{
		Level:      log.Level(strings.ToLower(level)),
		JSONOutput: logJSON,
	})
}
