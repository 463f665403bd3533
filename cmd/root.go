package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shopmesh/ordering-service/cmd/worker"
)

var (
	cfgPath  string
	logLevel string
	rootCmd  = &cobra.Command{
		Use:   "ordering-service",
		Short: "Event-driven order fulfillment service",
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(worker.NewWorkerCmd())
}
