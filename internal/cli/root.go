// Package cli implements demux's command-line entrypoint, grounded on
// the teacher's internal/cli/root.go: a single cobra.Command loading
// config, standing up logging, and running the App until signaled.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/chainflux/demux/internal/app"
	"github.com/chainflux/demux/internal/config"
	"github.com/chainflux/demux/internal/logging"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "demux",
	Short: "Demux chain indexing service",
	Long:  "demux deterministically indexes an append-only, reorg-capable blockchain into a queryable datastore.",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

// registrar supplies the updater/effect registrations for the
// configured chains. demux is a pattern, not a concrete product, so
// the binary's caller supplies domain logic via Execute.
var registrar app.Registrar

// Execute runs the root command with reg wired in as the chain
// updater/effect source, exiting the process on error.
func Execute(reg app.Registrar) {
	registrar = reg
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if isDebug {
		level = "debug"
	}
	log := logging.New(logging.Options{Level: level, Format: cfg.Logging.Format})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, *cfg, registrar, log)
	if err != nil {
		log.Error("failed to initialize app", "error", err)
		return err
	}

	if err := a.Start(ctx); err != nil {
		log.Error("failed to start app", "error", err)
		return err
	}
	log.Info("demux started", "config", cfgPath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("received signal, shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := a.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", "error", err)
		return err
	}
	log.Info("demux stopped gracefully")
	return nil
}
