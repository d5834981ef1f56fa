package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/droverd/drover/pkg/api"
	"github.com/droverd/drover/pkg/config"
	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/manager"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the Drover manager and API server",
	Long: `Run the Drover manager on this host.

The daemon owns cluster state: it schedules local jobs by priority, tracks
worker nodes and tasks, monitors heartbeats, reschedules work off failed
nodes and serves the REST API that agents and this CLI talk to.

Configuration is read from --config (defaults apply when the file is
missing) and reloaded on change; scheduler concurrency and log level apply
live, loop intervals on restart.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().String("config", "/etc/drover/drover.yaml", "Configuration file")
	daemonCmd.Flags().String("listen", "", "Override the API listen address")
	daemonCmd.Flags().String("data-dir", "", "Override the state directory")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Listen = listen
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	level, _ := log.ParseLevel(cfg.Log.Level)
	log.Init(log.Config{Level: level, JSONOutput: cfg.Log.JSON})

	fmt.Println("Starting Drover manager...")
	fmt.Printf("  API Address:    %s\n", cfg.Listen)
	fmt.Printf("  Data Directory: %s\n", cfg.DataDir)
	fmt.Println()

	mgr, err := manager.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create manager: %v", err)
	}
	if err := mgr.Start(); err != nil {
		return fmt.Errorf("failed to start manager: %v", err)
	}
	fmt.Println("✓ Manager started")
	fmt.Printf("  Join token: %s\n", mgr.JoinToken())

	// Hot reload: scheduler concurrency and log level apply immediately.
	watcher, err := config.Watch(cfgPath, mgr.ApplyConfig)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("config watch disabled")
	} else {
		defer watcher.Stop()
	}

	// Start API server in background
	apiServer := api.NewServer(mgr)
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(cfg.Listen); err != nil {
			errCh <- fmt.Errorf("API server error: %v", err)
		}
	}()
	fmt.Printf("✓ API listening on %s\n", cfg.Listen)

	fmt.Println()
	fmt.Println("Manager is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal or API server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	// Shutdown: stop accepting requests first, then the components.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "API shutdown error: %v\n", err)
	}
	if err := mgr.Stop(); err != nil {
		return fmt.Errorf("failed to shutdown: %v", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}
