package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/droverd/drover/pkg/agent"
	"github.com/droverd/drover/pkg/client"
	"github.com/droverd/drover/pkg/config"
	"github.com/droverd/drover/pkg/log"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a worker agent on this host",
	Long: `Enroll this host as a worker node and execute assigned tasks.

The agent registers with the manager using the cluster join token, then
heartbeats with sampled host metrics and polls for task assignments. Each
task runs as a supervised local process; results are reported back and the
agent re-registers automatically if the manager forgets it.`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().String("config", "/etc/drover/drover.yaml", "Configuration file")
	agentCmd.Flags().String("token", "", "Cluster join token (overrides config)")
	agentCmd.Flags().String("name", "", "Node name (defaults to hostname)")
	agentCmd.Flags().String("address", "", "Advertised node address")
	agentCmd.Flags().Int("max-tasks", 0, "Concurrent task cap (overrides config)")
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = cfg.JoinToken
	}
	if token == "" {
		return fmt.Errorf("a join token is required (--token or join_token in config)")
	}
	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = cfg.Agent.Name
	}
	if name == "" {
		name, _ = os.Hostname()
	}
	address, _ := cmd.Flags().GetString("address")
	maxTasks, _ := cmd.Flags().GetInt("max-tasks")
	if maxTasks == 0 {
		maxTasks = cfg.Agent.MaxTasks
	}
	if rootCmd.PersistentFlags().Changed("server") {
		cfg.Agent.Server = serverURL
	}

	level, _ := log.ParseLevel(cfg.Log.Level)
	log.Init(log.Config{Level: level, JSONOutput: cfg.Log.JSON})

	a, err := agent.New(agent.Config{
		Client:            client.New(cfg.Agent.Server),
		Token:             token,
		Name:              name,
		Address:           address,
		Capabilities:      cfg.AgentCapabilities(),
		MaxTasks:          maxTasks,
		HeartbeatInterval: cfg.Agent.HeartbeatInterval.Std(),
		PollInterval:      cfg.Agent.PollInterval.Std(),
	})
	if err != nil {
		return fmt.Errorf("failed to create agent: %v", err)
	}

	fmt.Println("Starting Drover agent...")
	fmt.Printf("  Manager:   %s\n", cfg.Agent.Server)
	fmt.Printf("  Node name: %s\n", name)
	fmt.Println()

	if err := a.Start(); err != nil {
		return fmt.Errorf("failed to start agent: %v", err)
	}
	fmt.Printf("✓ Registered as node %s\n", a.NodeID())
	fmt.Println()
	fmt.Println("Agent is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	a.Stop()
	fmt.Println("✓ Shutdown complete")
	return nil
}
