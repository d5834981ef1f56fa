package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var tokenRotate bool

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the cluster join token",
	Long: `Print the join token agents need to register.

With --rotate a fresh token is generated first; nodes already registered
stay registered, but new registrations must present the new token.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext()
		defer cancel()

		c := apiClient()
		if tokenRotate {
			token, err := c.RotateJoinToken(ctx)
			if err != nil {
				return fmt.Errorf("failed to rotate join token: %w", err)
			}
			fmt.Println(token)
			return nil
		}

		token, err := c.JoinToken(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch join token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cluster health and workload counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext()
		defer cancel()

		c := apiClient()
		health, err := c.Healthz(ctx)
		if err != nil {
			return fmt.Errorf("failed to reach manager: %w", err)
		}
		summary, err := c.ClusterSummary(ctx)
		if err != nil {
			return fmt.Errorf("failed to get cluster summary: %w", err)
		}

		fmt.Printf("Cluster:  %s\n", health.Status)
		fmt.Printf("Version:  %s\n", health.Version)
		fmt.Printf("Uptime:   %s\n", health.Uptime)
		fmt.Println()
		fmt.Println("Nodes:")
		if len(summary.Nodes) == 0 {
			fmt.Println("  none registered")
		} else {
			statuses := make([]string, 0, len(summary.Nodes))
			for status := range summary.Nodes {
				statuses = append(statuses, status)
			}
			sort.Strings(statuses)
			for _, status := range statuses {
				fmt.Printf("  %-12s %d\n", status, summary.Nodes[status])
			}
		}
		fmt.Println()
		fmt.Println("Workload:")
		fmt.Printf("  running jobs   %d\n", summary.RunningJobs)
		fmt.Printf("  queued jobs    %d\n", summary.QueuedJobs)
		fmt.Printf("  pending tasks  %d\n", summary.PendingTasks)
		fmt.Printf("  active tasks   %d\n", summary.ActiveTasks)
		return nil
	},
}

func init() {
	tokenCmd.Flags().BoolVar(&tokenRotate, "rotate", false, "Generate a new join token")

	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(statusCmd)
}
