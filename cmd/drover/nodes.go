package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/droverd/drover/pkg/types"
)

var nodesStatus string

var nodesCmd = &cobra.Command{
	Use:   "nodes [NODE_ID]",
	Short: "List worker nodes or show one",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext()
		defer cancel()

		c := apiClient()
		if len(args) == 1 {
			node, err := c.GetNode(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get node: %w", err)
			}
			printNode(node)

			tasks, err := c.NodeTasks(ctx, node.ID)
			if err == nil && len(tasks) > 0 {
				fmt.Println("\nActive Tasks:")
				for _, task := range tasks {
					fmt.Printf("  %s  %s (%s)\n", task.ID, task.Name, task.Status)
				}
			}
			return nil
		}

		nodes, err := c.ListNodes(ctx, nodesStatus)
		if err != nil {
			return fmt.Errorf("failed to list nodes: %w", err)
		}
		if len(nodes) == 0 {
			fmt.Println("No worker nodes registered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		_, _ = fmt.Fprint(w, "ID\tNAME\tSTATUS\tLOAD\tCPU\tMEM\tLAST HEARTBEAT\n")
		for _, node := range nodes {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%.0f%%\t%.0f%%\t%s ago\n",
				node.ID, node.Name, node.Status,
				node.CurrentLoad, node.MaxConcurrentTasks,
				node.Metrics.CPUUsage*100, node.Metrics.MemoryUsage*100,
				formatAge(time.Since(node.LastHeartbeat)))
		}
		_ = w.Flush()
		return nil
	},
}

func printNode(node *types.Node) {
	fmt.Println("Node Details:")
	fmt.Printf("  ID:           %s\n", node.ID)
	fmt.Printf("  Name:         %s\n", node.Name)
	if node.Address != "" {
		fmt.Printf("  Address:      %s\n", node.Address)
	}
	fmt.Printf("  Status:       %s\n", node.Status)
	fmt.Printf("  Capabilities: %v\n", node.Capabilities)
	fmt.Printf("  Load:         %d/%d tasks\n", node.CurrentLoad, node.MaxConcurrentTasks)
	fmt.Printf("  CPU:          %.1f%%\n", node.Metrics.CPUUsage*100)
	fmt.Printf("  Memory:       %.1f%%\n", node.Metrics.MemoryUsage*100)
	fmt.Printf("  Disk:         %.1f%%\n", node.Metrics.DiskUsage*100)
	fmt.Printf("  Network:      %.1f Mbps\n", node.Metrics.NetworkMbps)
	fmt.Printf("  Heartbeat:    %s ago\n", formatAge(time.Since(node.LastHeartbeat)))
	fmt.Printf("  Registered:   %s\n", node.CreatedAt.Format(time.RFC3339))
	if len(node.Labels) > 0 {
		fmt.Println("\nLabels:")
		for k, v := range node.Labels {
			fmt.Printf("  %s=%s\n", k, v)
		}
	}
}

var drainRemove bool

var drainCmd = &cobra.Command{
	Use:   "drain NODE_ID",
	Short: "Drain a node for maintenance",
	Long: `Move a node to maintenance and requeue its active tasks.

Requeued tasks keep their retry budget and are placed on other nodes by the
dispatcher. With --remove the node is deregistered after draining.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext()
		defer cancel()

		c := apiClient()
		resp, err := c.DrainNode(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to drain node: %w", err)
		}
		fmt.Printf("✓ Node %s draining: %d task(s) requeued\n", resp.NodeID, resp.Rescheduled)

		if drainRemove {
			if err := c.RemoveNode(ctx, resp.NodeID); err != nil {
				return fmt.Errorf("failed to remove node: %w", err)
			}
			fmt.Printf("✓ Node %s removed\n", resp.NodeID)
		}
		return nil
	},
}

func init() {
	nodesCmd.Flags().StringVar(&nodesStatus, "status", "", "Filter by status (available, busy, offline, failed, maintenance)")
	drainCmd.Flags().BoolVar(&drainRemove, "remove", false, "Deregister the node after draining")

	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(drainCmd)
}
