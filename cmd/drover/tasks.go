package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/droverd/drover/pkg/client"
	"github.com/droverd/drover/pkg/types"
)

var tasksStatus string

var tasksCmd = &cobra.Command{
	Use:   "tasks [TASK_ID]",
	Short: "List cluster tasks or show one",
	Long: `List tasks dispatched to worker nodes, or show one task in detail.

Tasks are created from manifests (drover apply) and placed on the least
loaded eligible node; a task's detail view includes its recorded result
once it finishes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext()
		defer cancel()

		c := apiClient()
		if len(args) == 1 {
			task, err := c.GetTask(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get task: %w", err)
			}
			printTask(c, task)
			return nil
		}

		tasks, err := c.ListTasks(ctx, tasksStatus)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		_, _ = fmt.Fprint(w, "ID\tNAME\tPRIORITY\tSTATUS\tNODE\tRETRIES\tAGE\n")
		for _, task := range tasks {
			node := task.NodeID
			if node == "" {
				node = "-"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				task.ID, task.Name, task.Priority, task.Status, node,
				task.RetryCount, formatAge(time.Since(task.CreatedAt)))
		}
		_ = w.Flush()
		return nil
	},
}

func printTask(c *client.Client, task *types.Task) {
	fmt.Println("Task Details:")
	fmt.Printf("  ID:        %s\n", task.ID)
	fmt.Printf("  Name:      %s\n", task.Name)
	fmt.Printf("  Priority:  %s\n", task.Priority)
	fmt.Printf("  Status:    %s\n", task.Status)
	fmt.Printf("  Command:   %s %v\n", task.Spec.Path, task.Spec.Args)
	if len(task.Required) > 0 {
		fmt.Printf("  Requires:  %v\n", task.Required)
	}
	if task.NodeID != "" {
		fmt.Printf("  Node:      %s\n", task.NodeID)
	}
	fmt.Printf("  Retries:   %d\n", task.RetryCount)
	if task.Error != "" {
		fmt.Printf("  Error:     %s\n", task.Error)
	}
	fmt.Printf("  Created:   %s\n", task.CreatedAt.Format(time.RFC3339))
	if !task.AssignedAt.IsZero() {
		fmt.Printf("  Assigned:  %s\n", task.AssignedAt.Format(time.RFC3339))
	}
	if !task.StartedAt.IsZero() {
		fmt.Printf("  Started:   %s\n", task.StartedAt.Format(time.RFC3339))
	}
	if !task.FinishedAt.IsZero() {
		fmt.Printf("  Finished:  %s\n", task.FinishedAt.Format(time.RFC3339))
	}

	if !task.Status.IsTerminal() {
		return
	}
	ctx, cancel := apiContext()
	defer cancel()
	result, err := c.GetTaskResult(ctx, task.ID)
	if err != nil {
		return // canceled before running leaves no result
	}
	fmt.Println("\nResult:")
	fmt.Printf("  Node:      %s\n", result.NodeID)
	fmt.Printf("  Exit Code: %d\n", result.ExitCode)
	if result.Error != "" {
		fmt.Printf("  Error:     %s\n", result.Error)
	}
}

var retryCmd = &cobra.Command{
	Use:   "retry TASK_ID",
	Short: "Requeue a finished task",
	Long: `Requeue a failed or canceled task for a fresh run.

The retry counter is reset, so the task gets a full failover budget again.
Pending or running tasks cannot be retried.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext()
		defer cancel()

		task, err := apiClient().RetryTask(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to retry task: %w", err)
		}
		fmt.Printf("✓ Task %s requeued (status=%s)\n", task.ID, task.Status)
		return nil
	},
}

func init() {
	tasksCmd.Flags().StringVar(&tasksStatus, "status", "", "Filter by status (pending, assigned, running, completed, failed, canceled)")

	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(retryCmd)
}
