package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/droverd/drover/pkg/api"
	"github.com/droverd/drover/pkg/types"
)

var (
	submitName     string
	submitPriority int
	submitEnv      []string
	submitLabels   []string
	submitDir      string
	submitTimeout  string
	submitWait     bool
)

var submitCmd = &cobra.Command{
	Use:   "submit PATH [ARGS...]",
	Short: "Submit a local job",
	Long: `Submit a command to the manager's local job scheduler.

The job is queued by priority and runs as a supervised process on the
manager host once a slot frees up.

Examples:
  # Run a backup at high priority
  drover submit --name backup --priority 80 -- /usr/local/bin/backup.sh

  # Bounded run with environment overrides
  drover submit --timeout 5m --env REGION=eu -- /opt/etl/ingest --full`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := parseKeyValues(submitEnv, "env")
		if err != nil {
			return err
		}
		labels, err := parseKeyValues(submitLabels, "label")
		if err != nil {
			return err
		}

		ctx, cancel := apiContext()
		defer cancel()

		job, err := apiClient().SubmitJob(ctx, api.SubmitJobRequest{
			Name:     submitName,
			Path:     args[0],
			Args:     args[1:],
			Env:      env,
			Dir:      submitDir,
			Timeout:  submitTimeout,
			Priority: submitPriority,
			Labels:   labels,
		})
		if err != nil {
			return fmt.Errorf("failed to submit job: %w", err)
		}

		fmt.Printf("✓ Job submitted: %s (status=%s, priority=%d)\n", job.ID, job.Status, job.Priority)
		if !submitWait {
			return nil
		}
		return waitForJob(job.ID)
	},
}

// waitForJob polls until the job reaches a terminal state, then prints its
// output and mirrors the exit code.
func waitForJob(jobID string) error {
	for {
		time.Sleep(500 * time.Millisecond)

		ctx, cancel := apiContext()
		job, err := apiClient().GetJob(ctx, jobID)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to poll job: %w", err)
		}
		if !job.Status.IsTerminal() {
			continue
		}

		os.Stdout.Write(job.Stdout)
		os.Stderr.Write(job.Stderr)
		if job.Status != types.JobStatusCompleted {
			if job.Error != "" {
				fmt.Fprintf(os.Stderr, "job %s: %s\n", job.Status, job.Error)
			}
			os.Exit(exitCodeFor(job))
		}
		return nil
	}
}

func exitCodeFor(job *types.Job) int {
	if job.ExitCode != nil && *job.ExitCode > 0 {
		return *job.ExitCode
	}
	return 1
}

var jobsStatus string

var jobsCmd = &cobra.Command{
	Use:   "jobs [JOB_ID]",
	Short: "List jobs or show one",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext()
		defer cancel()

		if len(args) == 1 {
			job, err := apiClient().GetJob(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get job: %w", err)
			}
			printJob(job)
			return nil
		}

		jobs, err := apiClient().ListJobs(ctx, jobsStatus)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		_, _ = fmt.Fprint(w, "ID\tNAME\tSTATUS\tPRIORITY\tPID\tRUNS\tAGE\n")
		for _, job := range jobs {
			pid := "-"
			if job.PID != 0 {
				pid = fmt.Sprintf("%d", job.PID)
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\t%s\n",
				job.ID, job.Name, job.Status, job.Priority, pid,
				job.ExecutionCount, formatAge(time.Since(job.CreatedAt)))
		}
		_ = w.Flush()
		return nil
	},
}

func printJob(job *types.Job) {
	fmt.Println("Job Details:")
	fmt.Printf("  ID:        %s\n", job.ID)
	fmt.Printf("  Name:      %s\n", job.Name)
	fmt.Printf("  Status:    %s\n", job.Status)
	fmt.Printf("  Priority:  %d\n", job.Priority)
	fmt.Printf("  Command:   %s %v\n", job.Spec.Path, job.Spec.Args)
	if job.Spec.Dir != "" {
		fmt.Printf("  Directory: %s\n", job.Spec.Dir)
	}
	if job.Spec.Timeout > 0 {
		fmt.Printf("  Timeout:   %s\n", job.Spec.Timeout)
	}
	if job.PID != 0 {
		fmt.Printf("  PID:       %d\n", job.PID)
	}
	if job.ExitCode != nil {
		fmt.Printf("  Exit Code: %d\n", *job.ExitCode)
	}
	if job.Error != "" {
		fmt.Printf("  Error:     %s\n", job.Error)
	}
	fmt.Printf("  Runs:      %d\n", job.ExecutionCount)
	fmt.Printf("  Created:   %s\n", job.CreatedAt.Format(time.RFC3339))
	if !job.StartedAt.IsZero() {
		fmt.Printf("  Started:   %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if !job.FinishedAt.IsZero() {
		fmt.Printf("  Finished:  %s\n", job.FinishedAt.Format(time.RFC3339))
	}
	if len(job.Labels) > 0 {
		fmt.Println("\nLabels:")
		for k, v := range job.Labels {
			fmt.Printf("  %s=%s\n", k, v)
		}
	}
}

var cancelCmd = &cobra.Command{
	Use:   "cancel JOB_ID",
	Short: "Cancel a job",
	Long: `Cancel a queued or running job.

A queued job is dropped; a running one gets an interrupt signal and, after a
short grace period, a kill. Cancelling a finished job is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext()
		defer cancel()

		job, err := apiClient().CancelJob(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to cancel job: %w", err)
		}
		fmt.Printf("✓ Job %s: %s\n", job.ID, job.Status)
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs JOB_ID",
	Short: "Print a job's captured output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext()
		defer cancel()

		job, err := apiClient().GetJob(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}
		if job.Status == types.JobStatusPending {
			return fmt.Errorf("job has not started yet")
		}

		os.Stdout.Write(job.Stdout)
		if job.StdoutTruncated {
			fmt.Fprintln(os.Stderr, "(stdout truncated)")
		}
		os.Stderr.Write(job.Stderr)
		if job.StderrTruncated {
			fmt.Fprintln(os.Stderr, "(stderr truncated)")
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitName, "name", "", "Job name")
	submitCmd.Flags().IntVar(&submitPriority, "priority", 0, "Priority (higher runs first)")
	submitCmd.Flags().StringArrayVar(&submitEnv, "env", nil, "Environment override KEY=VALUE (repeatable)")
	submitCmd.Flags().StringArrayVar(&submitLabels, "label", nil, "Label KEY=VALUE (repeatable)")
	submitCmd.Flags().StringVar(&submitDir, "dir", "", "Working directory")
	submitCmd.Flags().StringVar(&submitTimeout, "timeout", "", "Execution time limit (e.g. 30s, 5m)")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "Wait for completion and print output")

	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status (pending, running, completed, failed, cancelled)")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(logsCmd)
}
