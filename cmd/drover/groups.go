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

var groupsCmd = &cobra.Command{
	Use:   "groups [GROUP]",
	Short: "Manage job groups",
	Long: `List job groups, or show one by id or name.

Groups batch related jobs under shared metadata: a clamped priority,
free-form tags, advisory resource limits and an optional expiry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext()
		defer cancel()

		if len(args) == 1 {
			group, err := apiClient().GetGroup(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get group: %w", err)
			}
			printGroup(group)
			return nil
		}

		groups, err := apiClient().ListGroups(ctx)
		if err != nil {
			return fmt.Errorf("failed to list groups: %w", err)
		}
		if len(groups) == 0 {
			fmt.Println("No groups found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		_, _ = fmt.Fprint(w, "ID\tNAME\tPRIORITY\tJOBS\tEXPIRES\tAGE\n")
		for _, group := range groups {
			expires := "-"
			if group.ExpiresAt != nil {
				expires = group.ExpiresAt.Format(time.RFC3339)
				if group.IsExpired() {
					expires += " (expired)"
				}
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
				group.ID, group.Name, group.Priority, len(group.JobIDs),
				expires, formatAge(time.Since(group.CreatedAt)))
		}
		_ = w.Flush()
		return nil
	},
}

func printGroup(group *types.JobGroup) {
	fmt.Println("Group Details:")
	fmt.Printf("  ID:          %s\n", group.ID)
	fmt.Printf("  Name:        %s\n", group.Name)
	if group.Description != "" {
		fmt.Printf("  Description: %s\n", group.Description)
	}
	fmt.Printf("  Priority:    %d\n", group.Priority)
	fmt.Printf("  Created:     %s\n", group.CreatedAt.Format(time.RFC3339))
	if group.ExpiresAt != nil {
		fmt.Printf("  Expires:     %s\n", group.ExpiresAt.Format(time.RFC3339))
	}
	if limits := group.ResourceLimits; limits != nil {
		fmt.Println("\nResource Limits (advisory):")
		if limits.MaxCPU > 0 {
			fmt.Printf("  CPU:       %.2f cores\n", limits.MaxCPU)
		}
		if limits.MaxMemoryMB > 0 {
			fmt.Printf("  Memory:    %d MB\n", limits.MaxMemoryMB)
		}
		if limits.MaxProcesses > 0 {
			fmt.Printf("  Processes: %d\n", limits.MaxProcesses)
		}
	}
	if len(group.Tags) > 0 {
		fmt.Println("\nTags:")
		for k, v := range group.Tags {
			fmt.Printf("  %s=%s\n", k, v)
		}
	}
	if len(group.JobIDs) > 0 {
		fmt.Println("\nJobs:")
		for _, id := range group.JobIDs {
			fmt.Printf("  %s\n", id)
		}
	}
}

var (
	groupDescription string
	groupPriority    int
	groupTags        []string
	groupExpiresIn   string
)

var groupsCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a job group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tags, err := parseKeyValues(groupTags, "tag")
		if err != nil {
			return err
		}
		var expiresAt *time.Time
		if groupExpiresIn != "" {
			ttl, err := time.ParseDuration(groupExpiresIn)
			if err != nil {
				return fmt.Errorf("invalid --expires-in %q: %v", groupExpiresIn, err)
			}
			t := time.Now().Add(ttl)
			expiresAt = &t
		}

		ctx, cancel := apiContext()
		defer cancel()

		group, err := apiClient().CreateGroup(ctx, api.CreateGroupRequest{
			Name:        args[0],
			Description: groupDescription,
			Priority:    groupPriority,
			Tags:        tags,
			ExpiresAt:   expiresAt,
		})
		if err != nil {
			return fmt.Errorf("failed to create group: %w", err)
		}
		fmt.Printf("✓ Group created: %s (ID: %s)\n", group.Name, group.ID)
		return nil
	},
}

var groupsDeleteCmd = &cobra.Command{
	Use:   "delete GROUP_ID",
	Short: "Delete a job group",
	Long:  `Delete a group. Member jobs are untouched; only the grouping goes away.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext()
		defer cancel()

		if err := apiClient().DeleteGroup(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete group: %w", err)
		}
		fmt.Printf("✓ Group deleted: %s\n", args[0])
		return nil
	},
}

var groupsAddCmd = &cobra.Command{
	Use:   "add GROUP_ID JOB_ID",
	Short: "Add a job to a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext()
		defer cancel()

		group, err := apiClient().AddJobToGroup(ctx, args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to add job to group: %w", err)
		}
		fmt.Printf("✓ Group %s now has %d job(s)\n", group.Name, len(group.JobIDs))
		return nil
	},
}

var groupsRemoveCmd = &cobra.Command{
	Use:   "remove GROUP_ID JOB_ID",
	Short: "Remove a job from a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext()
		defer cancel()

		if err := apiClient().RemoveJobFromGroup(ctx, args[0], args[1]); err != nil {
			return fmt.Errorf("failed to remove job from group: %w", err)
		}
		fmt.Printf("✓ Job %s removed from group %s\n", args[1], args[0])
		return nil
	},
}

func init() {
	groupsCreateCmd.Flags().StringVar(&groupDescription, "description", "", "Group description")
	groupsCreateCmd.Flags().IntVar(&groupPriority, "priority", 0, "Group priority (clamped to 0-100)")
	groupsCreateCmd.Flags().StringArrayVar(&groupTags, "tag", nil, "Tag KEY=VALUE (repeatable)")
	groupsCreateCmd.Flags().StringVar(&groupExpiresIn, "expires-in", "", "Expire the group after this duration (e.g. 24h)")

	groupsCmd.AddCommand(groupsCreateCmd)
	groupsCmd.AddCommand(groupsDeleteCmd)
	groupsCmd.AddCommand(groupsAddCmd)
	groupsCmd.AddCommand(groupsRemoveCmd)
	rootCmd.AddCommand(groupsCmd)
}
