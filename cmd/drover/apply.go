package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/droverd/drover/pkg/api"
	"github.com/droverd/drover/pkg/client"
	"github.com/droverd/drover/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a manifest file",
	Long: `Apply Drover resources from a YAML manifest.

A manifest holds one or more documents (separated by ---) of kind Job,
Task or Group. Jobs run on the manager host, tasks are dispatched to
worker nodes, groups batch jobs under shared metadata.

Examples:
  # Submit a job definition
  drover apply -f backup-job.yaml

  # Apply a batch of tasks and their group
  drover apply -f nightly.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// Resource is one manifest document; Spec is decoded per Kind.
type Resource struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   ResourceMetadata `yaml:"metadata"`
	Spec       yaml.Node        `yaml:"spec"`
}

type ResourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

// JobManifestSpec mirrors the submit flags in manifest form.
type JobManifestSpec struct {
	Path     string            `yaml:"path"`
	Args     []string          `yaml:"args,omitempty"`
	Env      map[string]string `yaml:"env,omitempty"`
	Dir      string            `yaml:"dir,omitempty"`
	Timeout  string            `yaml:"timeout,omitempty"`
	Priority int               `yaml:"priority,omitempty"`
	Group    string            `yaml:"group,omitempty"` // id or name; added after submit
}

// TaskManifestSpec describes a task to dispatch to worker nodes.
type TaskManifestSpec struct {
	Path     string            `yaml:"path"`
	Args     []string          `yaml:"args,omitempty"`
	Env      map[string]string `yaml:"env,omitempty"`
	Dir      string            `yaml:"dir,omitempty"`
	Timeout  string            `yaml:"timeout,omitempty"`
	Priority string            `yaml:"priority,omitempty"`
	Required []string          `yaml:"required,omitempty"`
}

// GroupManifestSpec describes a job group.
type GroupManifestSpec struct {
	Description    string              `yaml:"description,omitempty"`
	Priority       int                 `yaml:"priority,omitempty"`
	Tags           map[string]string   `yaml:"tags,omitempty"`
	ResourceLimits *ResourceLimitsSpec `yaml:"resourceLimits,omitempty"`
	ExpiresIn      string              `yaml:"expiresIn,omitempty"`
}

// ResourceLimitsSpec is the manifest form of types.ResourceLimits.
type ResourceLimitsSpec struct {
	MaxCPU       float64 `yaml:"maxCpu,omitempty"`
	MaxMemoryMB  int64   `yaml:"maxMemoryMB,omitempty"`
	MaxProcesses int     `yaml:"maxProcesses,omitempty"`
}

func (s *ResourceLimitsSpec) toTypes() *types.ResourceLimits {
	if s == nil {
		return nil
	}
	return &types.ResourceLimits{
		MaxCPU:       s.MaxCPU,
		MaxMemoryMB:  s.MaxMemoryMB,
		MaxProcesses: s.MaxProcesses,
	}
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	c := apiClient()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	applied := 0
	for {
		var resource Resource
		if err := decoder.Decode(&resource); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to parse YAML: %v", err)
		}
		if resource.Kind == "" {
			continue // blank document
		}

		switch resource.Kind {
		case "Job":
			err = applyJob(c, &resource)
		case "Task":
			err = applyTask(c, &resource)
		case "Group":
			err = applyGroup(c, &resource)
		default:
			err = fmt.Errorf("unsupported resource kind: %s", resource.Kind)
		}
		if err != nil {
			return err
		}
		applied++
	}

	if applied == 0 {
		return fmt.Errorf("no resources found in %s", filename)
	}
	return nil
}

func applyJob(c *client.Client, resource *Resource) error {
	var spec JobManifestSpec
	if err := resource.Spec.Decode(&spec); err != nil {
		return fmt.Errorf("invalid Job spec for %q: %v", resource.Metadata.Name, err)
	}
	if spec.Path == "" {
		return fmt.Errorf("job %q: path is required", resource.Metadata.Name)
	}

	ctx, cancel := apiContext()
	defer cancel()

	job, err := c.SubmitJob(ctx, api.SubmitJobRequest{
		Name:     resource.Metadata.Name,
		Path:     spec.Path,
		Args:     spec.Args,
		Env:      spec.Env,
		Dir:      spec.Dir,
		Timeout:  spec.Timeout,
		Priority: spec.Priority,
		Labels:   resource.Metadata.Labels,
	})
	if err != nil {
		return fmt.Errorf("failed to submit job %q: %v", resource.Metadata.Name, err)
	}
	fmt.Printf("✓ Job submitted: %s (ID: %s)\n", resource.Metadata.Name, job.ID)

	if spec.Group == "" {
		return nil
	}
	group, err := c.GetGroup(ctx, spec.Group)
	if err != nil {
		return fmt.Errorf("job %q: group %q: %v", resource.Metadata.Name, spec.Group, err)
	}
	if _, err := c.AddJobToGroup(ctx, group.ID, job.ID); err != nil {
		return fmt.Errorf("job %q: failed to join group %q: %v", resource.Metadata.Name, spec.Group, err)
	}
	fmt.Printf("  added to group %s\n", group.Name)
	return nil
}

func applyTask(c *client.Client, resource *Resource) error {
	var spec TaskManifestSpec
	if err := resource.Spec.Decode(&spec); err != nil {
		return fmt.Errorf("invalid Task spec for %q: %v", resource.Metadata.Name, err)
	}
	if spec.Path == "" {
		return fmt.Errorf("task %q: path is required", resource.Metadata.Name)
	}

	ctx, cancel := apiContext()
	defer cancel()

	task, err := c.SubmitTask(ctx, api.SubmitTaskRequest{
		Name:     resource.Metadata.Name,
		Priority: spec.Priority,
		Required: spec.Required,
		Path:     spec.Path,
		Args:     spec.Args,
		Env:      spec.Env,
		Dir:      spec.Dir,
		Timeout:  spec.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to submit task %q: %v", resource.Metadata.Name, err)
	}
	fmt.Printf("✓ Task submitted: %s (ID: %s, status=%s)\n", resource.Metadata.Name, task.ID, task.Status)
	return nil
}

func applyGroup(c *client.Client, resource *Resource) error {
	var spec GroupManifestSpec
	if err := resource.Spec.Decode(&spec); err != nil {
		return fmt.Errorf("invalid Group spec for %q: %v", resource.Metadata.Name, err)
	}

	ctx, cancel := apiContext()
	defer cancel()

	// Groups are idempotent by name: re-applying a manifest skips them.
	if existing, err := c.GetGroup(ctx, resource.Metadata.Name); err == nil {
		fmt.Printf("Group already exists: %s (ID: %s)\n", existing.Name, existing.ID)
		return nil
	}

	var expiresAt *time.Time
	if spec.ExpiresIn != "" {
		ttl, err := time.ParseDuration(spec.ExpiresIn)
		if err != nil {
			return fmt.Errorf("group %q: invalid expiresIn: %v", resource.Metadata.Name, err)
		}
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	group, err := c.CreateGroup(ctx, api.CreateGroupRequest{
		Name:           resource.Metadata.Name,
		Description:    spec.Description,
		Priority:       spec.Priority,
		Tags:           spec.Tags,
		ResourceLimits: spec.ResourceLimits.toTypes(),
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create group %q: %v", resource.Metadata.Name, err)
	}
	fmt.Printf("✓ Group created: %s (ID: %s)\n", group.Name, group.ID)
	return nil
}
