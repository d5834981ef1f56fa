package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/types"
)

// Duration wraps time.Duration so YAML configs can use "30s" / "1h" forms.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full daemon/agent configuration loaded from YAML.
type Config struct {
	Listen    string          `yaml:"listen"`
	DataDir   string          `yaml:"data_dir"`
	JoinToken string          `yaml:"join_token"`
	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Failover  FailoverConfig  `yaml:"failover"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Janitor   JanitorConfig   `yaml:"janitor"`
	Agent     AgentConfig     `yaml:"agent"`
}

// LogConfig selects level and output format.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// SchedulerConfig bounds the local job scheduler.
// MaxConcurrentJobs 0 means the host logical core count; MaxQueuedJobs 0
// means unbounded.
type SchedulerConfig struct {
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`
	MaxQueuedJobs     int `yaml:"max_queued_jobs"`
}

// HeartbeatConfig tunes liveness detection.
type HeartbeatConfig struct {
	Timeout      Duration `yaml:"timeout"`
	ScanInterval Duration `yaml:"scan_interval"`
}

// FailoverConfig selects the reschedule strategy and retry budget.
type FailoverConfig struct {
	Strategy       string   `yaml:"strategy"`
	MaxRetries     int      `yaml:"max_retries"`
	RetryBaseDelay Duration `yaml:"retry_base_delay"`
}

// DispatchConfig tunes the task dispatcher loop.
type DispatchConfig struct {
	Interval       Duration `yaml:"interval"`
	TaskStaleAfter Duration `yaml:"task_stale_after"`
}

// JanitorConfig schedules retention sweeps (cron expression).
type JanitorConfig struct {
	Schedule        string   `yaml:"schedule"`
	JobRetention    Duration `yaml:"job_retention"`
	ResultRetention Duration `yaml:"result_retention"`
}

// AgentConfig configures the worker-side agent.
type AgentConfig struct {
	Server            string   `yaml:"server"`
	Name              string   `yaml:"name"`
	Capabilities      []string `yaml:"capabilities"`
	MaxTasks          int      `yaml:"max_tasks"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	PollInterval      Duration `yaml:"poll_interval"`
}

// Default returns the configuration used when no file (or an empty file) is
// present.
func Default() *Config {
	return &Config{
		Listen:  ":7420",
		DataDir: "/var/lib/drover",
		Log:     LogConfig{Level: string(log.InfoLevel), JSON: true},
		Scheduler: SchedulerConfig{
			MaxConcurrentJobs: 0, // resolved to runtime.NumCPU() at use
			MaxQueuedJobs:     0,
		},
		Heartbeat: HeartbeatConfig{
			Timeout:      Duration(30 * time.Second),
			ScanInterval: Duration(5 * time.Second),
		},
		Failover: FailoverConfig{
			Strategy:       "immediate",
			MaxRetries:     3,
			RetryBaseDelay: Duration(time.Second),
		},
		Dispatch: DispatchConfig{
			Interval:       Duration(5 * time.Second),
			TaskStaleAfter: Duration(time.Hour),
		},
		Janitor: JanitorConfig{
			Schedule:        "*/5 * * * *",
			JobRetention:    Duration(24 * time.Hour),
			ResultRetention: Duration(72 * time.Hour),
		},
		Agent: AgentConfig{
			Server:            "http://127.0.0.1:7420",
			Capabilities:      []string{string(types.CapabilityCompute)},
			MaxTasks:          types.DefaultMaxConcurrentTasks,
			HeartbeatInterval: Duration(10 * time.Second),
			PollInterval:      Duration(3 * time.Second),
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error: the defaults are returned so a bare daemon start works.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the components cannot run with.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Scheduler.MaxConcurrentJobs < 0 {
		return fmt.Errorf("scheduler.max_concurrent_jobs must be >= 0")
	}
	if c.Scheduler.MaxQueuedJobs < 0 {
		return fmt.Errorf("scheduler.max_queued_jobs must be >= 0")
	}
	if c.Heartbeat.Timeout <= 0 {
		return fmt.Errorf("heartbeat.timeout must be positive")
	}
	if c.Heartbeat.ScanInterval <= 0 {
		return fmt.Errorf("heartbeat.scan_interval must be positive")
	}
	switch c.Failover.Strategy {
	case "immediate", "delayed", "optimal", "manual":
	default:
		return fmt.Errorf("unknown failover.strategy %q", c.Failover.Strategy)
	}
	if c.Failover.MaxRetries < 0 {
		return fmt.Errorf("failover.max_retries must be >= 0")
	}
	if c.Failover.RetryBaseDelay <= 0 {
		return fmt.Errorf("failover.retry_base_delay must be positive")
	}
	if c.Dispatch.Interval <= 0 {
		return fmt.Errorf("dispatch.interval must be positive")
	}
	if c.Agent.MaxTasks <= 0 {
		return fmt.Errorf("agent.max_tasks must be positive")
	}
	for _, cap := range c.Agent.Capabilities {
		if !types.ValidCapability(types.Capability(cap)) {
			return fmt.Errorf("unknown agent capability %q", cap)
		}
	}
	return nil
}

// MaxConcurrentJobs resolves the configured cap, defaulting to the host
// logical core count.
func (c *Config) MaxConcurrentJobs() int {
	if c.Scheduler.MaxConcurrentJobs > 0 {
		return c.Scheduler.MaxConcurrentJobs
	}
	return runtime.NumCPU()
}

// AgentCapabilities converts the configured capability strings.
func (c *Config) AgentCapabilities() []types.Capability {
	caps := make([]types.Capability, 0, len(c.Agent.Capabilities))
	for _, s := range c.Agent.Capabilities {
		caps = append(caps, types.Capability(s))
	}
	return caps
}
