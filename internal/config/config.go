package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config is the typed view of the application settings.
type Config struct {
	Logging   LoggingConfig
	Server    ServerConfig
	TUI       TUIConfig
	Scheduler SchedulerConfig
	Search    SearchConfig
	LLM       LLMConfig
	DataDir   string
	Database  string
	LogDir    string
	Tasks     TaskConfig
}

// LoggingConfig selects the process logger.
type LoggingConfig struct {
	Level  string
	Format string
}

// LLMConfig holds the process-wide LLM backend settings.
type LLMConfig struct {
	APIKey     string
	BaseURL    string
	RateLimit  int
	MaxRetries int
}

// SearchConfig configures the web-search tools.
type SearchConfig struct {
	SearXNGURL  string
	BraveAPIKey string
	MaxResults  int
	RatePerSec  float64
}

// TaskConfig bounds task execution.
type TaskConfig struct {
	LeaseTTL     time.Duration
	Heartbeat    time.Duration
	MaxToolCalls int
	MaxAttempts  int
}

// SchedulerConfig holds the cron specs for background jobs. An empty spec
// disables the job.
type SchedulerConfig struct {
	ReconcileSpec string
	AutoRunSpec   string
}

// ServerConfig configures the task monitor.
type ServerConfig struct {
	Addr string
}

// TUIConfig configures the interactive watcher.
type TUIConfig struct {
	Theme string
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("data_dir", "~/.local/share/ledgerflow")
	v.SetDefault("database", "")
	v.SetDefault("log_dir", "")

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.rate_limit", 60)
	v.SetDefault("llm.max_retries", 3)

	v.SetDefault("search.searxng_url", "http://localhost:8888")
	v.SetDefault("search.brave_api_key", "")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.rate_per_sec", 1.0)

	v.SetDefault("tasks.lease_ttl", "5m")
	v.SetDefault("tasks.heartbeat", "30s")
	v.SetDefault("tasks.max_tool_calls", 3)
	v.SetDefault("tasks.max_attempts", 2)

	v.SetDefault("scheduler.reconcile", "@every 1m")
	v.SetDefault("scheduler.auto_run", "")

	v.SetDefault("server.addr", "127.0.0.1:8750")
	v.SetDefault("tui.theme", "default")
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		DataDir:  ExpandPath(v.GetString("data_dir")),
		Database: ExpandPath(v.GetString("database")),
		LogDir:   ExpandPath(v.GetString("log_dir")),
		LLM: LLMConfig{
			APIKey:     v.GetString("llm.api_key"),
			BaseURL:    v.GetString("llm.base_url"),
			RateLimit:  v.GetInt("llm.rate_limit"),
			MaxRetries: v.GetInt("llm.max_retries"),
		},
		Search: SearchConfig{
			SearXNGURL:  v.GetString("search.searxng_url"),
			BraveAPIKey: v.GetString("search.brave_api_key"),
			MaxResults:  v.GetInt("search.max_results"),
			RatePerSec:  v.GetFloat64("search.rate_per_sec"),
		},
		Tasks: TaskConfig{
			LeaseTTL:     v.GetDuration("tasks.lease_ttl"),
			Heartbeat:    v.GetDuration("tasks.heartbeat"),
			MaxToolCalls: v.GetInt("tasks.max_tool_calls"),
			MaxAttempts:  v.GetInt("tasks.max_attempts"),
		},
		Scheduler: SchedulerConfig{
			ReconcileSpec: v.GetString("scheduler.reconcile"),
			AutoRunSpec:   v.GetString("scheduler.auto_run"),
		},
		Server: ServerConfig{
			Addr: v.GetString("server.addr"),
		},
		TUI: TUIConfig{
			Theme: v.GetString("tui.theme"),
		},
	}

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("%w: data_dir", common.ErrMissingConfig)
	}
	if cfg.Database == "" {
		cfg.Database = filepath.Join(cfg.DataDir, "ledgerflow.db")
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.DataDir, "logs")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Tasks.Heartbeat <= 0 || c.Tasks.LeaseTTL <= 0 {
		return fmt.Errorf("%w: tasks.heartbeat and tasks.lease_ttl must be positive", common.ErrInvalidConfig)
	}
	if c.Tasks.LeaseTTL <= c.Tasks.Heartbeat {
		return fmt.Errorf("%w: tasks.lease_ttl (%s) must exceed tasks.heartbeat (%s)",
			common.ErrInvalidConfig, c.Tasks.LeaseTTL, c.Tasks.Heartbeat)
	}
	if c.Tasks.MaxToolCalls < 0 {
		return fmt.Errorf("%w: tasks.max_tool_calls must not be negative", common.ErrInvalidConfig)
	}
	if c.Tasks.MaxAttempts < 1 {
		return fmt.Errorf("%w: tasks.max_attempts must be at least 1", common.ErrInvalidConfig)
	}
	if c.LLM.RateLimit < 0 || c.LLM.MaxRetries < 0 {
		return fmt.Errorf("%w: llm.rate_limit and llm.max_retries must not be negative", common.ErrInvalidConfig)
	}

	for key, spec := range map[string]string{
		"scheduler.reconcile": c.Scheduler.ReconcileSpec,
		"scheduler.auto_run":  c.Scheduler.AutoRunSpec,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%w: %s: %w", common.ErrInvalidConfig, key, err)
		}
	}
	return nil
}
