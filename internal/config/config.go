package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all studio runtime configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Agent runtime settings
	Agent AgentConfig `yaml:"agent"`

	// Approval gate
	Approval ApprovalConfig `yaml:"approval"`

	// Job manager
	Jobs JobsConfig `yaml:"jobs"`

	// Durable stores
	Store StoreConfig `yaml:"store"`

	// Subscription tiers keyed by tier name
	Tiers map[string]TierConfig `yaml:"tiers"`

	// DefaultTier applies to users with no explicit tier.
	DefaultTier string `yaml:"default_tier"`

	// AgentsFile overrides the embedded agent roster.
	AgentsFile string `yaml:"agents_file"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the Gemini client.
type LLMConfig struct {
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	ImageModel string `yaml:"image_model"`
	VideoModel string `yaml:"video_model"`
	// EmbedModel enables embedding-based memory recall when set.
	EmbedModel string `yaml:"embed_model"`
	// AssetDir receives generated image bytes.
	AssetDir string `yaml:"asset_dir"`
	Timeout  string `yaml:"timeout"`
}

// AgentConfig configures the bounded turn loop.
type AgentConfig struct {
	MaxTurns           int    `yaml:"max_turns"`
	HistoryBudgetChars int    `yaml:"history_budget_chars"`
	ToolTimeout        string `yaml:"tool_timeout"`
	// ChatTokenEstimate is reserved against the chat_tokens quota before the first model call.
	ChatTokenEstimate int64 `yaml:"chat_token_estimate"`
}

// ApprovalConfig configures the approval gate and its transport.
type ApprovalConfig struct {
	Timeout string `yaml:"timeout"`
	// Transport is one of: channel, auto, fs, terminal
	Transport string `yaml:"transport"`
	// Dir is watched by the fs transport.
	Dir string `yaml:"dir"`
	// AutoApproveBelow is the estimated cost under which the auto transport approves.
	AutoApproveBelow float64 `yaml:"auto_approve_below"`
}

// JobsConfig configures the job manager.
type JobsConfig struct {
	SegmentMaxSeconds int    `yaml:"segment_max_seconds"`
	PollInterval      string `yaml:"poll_interval"`
	WaitTimeout       string `yaml:"wait_timeout"`
	MaxConcurrent     int    `yaml:"max_concurrent"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is one of: sqlite (pure Go), sqlite3 (cgo), memory
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	// ReservationTTL is how long a quota hold may stay unsettled before it is
	// treated as abandoned and returned at startup.
	ReservationTTL string `yaml:"reservation_ttl"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level    string   `yaml:"level"`
	File     string   `yaml:"file"`
	Disabled []string `yaml:"disabled_categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "indiistudio",
		Version: "0.4.0",

		LLM: LLMConfig{
			Model:      "gemini-2.5-flash",
			ImageModel: "imagen-4.0-generate-001",
			VideoModel: "veo-3.0-generate-001",
			EmbedModel: "gemini-embedding-001",
			AssetDir:   ".studio/assets",
			Timeout:    "120s",
		},

		Agent: AgentConfig{
			MaxTurns:           5,
			HistoryBudgetChars: 12000,
			ToolTimeout:        "10m",
			ChatTokenEstimate:  2000,
		},

		Approval: ApprovalConfig{
			Timeout:          "5m",
			Transport:        "terminal",
			Dir:              ".studio/approvals",
			AutoApproveBelow: 0,
		},

		Jobs: JobsConfig{
			SegmentMaxSeconds: 8,
			PollInterval:      "10s",
			WaitTimeout:       "300s",
			MaxConcurrent:     4,
		},

		Store: StoreConfig{
			Driver:         "sqlite",
			Path:           ".studio/studio.db",
			ReservationTTL: "24h",
		},

		Tiers:       DefaultTiers(),
		DefaultTier: "free",

		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// GEMINI_API_KEY wins over GOOGLE_API_KEY
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}

	if path := os.Getenv("STUDIO_DB"); path != "" {
		c.Store.Path = path
	}
	if tier := os.Getenv("STUDIO_TIER_DEFAULT"); tier != "" {
		c.DefaultTier = tier
	}
	if transport := os.Getenv("STUDIO_APPROVAL_TRANSPORT"); transport != "" {
		c.Approval.Transport = transport
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// GetToolTimeout returns the per-tool dispatch timeout.
func (c *Config) GetToolTimeout() time.Duration {
	return parseDuration(c.Agent.ToolTimeout, 10*time.Minute)
}

// GetApprovalTimeout returns how long a guarded tool waits for a human.
func (c *Config) GetApprovalTimeout() time.Duration {
	return parseDuration(c.Approval.Timeout, 5*time.Minute)
}

// GetPollInterval returns the provider polling interval.
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Jobs.PollInterval, 10*time.Second)
}

// GetWaitTimeout returns the default WaitForJob timeout.
func (c *Config) GetWaitTimeout() time.Duration {
	return parseDuration(c.Jobs.WaitTimeout, 300*time.Second)
}

// GetReservationTTL returns the age after which an unsettled quota hold expires.
func (c *Config) GetReservationTTL() time.Duration {
	return parseDuration(c.Store.ReservationTTL, 24*time.Hour)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Agent.MaxTurns < 1 {
		return fmt.Errorf("agent.max_turns must be >= 1")
	}
	if c.Agent.HistoryBudgetChars < 0 {
		return fmt.Errorf("agent.history_budget_chars must be >= 0")
	}
	if c.Jobs.SegmentMaxSeconds < 1 {
		return fmt.Errorf("jobs.segment_max_seconds must be >= 1")
	}
	if c.Jobs.MaxConcurrent < 1 {
		return fmt.Errorf("jobs.max_concurrent must be >= 1")
	}

	switch c.Store.Driver {
	case "sqlite", "sqlite3", "memory":
	default:
		return fmt.Errorf("unknown store.driver: %s", c.Store.Driver)
	}

	switch c.Approval.Transport {
	case "channel", "auto", "fs", "terminal":
	default:
		return fmt.Errorf("unknown approval.transport: %s", c.Approval.Transport)
	}

	if len(c.Tiers) == 0 {
		return fmt.Errorf("at least one tier must be configured")
	}
	if _, ok := c.Tiers[c.DefaultTier]; !ok {
		return fmt.Errorf("default_tier %q is not a configured tier", c.DefaultTier)
	}
	for name, tier := range c.Tiers {
		if err := tier.Validate(); err != nil {
			return fmt.Errorf("tier %s: %w", name, err)
		}
	}
	return nil
}
