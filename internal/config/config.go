// Package config handles loading and validating Axon configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Axon.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Workspace root. Default: ~/.axon/workspace. Override: AXON_WORKSPACE env var.
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`   // Persistent data directory. Default: ~/.axon/data. Override: AXON_DATA_DIR env var.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`     // nil = SQLite default (derived from data dir)
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Approval      ApprovalConfig       `json:"approval" yaml:"approval"`
	Agent         AgentConfig          `json:"agent" yaml:"agent"`
	Agents        []AgentProfileConfig `json:"agents,omitempty" yaml:"agents,omitempty"` // Custom agent profiles. Empty = built-in defaults.
	Server        ServerConfig         `json:"server" yaml:"server"`
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`         // nil = background maintenance disabled
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"` // Override: AXON_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ObservabilityConfig configures metrics, tracing, health checks, and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "axon"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeDB bool `json:"include_db" yaml:"include_db"`
}

// AnomalyConfig configures threshold-based anomaly detection.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% errors
	RejectionThreshold float64 `json:"rejection_threshold" yaml:"rejection_threshold"`   // Fraction of gated actions rejected. e.g. 0.8
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300
}

// AgentConfig tunes the controlled-execution loop.
type AgentConfig struct {
	SystemPrompt           string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"` // Fallback prompt when a profile has none.
	MaxIterations          int    `json:"max_iterations" yaml:"max_iterations"`                   // Tool-use rounds per turn. Default: 25.
	MaxHistoryMessages     int    `json:"max_history_messages" yaml:"max_history_messages"`       // Conversation window. Default: 50.
	SessionIdleTTLMinutes  int    `json:"session_idle_ttl_minutes" yaml:"session_idle_ttl_minutes"` // 0 = sessions never expire.
}

// SessionIdleTTL returns how long an idle session is kept. 0 = forever.
func (a *AgentConfig) SessionIdleTTL() time.Duration {
	if a != nil && a.SessionIdleTTLMinutes > 0 {
		return time.Duration(a.SessionIdleTTLMinutes) * time.Minute
	}
	return 0
}

// AgentProfileConfig defines a single agent profile available to clients.
type AgentProfileConfig struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	AllowedTools []string `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"` // Empty = all registered tools.
	AutoApprove  []string `json:"auto_approve,omitempty" yaml:"auto_approve,omitempty"`   // Tools exempt from gating for this profile.
	MaxRiskLevel string   `json:"max_risk_level" yaml:"max_risk_level"`                   // "low", "medium", "high", "critical".
	Default      bool     `json:"default" yaml:"default"`                                 // Used when a request names no agent.
}

// SchedulerConfig configures background maintenance jobs.
// When nil, stale approval slots and idle sessions are never swept.
type SchedulerConfig struct {
	Enabled              bool   `json:"enabled" yaml:"enabled"`
	SweepIntervalSeconds int    `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds"` // Default: 60.
	SweepSchedule        string `json:"sweep_schedule,omitempty" yaml:"sweep_schedule,omitempty"` // Cron expression. Overrides the interval when set.
}

// SweepInterval returns the sweep interval with a default of 60s.
func (s *SchedulerConfig) SweepInterval() time.Duration {
	if s != nil && s.SweepIntervalSeconds > 0 {
		return time.Duration(s.SweepIntervalSeconds) * time.Second
	}
	return 60 * time.Second
}

type SandboxConfig struct {
	MaxCPUCores         int  `json:"max_cpu_cores" yaml:"max_cpu_cores"`
	MaxMemoryMB         int  `json:"max_memory_mb" yaml:"max_memory_mb"`
	MaxExecutionSeconds int  `json:"max_execution_seconds" yaml:"max_execution_seconds"`
	NetworkAllowed      bool `json:"network_allowed" yaml:"network_allowed"`
}

// ToolsConfig configures individual tool settings.
type ToolsConfig struct {
	File     FileToolConfig     `json:"file" yaml:"file"`
	Web      WebToolConfig      `json:"web" yaml:"web"`
	Shell    ShellToolConfig    `json:"shell" yaml:"shell"`
	Database DatabaseToolConfig `json:"database" yaml:"database"`
	Memory   MemoryToolConfig   `json:"memory" yaml:"memory"`
	MCP      []MCPServerConfig  `json:"mcp,omitempty" yaml:"mcp,omitempty"` // External MCP tool servers.
}

// MCPServerConfig defines a single external MCP server connection.
// Axon acts as an MCP client, connecting at startup, discovering tools,
// and registering them in the tool registry with the configured risk settings.
type MCPServerConfig struct {
	Name        string            `json:"name" yaml:"name"`                                   // Server ID used for tool namespacing (e.g., "github").
	Transport   string            `json:"transport" yaml:"transport"`                         // "stdio", "sse", or "streamable_http".
	Command     string            `json:"command,omitempty" yaml:"command,omitempty"`         // Executable to launch (stdio only).
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`               // Command arguments (stdio only).
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`                 // Subprocess env vars (stdio only). Values support ${VAR} expansion.
	URL         string            `json:"url,omitempty" yaml:"url,omitempty"`                 // Server endpoint (sse/streamable_http only).
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`         // HTTP headers (sse/streamable_http). Values support ${VAR} expansion.
	RiskLevel   string            `json:"risk_level,omitempty" yaml:"risk_level,omitempty"`   // "low", "medium", "high", "critical". Default: "medium".
	AutoApprove bool              `json:"auto_approve,omitempty" yaml:"auto_approve,omitempty"` // Skip the approval gate for this server's tools.
}

// FileToolConfig restricts file access to specific paths.
type FileToolConfig struct {
	AllowedPaths     []string `json:"allowed_paths" yaml:"allowed_paths"`
	MaxFileSizeBytes int64    `json:"max_file_size_bytes" yaml:"max_file_size_bytes"`
}

// WebToolConfig restricts web access to specific domains.
type WebToolConfig struct {
	AllowedDomains   []string `json:"allowed_domains" yaml:"allowed_domains"`
	MaxResponseBytes int64    `json:"max_response_bytes" yaml:"max_response_bytes"`
	TimeoutSeconds   int      `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// ShellToolConfig restricts which commands the shell tool may run.
type ShellToolConfig struct {
	Whitelist []string `json:"whitelist" yaml:"whitelist"` // Command prefixes. Empty = shell tool not registered.
}

// DatabaseToolConfig configures the read-only database query tool.
type DatabaseToolConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"`                         // Connection string. Can be overridden by AXON_TOOL_DB_DSN env var.
	MaxRows        int    `json:"max_rows" yaml:"max_rows"`               // Maximum rows per query. Default: 1000.
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"` // Per-query timeout. Default: 30.
}

// MemoryToolConfig configures the persistent memory tools.
type MemoryToolConfig struct {
	Disabled bool `json:"disabled" yaml:"disabled"` // Memory tools are registered by default; set true to opt out.
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	ListenAddr          string          `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	EnableDocs          bool            `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64           `json:"max_request_size_bytes" yaml:"max_request_size_bytes"` // Default: 1 MB.
	APIKeys             []string        `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`         // Empty = no auth. Override: AXON_API_KEY env var (appended).
	RateLimit           RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	WebSocket           bool            `json:"websocket" yaml:"websocket"` // Enable the /v1/ws live event endpoint.
}

// Addr returns the listen address with a default of ":8080".
func (s *ServerConfig) Addr() string {
	if s != nil && s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8080"
}

// MaxRequestSize returns the request body cap with a default of 1 MB.
func (s *ServerConfig) MaxRequestSize() int64 {
	if s != nil && s.MaxRequestSizeBytes > 0 {
		return s.MaxRequestSizeBytes
	}
	return 1 << 20
}

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// ApprovalConfig configures the approval gateway.
type ApprovalConfig struct {
	TimeoutSeconds       int `json:"timeout_seconds" yaml:"timeout_seconds"`               // How long a suspended action waits for a decision. Default: 120.
	ExpirySeconds        int `json:"expiry_seconds" yaml:"expiry_seconds"`                 // How long an abandoned request survives a sweep. Default: 300.
	SweepIntervalSeconds int `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds"` // Default: 60.
}

// Timeout returns the decision timeout with a default of 2m.
func (a *ApprovalConfig) Timeout() time.Duration {
	if a != nil && a.TimeoutSeconds > 0 {
		return time.Duration(a.TimeoutSeconds) * time.Second
	}
	return 2 * time.Minute
}

// Expiry returns the slot expiry with a default of 5m.
func (a *ApprovalConfig) Expiry() time.Duration {
	if a != nil && a.ExpirySeconds > 0 {
		return time.Duration(a.ExpirySeconds) * time.Second
	}
	return 5 * time.Minute
}

// SweepInterval returns the gateway sweep interval with a default of 60s.
func (a *ApprovalConfig) SweepInterval() time.Duration {
	if a != nil && a.SweepIntervalSeconds > 0 {
		return time.Duration(a.SweepIntervalSeconds) * time.Second
	}
	return 60 * time.Second
}

type ProvidersConfig struct {
	Default   string          `json:"default" yaml:"default"`                       // "anthropic", "openai", "ollama". Empty = "anthropic".
	Fallback  []string        `json:"fallback,omitempty" yaml:"fallback,omitempty"` // Fallback providers tried in order when default fails.
	Anthropic AnthropicConfig `json:"anthropic" yaml:"anthropic"`
	OpenAI    OpenAIConfig    `json:"openai" yaml:"openai"`
	Ollama    OllamaConfig    `json:"ollama" yaml:"ollama"`
}

type AnthropicConfig struct {
	APIKey string `json:"api_key" yaml:"api_key"`
	Model  string `json:"model" yaml:"model"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.openai.com.
}

type OllamaConfig struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to http://localhost:11434.
}

// DefaultConfigPath returns the default config file path (~/.axon/config.json).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/axon.json" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".axon", "config.json")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Provider API keys and server secrets can be set in the config file or overridden
// by environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	// Resolve DataDir default.
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".axon", "data")
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Env vars take
// precedence over config file values.
func (c *Config) applyEnvOverrides() {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		c.Providers.Anthropic.APIKey = envKey
	}
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		c.Providers.OpenAI.APIKey = envKey
	}
	if envWS := os.Getenv("AXON_WORKSPACE"); envWS != "" {
		c.Workspace = envWS
	}
	if envDD := os.Getenv("AXON_DATA_DIR"); envDD != "" {
		c.DataDir = envDD
	}
	if envKey := os.Getenv("AXON_API_KEY"); envKey != "" {
		c.Server.APIKeys = append(c.Server.APIKeys, envKey)
	}
	if envDSN := os.Getenv("AXON_DB_DSN"); envDSN != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = envDSN
	}
	if envDSN := os.Getenv("AXON_TOOL_DB_DSN"); envDSN != "" {
		c.Tools.Database.DSN = envDSN
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".axon", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "axon.db")
}

// AuditLogPath returns the default audit log mirror path under the data directory.
func (c *Config) AuditLogPath() string {
	return filepath.Join(c.ResolvedDataDir(), "audit.jsonl")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

var riskLevelNames = map[string]bool{
	"low": true, "medium": true, "high": true, "critical": true,
}

func (c *Config) validate() error {
	// Default provider to anthropic for backward compatibility.
	if c.Providers.Default == "" {
		c.Providers.Default = "anthropic"
	}
	if err := c.validateProvider(); err != nil {
		return err
	}
	if c.Sandbox.MaxMemoryMB < 0 {
		return fmt.Errorf("sandbox.max_memory_mb must not be negative")
	}
	if c.Sandbox.MaxExecutionSeconds < 0 {
		return fmt.Errorf("sandbox.max_execution_seconds must not be negative")
	}
	// Storage driver validation.
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.Storage.StorageDriver() == "postgres" {
		if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set AXON_DB_DSN env var)")
		}
	}
	// Agent profile validation.
	profileIDs := make(map[string]bool, len(c.Agents))
	defaults := 0
	for i, p := range c.Agents {
		if p.ID == "" {
			return fmt.Errorf("agents[%d].id is required", i)
		}
		if profileIDs[p.ID] {
			return fmt.Errorf("agents[%d]: duplicate profile id %q", i, p.ID)
		}
		profileIDs[p.ID] = true
		if p.MaxRiskLevel != "" && !riskLevelNames[p.MaxRiskLevel] {
			return fmt.Errorf("agents[%d] (%q): max_risk_level must be low, medium, high, or critical", i, p.ID)
		}
		if p.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("agents: at most one profile may be marked default, got %d", defaults)
	}
	// MCP server config validation.
	mcpNames := make(map[string]bool, len(c.Tools.MCP))
	for i, srv := range c.Tools.MCP {
		if srv.Name == "" {
			return fmt.Errorf("tools.mcp[%d].name is required", i)
		}
		if mcpNames[srv.Name] {
			return fmt.Errorf("tools.mcp[%d]: duplicate server name %q", i, srv.Name)
		}
		mcpNames[srv.Name] = true
		if srv.RiskLevel != "" && !riskLevelNames[srv.RiskLevel] {
			return fmt.Errorf("tools.mcp[%d] (%q): risk_level must be low, medium, high, or critical", i, srv.Name)
		}
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				return fmt.Errorf("tools.mcp[%d] (%q): command is required for stdio transport", i, srv.Name)
			}
		case "sse", "streamable_http":
			if srv.URL == "" {
				return fmt.Errorf("tools.mcp[%d] (%q): url is required for %s transport", i, srv.Name, srv.Transport)
			}
		default:
			return fmt.Errorf("tools.mcp[%d] (%q): transport must be stdio, sse, or streamable_http", i, srv.Name)
		}
	}
	return nil
}

// validateProvider checks that the selected LLM provider has the required fields.
func (c *Config) validateProvider() error {
	switch c.Providers.Default {
	case "anthropic":
		if c.Providers.Anthropic.Model == "" {
			return fmt.Errorf("providers.anthropic.model is required")
		}
		if c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("providers.anthropic.api_key is required (set ANTHROPIC_API_KEY env var)")
		}
	case "openai":
		if c.Providers.OpenAI.Model == "" {
			return fmt.Errorf("providers.openai.model is required")
		}
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("providers.openai.api_key is required (set OPENAI_API_KEY env var)")
		}
	case "ollama":
		if c.Providers.Ollama.Model == "" {
			return fmt.Errorf("providers.ollama.model is required")
		}
	default:
		return fmt.Errorf("providers.default %q is not supported (use anthropic, openai, or ollama)", c.Providers.Default)
	}
	return nil
}
