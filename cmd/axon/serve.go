package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/neurovexon/axon/internal/agent"
	"github.com/neurovexon/axon/internal/approval"
	"github.com/neurovexon/axon/internal/audit"
	"github.com/neurovexon/axon/internal/config"
	"github.com/neurovexon/axon/internal/gateway/httpapi"
	"github.com/neurovexon/axon/internal/gateway/ws"
	"github.com/neurovexon/axon/internal/llm"
	"github.com/neurovexon/axon/internal/llm/anthropic"
	"github.com/neurovexon/axon/internal/llm/openai"
	"github.com/neurovexon/axon/internal/observability"
	"github.com/neurovexon/axon/internal/permission"
	"github.com/neurovexon/axon/internal/ratelimit"
	"github.com/neurovexon/axon/internal/sandbox"
	"github.com/neurovexon/axon/internal/scheduler"
	"github.com/neurovexon/axon/internal/security"
	"github.com/neurovexon/axon/internal/storage"
	pgstore "github.com/neurovexon/axon/internal/storage/postgres"
	sqlitestore "github.com/neurovexon/axon/internal/storage/sqlite"
	"github.com/neurovexon/axon/internal/tools"
	databasetool "github.com/neurovexon/axon/internal/tools/database"
	filetool "github.com/neurovexon/axon/internal/tools/file"
	mcptools "github.com/neurovexon/axon/internal/tools/mcp"
	memorytool "github.com/neurovexon/axon/internal/tools/memory"
	shelltool "github.com/neurovexon/axon/internal/tools/shell"
	webtool "github.com/neurovexon/axon/internal/tools/web"
	"github.com/neurovexon/axon/internal/workspace"
)

// defaultSystemPrompt is the fallback prompt used when neither the request's
// profile nor the config provides one.
const defaultSystemPrompt = `You are Axon, an execution assistant that acts only through registered tools.
Every tool call you propose is checked against a risk policy and may require
human approval before it runs. Propose the minimal action that accomplishes
the task, and explain destructive operations before attempting them.
If an action is rejected or blocked, do not retry it; report the refusal.`

var (
	serveConfigPath string
	serveListenAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Axon server (HTTP API, WebSocket, background maintenance)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `axon --config path` and `axon serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveListenAddr, "listen", "", "override HTTP listen address (e.g. :8080)")
	}
}

// components holds every initialized subsystem. Built once by initComponents,
// torn down in reverse order by Cleanup.
type components struct {
	Config       *config.Config
	Logger       *slog.Logger
	Workspace    *workspace.Workspace
	Store        storage.Store
	Obs          *observability.Observability
	Provider     llm.Provider
	Registry     *tools.Registry
	Trail        *audit.Trail
	Ledger       *permission.Ledger
	Approvals    *approval.Gateway
	Orchestrator *agent.Orchestrator

	cleanups []func()
}

func (c *components) addCleanup(fn func()) {
	c.cleanups = append(c.cleanups, fn)
}

// Cleanup tears down all subsystems in reverse initialization order.
func (c *components) Cleanup() {
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("AXON_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}
	if serveListenAddr != "" {
		cfg.Server.ListenAddr = serveListenAddr
	}

	logger.Info("starting axon server", slog.String("config", serveConfigPath))

	c, err := initComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sweep abandoned approval slots. When the scheduler is enabled it owns
	// the sweeps; otherwise the gateway runs its own ticker.
	if cfg.Scheduler == nil || !cfg.Scheduler.Enabled {
		cancelSweep := c.Approvals.StartSweep(ctx, cfg.Approval.SweepInterval())
		defer cancelSweep()
	} else {
		var schedMetrics *scheduler.Metrics
		if c.Obs != nil && c.Obs.Metrics != nil {
			schedMetrics = scheduler.NewMetrics(c.Obs.Metrics.Registry)
		}
		sched := scheduler.New(c.Approvals, c.Store.Sessions(), c.Ledger, schedMetrics, logger).
			WithInterval(cfg.Scheduler.SweepInterval()).
			WithSessionTTL(cfg.Agent.SessionIdleTTL())
		if cfg.Scheduler.SweepSchedule != "" {
			sched = sched.WithSchedule(cfg.Scheduler.SweepSchedule)
		}
		cancelSched, err := sched.Start(ctx)
		if err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		defer cancelSched()
		logger.Info("maintenance scheduler started",
			slog.String("interval", cfg.Scheduler.SweepInterval().String()),
		)
	}

	// Per-client rate limiter for the HTTP API.
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.Server.RateLimit.BurstSize,
	})

	httpCfg := httpapi.Config{
		ListenAddr:     cfg.Server.Addr(),
		EnableDocs:     cfg.Server.EnableDocs,
		APIKeys:        cfg.Server.APIKeys,
		MaxRequestSize: cfg.Server.MaxRequestSize(),
	}
	if c.Obs != nil {
		httpCfg.Metrics = c.Obs.Metrics
		httpCfg.HealthChecker = c.Obs.Health
		if c.Obs.Metrics != nil {
			httpCfg.MetricsRegistry = c.Obs.Metrics.Registry
		}
		if c.Obs.Tracer != nil {
			httpCfg.Tracer = c.Obs.Tracer.Tracer()
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			httpCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}

	gw := httpapi.NewGateway(httpCfg, c.Orchestrator, c.Approvals, c.Trail, c.Registry, limiter, logger)
	if cfg.Server.EnableDocs {
		gw.WithOpenAPIDocs()
	}

	// Live event endpoint over WebSocket, mounted on the same listener.
	if cfg.Server.WebSocket {
		var wsToken string
		if len(cfg.Server.APIKeys) > 0 {
			wsToken = cfg.Server.APIKeys[0]
		}
		wsServer := ws.NewServer(c.Orchestrator, c.Approvals, wsToken, logger)
		gw.WithHandler("/v1/ws", wsServer.Handler())
		logger.Info("websocket endpoint enabled", slog.String("path", "/v1/ws"))
	}

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("http gateway exited", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping http gateway", slog.String("error", err.Error()))
	}

	return nil
}

// initComponents wires up every subsystem in dependency order:
// workspace, observability, provider, storage, audit trail, permission
// ledger, approval gateway, tool registry, profiles, orchestrator.
func initComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{Config: cfg, Logger: logger}

	// Workspace directories.
	ws, err := initWorkspace(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	if err := ws.EnsureAll(); err != nil {
		return nil, fmt.Errorf("creating workspace directories: %w", err)
	}
	c.Workspace = ws
	logger.Info("workspace ready", slog.String("root", ws.Root))

	if err := os.MkdirAll(cfg.ResolvedDataDir(), 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// Observability (nil when unconfigured).
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		c.Cleanup()
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	c.Obs = obs
	if obs != nil {
		c.addCleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(ctx)
		})
	}

	// LLM provider.
	provider, err := newProvider(cfg, logger)
	if err != nil {
		c.Cleanup()
		return nil, err
	}
	if obs != nil {
		provider = observability.NewInstrumentedProvider(provider, obs.Metrics, obs.Tracer, obs.Anomaly)
	}
	c.Provider = provider

	// Storage.
	store, err := initStore(cfg, logger)
	if err != nil {
		c.Cleanup()
		return nil, err
	}
	c.Store = store
	c.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing storage", slog.String("error", err.Error()))
		}
	})

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelMigrate()
	if err := store.Migrate(migrateCtx); err != nil {
		c.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("storage ready", slog.String("driver", store.Driver()))

	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("storage", store.Ping)
	}

	// Audit trail: storage-backed, mirrored to an append-only JSONL file.
	var auditStore audit.Store = store.Audit()
	if obs != nil {
		auditStore = observability.NewInstrumentedAuditStore(auditStore, obs.Metrics, obs.Anomaly)
	}
	trail := audit.NewTrail(auditStore, logger)
	mirror, err := audit.NewFileLog(cfg.AuditLogPath())
	if err != nil {
		logger.Warn("audit file mirror disabled",
			slog.String("path", cfg.AuditLogPath()),
			slog.String("error", err.Error()),
		)
	} else {
		trail = trail.WithMirror(mirror)
		c.addCleanup(func() {
			if err := mirror.Close(); err != nil {
				logger.Error("closing audit mirror", slog.String("error", err.Error()))
			}
		})
	}
	c.Trail = trail

	// Permission ledger and approval gateway.
	c.Ledger = permission.NewLedger(logger)
	c.Approvals = approval.NewGateway(cfg.Approval.Expiry(), logger)

	// Tool registry.
	registry, err := initTools(cfg, ws, store, obs, logger)
	if err != nil {
		c.Cleanup()
		return nil, err
	}
	c.Registry = registry

	// External MCP tool servers.
	if len(cfg.Tools.MCP) > 0 {
		bridge := mcptools.NewBridge(logger)
		c.addCleanup(bridge.Close)

		connectCtx, cancelConnect := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelConnect()
		for _, srv := range cfg.Tools.MCP {
			discovered, err := bridge.ConnectAndDiscover(connectCtx, srv)
			if err != nil {
				logger.Warn("skipping MCP server",
					slog.String("server", srv.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			for _, t := range discovered {
				registry.Register(t)
			}
		}
	}

	// Agent profiles.
	var profiles []agent.Profile
	if len(cfg.Agents) > 0 {
		profiles = profilesFromConfig(cfg.Agents)
	} else {
		profiles = agent.DefaultProfiles()
	}
	logger.Info("agent profiles loaded", slog.Int("count", len(profiles)))

	systemPrompt := cfg.Agent.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	orch := agent.NewOrchestrator(provider, systemPrompt, logger).
		WithTools(registry).
		WithProfiles(agent.NewStaticProfiles(profiles)).
		WithSessions(store.Sessions()).
		WithLedger(c.Ledger).
		WithGateway(c.Approvals).
		WithAudit(trail).
		WithApprovalTimeout(cfg.Approval.Timeout())
	if obs != nil {
		orch = orch.WithObservability(obs)
	}
	if cfg.Agent.MaxIterations > 0 {
		orch = orch.WithMaxIterations(cfg.Agent.MaxIterations)
	}
	if cfg.Agent.MaxHistoryMessages > 0 {
		orch = orch.WithMaxHistory(cfg.Agent.MaxHistoryMessages)
	}
	c.Orchestrator = orch

	return c, nil
}

// initWorkspace resolves the workspace root from config or defaults.
func initWorkspace(cfg *config.Config) (*workspace.Workspace, error) {
	if cfg.Workspace != "" {
		return workspace.New(cfg.Workspace)
	}
	return workspace.Default()
}

// initStore opens the configured storage backend.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case storage.DriverPostgres:
		pgCfg := pgstore.Config{DSN: cfg.Storage.Postgres.DSN}
		pgCfg.MaxOpenConns = cfg.Storage.Postgres.MaxOpenConns
		pgCfg.MaxIdleConns = cfg.Storage.Postgres.MaxIdleConns
		if cfg.Storage.Postgres.ConnMaxLifetimeS > 0 {
			pgCfg.ConnMaxLifetime = time.Duration(cfg.Storage.Postgres.ConnMaxLifetimeS) * time.Second
		}
		return pgstore.Open(pgCfg, logger)

	case storage.DriverSQLite:
		sqliteCfg := sqlitestore.Config{Path: cfg.DatabasePath()}
		if cfg.Storage != nil && cfg.Storage.SQLite != nil && cfg.Storage.SQLite.JournalMode != "" {
			sqliteCfg.JournalMode = cfg.Storage.SQLite.JournalMode
		}
		return sqlitestore.Open(sqliteCfg, logger)

	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

// initTools builds the tool registry from config.
func initTools(cfg *config.Config, ws *workspace.Workspace, store storage.Store, obs *observability.Observability, logger *slog.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry()

	// File tools, confined to the workspace plus any configured paths.
	fileCfg := filetool.Config{
		AllowedPaths:     append([]string{ws.WorkDir()}, cfg.Tools.File.AllowedPaths...),
		OutputsDir:       ws.WorkDir(),
		MaxFileSizeBytes: cfg.Tools.File.MaxFileSizeBytes,
	}
	registry.Register(filetool.NewReadTool(fileCfg, logger))
	registry.Register(filetool.NewWriteTool(fileCfg, logger))
	registry.Register(filetool.NewListTool(fileCfg, logger))

	// Web tools with an SSRF-guarded domain allowlist.
	webCfg := webtool.Config{
		AllowedDomains:   cfg.Tools.Web.AllowedDomains,
		MaxResponseBytes: cfg.Tools.Web.MaxResponseBytes,
		TimeoutSeconds:   cfg.Tools.Web.TimeoutSeconds,
	}
	registry.Register(webtool.NewFetchTool(webCfg, logger))
	registry.Register(webtool.NewSearchTool(webCfg, logger))

	// Shell tool only when commands are whitelisted: an empty whitelist
	// means no shell access at all.
	if len(cfg.Tools.Shell.Whitelist) > 0 {
		var sbx sandbox.Sandbox = sandbox.NewProcessSandbox(sandbox.ProcessConfig{
			DefaultTimeout: time.Duration(cfg.Sandbox.MaxExecutionSeconds) * time.Second,
			DefaultLimits: sandbox.ResourceLimits{
				MaxCPUSeconds: cfg.Sandbox.MaxCPUCores * 60,
				MaxMemoryMB:   cfg.Sandbox.MaxMemoryMB,
			},
		}, logger)
		if obs != nil {
			sbx = observability.NewInstrumentedSandbox(sbx, "process", obs.Metrics, obs.Tracer, obs.Anomaly)
		}
		registry.Register(shelltool.NewTool(shelltool.Config{Whitelist: cfg.Tools.Shell.Whitelist}, sbx, logger))
	}

	// Read-only database tool, only when a DSN is configured.
	if cfg.Tools.Database.DSN != "" {
		registry.Register(databasetool.NewTool(databasetool.Config{
			DSN:            cfg.Tools.Database.DSN,
			MaxRows:        cfg.Tools.Database.MaxRows,
			TimeoutSeconds: cfg.Tools.Database.TimeoutSeconds,
		}, logger))
	}

	// Persistent memory tools backed by storage.
	if !cfg.Tools.Memory.Disabled {
		memories := store.Memories()
		registry.Register(memorytool.NewSaveTool(memories, logger))
		registry.Register(memorytool.NewSearchTool(memories, logger))
		registry.Register(memorytool.NewDeleteTool(memories, logger))
	}

	logger.Info("tool registry ready", slog.Int("tools", len(registry.List())))
	return registry, nil
}

// newProvider creates the LLM provider chain based on config.
func newProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	primary, err := buildProvider(cfg.Providers.Default, cfg, logger)
	if err != nil {
		return nil, err
	}

	if len(cfg.Providers.Fallback) > 0 {
		providers := []llm.Provider{primary}
		for _, name := range cfg.Providers.Fallback {
			fb, err := buildProvider(name, cfg, logger)
			if err != nil {
				logger.Warn("skipping fallback provider",
					slog.String("provider", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			providers = append(providers, fb)
		}
		if len(providers) > 1 {
			return llm.NewFallbackProvider(providers, logger), nil
		}
	}

	return primary, nil
}

// buildProvider creates a single LLM provider by name.
func buildProvider(name string, cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	switch name {
	case "anthropic", "":
		return anthropic.NewClient(
			cfg.Providers.Anthropic.APIKey,
			cfg.Providers.Anthropic.Model,
			logger,
		), nil
	case "openai":
		var opts []openai.Option
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		return openai.NewClient(
			cfg.Providers.OpenAI.APIKey,
			cfg.Providers.OpenAI.Model,
			logger,
			opts...,
		), nil
	case "ollama":
		baseURL := cfg.Providers.Ollama.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return openai.NewClient(
			"",
			cfg.Providers.Ollama.Model,
			logger,
			openai.WithBaseURL(baseURL),
			openai.WithName("ollama"),
		), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
}

// profilesFromConfig converts configured agent profiles to runtime profiles.
func profilesFromConfig(configs []config.AgentProfileConfig) []agent.Profile {
	profiles := make([]agent.Profile, 0, len(configs))
	for _, pc := range configs {
		maxRisk := security.RiskHigh
		if pc.MaxRiskLevel != "" {
			maxRisk = security.ParseRiskLevel(pc.MaxRiskLevel)
		}
		profiles = append(profiles, agent.Profile{
			ID:           pc.ID,
			Name:         pc.Name,
			Description:  pc.Description,
			SystemPrompt: pc.SystemPrompt,
			AllowedTools: pc.AllowedTools,
			AutoApprove:  pc.AutoApprove,
			MaxRisk:      maxRisk,
			Default:      pc.Default,
		})
	}
	return profiles
}
