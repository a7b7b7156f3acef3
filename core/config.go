package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Artemis pipeline kernel.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables, prefixed ARTEMIS_ (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithNamespace("team-a"),
//	    WithSnapshotDir("/var/lib/artemis/snapshots"),
//	    WithBackend("redis", "redis://localhost:6379/0"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// Name identifies this orchestrator instance for logging and metrics.
	Name string `json:"name" env:"ARTEMIS_NAME" default:"artemis"`

	// Namespace scopes Redis keys and on-disk paths when several Artemis
	// deployments share infrastructure.
	Namespace string `json:"namespace" env:"ARTEMIS_NAMESPACE" default:"default"`

	// Backend names the persistence implementation: "file" (default,
	// single-process) or "redis" (shared, multi-process). Validate accepts
	// only these two values and requires RedisURL for "redis"; cmd/artemis
	// does not read it and always wires the file snapshot store and the
	// in-memory RAG.
	Backend string `json:"backend" env:"ARTEMIS_BACKEND" default:"file"`

	RedisURL string `json:"redis_url" env:"ARTEMIS_REDIS_URL"`

	// SnapshotDir is where FileSnapshotStore persists pipeline state.
	SnapshotDir string `json:"snapshot_dir" env:"ARTEMIS_SNAPSHOT_DIR" default:"./data/snapshots"`

	// WorkflowDir names a directory for YAML recovery workflow definitions.
	// Nothing in this module reads it: Engine.LoadWorkflowsFromYAML loads
	// one explicit file path once and does not watch for changes.
	WorkflowDir string `json:"workflow_dir" env:"ARTEMIS_WORKFLOW_DIR" default:"./workflows"`

	// KanbanPath is the JSON file FileKanbanBoard persists cards to.
	KanbanPath string `json:"kanban_path" env:"ARTEMIS_KANBAN_PATH" default:"./data/board.json"`

	Supervisor  SupervisorConfig  `json:"supervisor"`
	Budget      BudgetConfig      `json:"budget"`
	Sandbox     SandboxConfig     `json:"sandbox"`
	Arbitration ArbitrationConfig `json:"arbitration"`
	Telemetry   TelemetryConfig   `json:"telemetry"`
	Logging     LoggingConfig     `json:"logging"`
	Development DevelopmentConfig `json:"development"`

	// logger is excluded from JSON; used for config-time diagnostics only.
	logger Logger `json:"-"`
}

// SupervisorConfig configures the per-stage circuit breaker and retry
// policy the supervisor applies around every stage execution.
type SupervisorConfig struct {
	FailureThreshold float64       `json:"failure_threshold" env:"ARTEMIS_CB_ERROR_THRESHOLD" default:"0.5"`
	VolumeThreshold  int           `json:"volume_threshold" env:"ARTEMIS_CB_VOLUME_THRESHOLD" default:"10"`
	SleepWindow      time.Duration `json:"sleep_window" env:"ARTEMIS_CB_SLEEP_WINDOW" default:"30s"`
	HalfOpenRequests int           `json:"half_open_requests" env:"ARTEMIS_CB_HALF_OPEN" default:"3"`
	MaxAttempts      int           `json:"max_attempts" env:"ARTEMIS_RETRY_MAX_ATTEMPTS" default:"3"`
	InitialDelay     time.Duration `json:"initial_delay" env:"ARTEMIS_RETRY_INITIAL_DELAY" default:"1s"`
	MaxDelay         time.Duration `json:"max_delay" env:"ARTEMIS_RETRY_MAX_DELAY" default:"30s"`
	StageTimeout     time.Duration `json:"stage_timeout" env:"ARTEMIS_STAGE_TIMEOUT" default:"10m"`
}

// BudgetConfig caps what the pipeline will spend on LLM-backed stages.
// Exceeding a cap fails the stage attempt, which the supervisor does not
// retry.
type BudgetConfig struct {
	DailyCapUSD   float64 `json:"daily_cap_usd" env:"ARTEMIS_BUDGET_DAILY_CAP_USD" default:"50"`
	MonthlyCapUSD float64 `json:"monthly_cap_usd" env:"ARTEMIS_BUDGET_MONTHLY_CAP_USD" default:"1000"`
}

// SandboxConfig bounds resource usage for code the validation stage
// executes in the sandbox.
type SandboxConfig struct {
	CPUSeconds    int64  `json:"cpu_seconds" env:"ARTEMIS_SANDBOX_CPU_SECONDS" default:"30"`
	MemoryMB      int64  `json:"memory_mb" env:"ARTEMIS_SANDBOX_MEMORY_MB" default:"512"`
	MaxFileSizeMB int64  `json:"max_file_size_mb" env:"ARTEMIS_SANDBOX_MAX_FILE_MB" default:"100"`
	WallClock     string `json:"wall_clock" env:"ARTEMIS_SANDBOX_WALL_CLOCK" default:"60s"`
}

// ArbitrationConfig bounds the worker pool that runs competing developer
// workers for a single card in parallel.
type ArbitrationConfig struct {
	MaxConcurrentWorkers int           `json:"max_concurrent_workers" env:"ARTEMIS_ARBITRATION_WORKERS" default:"3"`
	WorkerTimeout        time.Duration `json:"worker_timeout" env:"ARTEMIS_ARBITRATION_TIMEOUT" default:"15m"`
}

// TelemetryConfig contains observability configuration for metrics and
// distributed tracing. Validate requires Endpoint when Enabled is set;
// cmd/artemis builds its telemetry provider from its own --otel-endpoint
// flag and does not read these fields.
type TelemetryConfig struct {
	Enabled        bool    `json:"enabled" env:"ARTEMIS_TELEMETRY_ENABLED" default:"false"`
	Endpoint       string  `json:"endpoint" env:"ARTEMIS_TELEMETRY_ENDPOINT,OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName    string  `json:"service_name" env:"ARTEMIS_TELEMETRY_SERVICE_NAME,OTEL_SERVICE_NAME"`
	MetricsEnabled bool    `json:"metrics_enabled" env:"ARTEMIS_TELEMETRY_METRICS" default:"true"`
	TracingEnabled bool    `json:"tracing_enabled" env:"ARTEMIS_TELEMETRY_TRACING" default:"true"`
	SamplingRate   float64 `json:"sampling_rate" env:"ARTEMIS_TELEMETRY_SAMPLING_RATE" default:"1.0"`
	Insecure       bool    `json:"insecure" env:"ARTEMIS_TELEMETRY_INSECURE" default:"true"`
}

// LoggingConfig contains logging configuration. Supports structured (JSON)
// and human-readable (text) formats.
type LoggingConfig struct {
	Level  string `json:"level" env:"ARTEMIS_LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"ARTEMIS_LOG_FORMAT" default:"json"`
	Output string `json:"output" env:"ARTEMIS_LOG_OUTPUT" default:"stdout"`
}

// DevelopmentConfig contains settings for local development and testing.
//
// WARNING: never enable development mode in production.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" env:"ARTEMIS_DEV_MODE" default:"false"`
	DebugLogging bool `json:"debug_logging" env:"ARTEMIS_DEBUG" default:"false"`
}

// Option is a functional option for configuring Artemis. Options are
// applied in order and can return an error if the configuration is invalid.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults. These can
// be overridden with functional options or ARTEMIS_* environment variables.
func DefaultConfig() *Config {
	return &Config{
		Name:        "artemis",
		Namespace:   "default",
		Backend:     "file",
		SnapshotDir: "./data/snapshots",
		WorkflowDir: "./workflows",
		KanbanPath:  "./data/board.json",
		Supervisor: SupervisorConfig{
			FailureThreshold: 0.5,
			VolumeThreshold:  10,
			SleepWindow:      30 * time.Second,
			HalfOpenRequests: 3,
			MaxAttempts:      3,
			InitialDelay:     time.Second,
			MaxDelay:         30 * time.Second,
			StageTimeout:     10 * time.Minute,
		},
		Budget: BudgetConfig{
			DailyCapUSD:   50,
			MonthlyCapUSD: 1000,
		},
		Sandbox: SandboxConfig{
			CPUSeconds:    30,
			MemoryMB:      512,
			MaxFileSizeMB: 100,
			WallClock:     "60s",
		},
		Arbitration: ArbitrationConfig{
			MaxConcurrentWorkers: 3,
			WorkerTimeout:        15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadFromEnv overlays environment variables on top of the current
// configuration. Unset variables leave existing values untouched.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("ARTEMIS_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv(EnvNamespace); v != "" {
		c.Namespace = v
	}
	if v := os.Getenv("ARTEMIS_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv(EnvSnapshotDir); v != "" {
		c.SnapshotDir = v
	}
	if v := os.Getenv(EnvWorkflowDir); v != "" {
		c.WorkflowDir = v
	}
	if v := os.Getenv("ARTEMIS_KANBAN_PATH"); v != "" {
		c.KanbanPath = v
	}
	if v := os.Getenv("ARTEMIS_BUDGET_DAILY_CAP_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Budget.DailyCapUSD = f
		}
	}
	if v := os.Getenv("ARTEMIS_BUDGET_MONTHLY_CAP_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Budget.MonthlyCapUSD = f
		}
	}
	if v := os.Getenv(EnvDevMode); v != "" {
		c.Development.Enabled = parseBool(v)
		if c.Development.Enabled {
			c.Logging.Format = "text"
		}
	}
	if v := os.Getenv("ARTEMIS_DEBUG"); v != "" {
		c.Development.DebugLogging = parseBool(v)
	}
	if v := os.Getenv("ARTEMIS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ARTEMIS_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("ARTEMIS_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("ARTEMIS_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	} else if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
	return nil
}

// Validate checks the configuration for required values and internal
// consistency, returning a *FrameworkError describing the first problem.
func (c *Config) Validate() error {
	if c.Name == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "name is required",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Backend != "file" && c.Backend != "redis" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("unknown backend: %q", c.Backend),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Backend == "redis" && c.RedisURL == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "redis URL is required when backend is redis",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Budget.DailyCapUSD <= 0 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "budget daily cap must be positive",
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Budget.MonthlyCapUSD < c.Budget.DailyCapUSD {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "budget monthly cap must be at least the daily cap",
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "telemetry endpoint is required when telemetry is enabled",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Arbitration.MaxConcurrentWorkers < 1 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "arbitration worker pool must allow at least one worker",
			Err:     ErrInvalidConfiguration,
		}
	}

	return nil
}

// parseBool converts a string to a boolean value.
// Accepts "true", "1", "yes", "on" (case-insensitive) as true.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Functional Options

// WithName sets the orchestrator instance name used in logging and metrics.
func WithName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return &FrameworkError{Op: "WithName", Kind: "config", Message: "name cannot be empty", Err: ErrInvalidConfiguration}
		}
		c.Name = name
		return nil
	}
}

// WithNamespace sets the namespace used to scope persisted state.
func WithNamespace(namespace string) Option {
	return func(c *Config) error {
		c.Namespace = namespace
		return nil
	}
}

// WithBackend selects the persistence backend ("file" or "redis") and,
// for redis, its connection URL.
func WithBackend(backend, redisURL string) Option {
	return func(c *Config) error {
		if backend != "file" && backend != "redis" {
			return &FrameworkError{Op: "WithBackend", Kind: "config", Message: fmt.Sprintf("unknown backend: %q", backend), Err: ErrInvalidConfiguration}
		}
		c.Backend = backend
		c.RedisURL = redisURL
		return nil
	}
}

// WithSnapshotDir overrides where the file snapshot store persists state.
func WithSnapshotDir(dir string) Option {
	return func(c *Config) error {
		c.SnapshotDir = dir
		return nil
	}
}

// WithWorkflowDir overrides where recovery workflow definitions are loaded from.
func WithWorkflowDir(dir string) Option {
	return func(c *Config) error {
		c.WorkflowDir = dir
		return nil
	}
}

// WithBudget sets the daily and monthly spend caps enforced by the budget tracker.
func WithBudget(dailyCapUSD, monthlyCapUSD float64) Option {
	return func(c *Config) error {
		if dailyCapUSD <= 0 || monthlyCapUSD < dailyCapUSD {
			return &FrameworkError{Op: "WithBudget", Kind: "config", Message: "invalid budget caps", Err: ErrInvalidConfiguration}
		}
		c.Budget.DailyCapUSD = dailyCapUSD
		c.Budget.MonthlyCapUSD = monthlyCapUSD
		return nil
	}
}

// WithSupervisorConfig overrides the circuit breaker and retry policy.
func WithSupervisorConfig(sc SupervisorConfig) Option {
	return func(c *Config) error {
		c.Supervisor = sc
		return nil
	}
}

// WithTelemetry enables OpenTelemetry export to the given OTLP endpoint.
func WithTelemetry(enabled bool, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = enabled
		c.Telemetry.Endpoint = endpoint
		return nil
	}
}

// WithLogLevel sets the minimum log level ("debug", "info", "warn", "error").
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithDevelopmentMode toggles development-friendly defaults: human-readable
// logs and verbose debug output.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.Enabled = enabled
		if enabled {
			c.Logging.Format = "text"
			c.Development.DebugLogging = true
		}
		return nil
	}
}

// WithLogger attaches a logger used for configuration-time diagnostics.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// NewConfig builds a Config starting from DefaultConfig, overlaying
// environment variables, then applying functional options, validating
// the result before returning it.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, &FrameworkError{Op: "NewConfig", Kind: "config", Message: "failed to load environment", Err: err}
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, &FrameworkError{Op: "NewConfig", Kind: "config", Message: "failed to apply option", Err: err}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ============================================================================
// ProductionLogger Implementation - Layered Observability Architecture
// ============================================================================

// ProductionLogger provides structured (JSON) or text logging for kernel
// operations. Its metrics layer is switched on by EnableMetrics; with no
// metrics registry wired into core, that layer emits nothing and adds no
// trace-context fields.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	format      string
	output      io.Writer

	metricsEnabled bool
}

// NewProductionLogger creates a logger from LoggingConfig.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	var output io.Writer = os.Stdout
	if logging.Output == "stderr" {
		output = os.Stderr
	}

	return &ProductionLogger{
		level:          strings.ToLower(logging.Level),
		debug:          dev.DebugLogging || logging.Level == "debug",
		serviceName:    serviceName,
		format:         logging.Format,
		output:         output,
		metricsEnabled: false,
	}
}

// EnableMetrics turns on the metrics layer. Nothing in this module calls it.
func (p *ProductionLogger) EnableMetrics() {
	p.metricsEnabled = true
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, nil)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, nil)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, ctx)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, nil)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, ctx)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, ctx)
	}
}

// logEvent renders a single log line in either JSON or human-readable form.
func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	timestamp := time.Now().Format(time.RFC3339)

	if p.format == "json" {
		logEntry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"component": "artemis",
			"message":   msg,
		}

		if ctx != nil && p.metricsEnabled {
			if baggage := getContextBaggage(ctx); len(baggage) > 0 {
				for k, v := range baggage {
					logEntry["trace."+k] = v
				}
			}
		}

		for k, v := range fields {
			logEntry[k] = v
		}

		if data, err := json.Marshal(logEntry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
	} else {
		traceInfo := ""
		if ctx != nil && p.metricsEnabled {
			if baggage := getContextBaggage(ctx); baggage["request_id"] != "" {
				traceInfo = fmt.Sprintf("[card=%s] ", baggage["request_id"])
			}
		}

		var fieldStr strings.Builder
		if len(fields) > 0 {
			fieldStr.WriteString(" ")
			for k, v := range fields {
				fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
			}
		}

		fmt.Fprintf(p.output, "%s [%s] [%s] %s%s%s\n",
			timestamp, level, p.serviceName, traceInfo, msg, fieldStr.String())
	}

	if p.metricsEnabled {
		p.emitFrameworkMetric(level, msg, fields, ctx)
	}
}

// emitFrameworkMetric emits a low-cardinality counter for this log event.
func (p *ProductionLogger) emitFrameworkMetric(level, msg string, fields map[string]interface{}, ctx context.Context) {
	labels := []string{
		"level", level,
		"service", p.serviceName,
		"component", "artemis",
	}

	for k, v := range fields {
		switch k {
		case "stage", "status", "error_type", "issue_type":
			labels = append(labels, k, fmt.Sprintf("%v", v))
		}
	}

	if ctx != nil {
		emitMetricWithContext(ctx, "artemis.kernel.operations", 1.0, labels...)
	} else {
		emitMetric("artemis.kernel.operations", 1.0, labels...)
	}
}

// Helper functions for the logger's metrics layer. No metrics registry is
// wired into core, so emitting is a no-op and no trace baggage is available.
func emitMetric(name string, value float64, labels ...string) {}

func emitMetricWithContext(ctx context.Context, name string, value float64, labels ...string) {}

func getContextBaggage(ctx context.Context) map[string]string {
	return make(map[string]string)
}
