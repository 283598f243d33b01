// Package config loads orchestrator configuration. Defaults come first,
// an optional YAML file overrides them, and environment variables override
// the file, so a container can be tuned without shipping a new config.
// Workspace backend selection lives with the workspace factory and its own
// ATTEST_WORKSPACE_* variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/attest/pkg/gate"
)

// Engine holds the connection settings for one collaborator engine.
type Engine struct {
	URL        string
	Token      string
	Timeout    time.Duration
	MaxRetries int
}

// Telemetry holds the OpenTelemetry export settings.
type Telemetry struct {
	Enabled      bool
	OTLPEndpoint string
	Environment  string
	SampleRate   float64
	Insecure     bool
}

// Config holds everything the orchestrator needs at startup.
type Config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	LogLevel  string
	LogFormat string

	// DatabaseURL is the Postgres DSN for the run store. Empty keeps runs
	// in process memory.
	DatabaseURL string

	// RedisAddr backs transition dedupe keys. Empty keeps them in process
	// memory, which is fine for a single instance.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyTTL        time.Duration

	// SigningSeed is hex-encoded root key material for report signing.
	// Empty generates an ephemeral seed at startup.
	SigningSeed string

	// GateTokenSecret signs approval and confirmation link tokens. Empty
	// disables token-authenticated gate decisions.
	GateTokenSecret string
	GateTokenTTL    time.Duration

	AutoApprove bool
	AutoConfirm bool

	StepTimeout  time.Duration
	StepTimeouts map[string]time.Duration

	// Gate stall deadlines enforced by the watchdog.
	ApprovalTimeout time.Duration
	ConfirmTimeout  time.Duration

	RequestsPerSecond float64
	Burst             int
	IdempotencyTTL    time.Duration

	Gate gate.Config

	Parser   Engine
	Executor Engine
	Reviewer Engine

	Telemetry Telemetry
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:      ":8080",
		ShutdownTimeout: 10 * time.Second,
		MaxBodyBytes:    1 << 20,

		LogLevel:  "info",
		LogFormat: "text",

		KeyTTL:       7 * 24 * time.Hour,
		GateTokenTTL: 24 * time.Hour,

		StepTimeout:     5 * time.Minute,
		ApprovalTimeout: 24 * time.Hour,
		ConfirmTimeout:  24 * time.Hour,

		RequestsPerSecond: 10,
		Burst:             20,
		IdempotencyTTL:    24 * time.Hour,

		Gate: gate.DefaultConfig(),

		Parser:   Engine{Timeout: 120 * time.Second, MaxRetries: 3},
		Executor: Engine{Timeout: 10 * time.Minute, MaxRetries: 3},
		Reviewer: Engine{Timeout: 120 * time.Second, MaxRetries: 3},

		Telemetry: Telemetry{
			OTLPEndpoint: "localhost:4317",
			Environment:  "development",
			SampleRate:   1.0,
		},
	}
}

// Load builds the configuration from defaults and the environment.
func Load() (*Config, error) {
	c := Default()
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile builds the configuration from defaults, the YAML file at path,
// and the environment, in that order of precedence.
func LoadFile(path string) (*Config, error) {
	c := Default()
	if err := c.applyFile(path); err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	r := &envReader{}

	c.ListenAddr = r.str("ATTEST_LISTEN_ADDR", c.ListenAddr)
	c.ShutdownTimeout = r.dur("ATTEST_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.MaxBodyBytes = r.int64("ATTEST_MAX_BODY_BYTES", c.MaxBodyBytes)

	c.LogLevel = r.str("ATTEST_LOG_LEVEL", c.LogLevel)
	c.LogFormat = r.str("ATTEST_LOG_FORMAT", c.LogFormat)

	c.DatabaseURL = r.str("ATTEST_DATABASE_URL", c.DatabaseURL)
	c.RedisAddr = r.str("ATTEST_REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = r.str("ATTEST_REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = r.integer("ATTEST_REDIS_DB", c.RedisDB)
	c.KeyTTL = r.dur("ATTEST_KEY_TTL", c.KeyTTL)

	c.SigningSeed = r.str("ATTEST_SIGNING_SEED", c.SigningSeed)
	c.GateTokenSecret = r.str("ATTEST_GATE_TOKEN_SECRET", c.GateTokenSecret)
	c.GateTokenTTL = r.dur("ATTEST_GATE_TOKEN_TTL", c.GateTokenTTL)

	c.AutoApprove = r.boolean("ATTEST_AUTO_APPROVE", c.AutoApprove)
	c.AutoConfirm = r.boolean("ATTEST_AUTO_CONFIRM", c.AutoConfirm)

	c.StepTimeout = r.dur("ATTEST_STEP_TIMEOUT", c.StepTimeout)
	c.ApprovalTimeout = r.dur("ATTEST_APPROVAL_TIMEOUT", c.ApprovalTimeout)
	c.ConfirmTimeout = r.dur("ATTEST_CONFIRM_TIMEOUT", c.ConfirmTimeout)

	c.RequestsPerSecond = r.float("ATTEST_RATE_RPS", c.RequestsPerSecond)
	c.Burst = r.integer("ATTEST_RATE_BURST", c.Burst)
	c.IdempotencyTTL = r.dur("ATTEST_IDEMPOTENCY_TTL", c.IdempotencyTTL)

	c.Gate.RCThreshold = r.float("ATTEST_RC_THRESHOLD", c.Gate.RCThreshold)
	c.Gate.APRThreshold = r.float("ATTEST_APR_THRESHOLD", c.Gate.APRThreshold)
	c.Gate.FRThreshold = r.float("ATTEST_FR_THRESHOLD", c.Gate.FRThreshold)
	c.Gate.BlockOnP0Failure = r.boolean("ATTEST_BLOCK_ON_P0", c.Gate.BlockOnP0Failure)

	c.Parser.URL = r.str("ATTEST_PARSER_URL", c.Parser.URL)
	c.Executor.URL = r.str("ATTEST_EXECUTOR_URL", c.Executor.URL)
	c.Reviewer.URL = r.str("ATTEST_REVIEWER_URL", c.Reviewer.URL)
	for _, e := range []*Engine{&c.Parser, &c.Executor, &c.Reviewer} {
		e.Token = r.str("ATTEST_ENGINE_TOKEN", e.Token)
		e.MaxRetries = r.integer("ATTEST_ENGINE_RETRIES", e.MaxRetries)
	}

	c.Telemetry.Enabled = r.boolean("ATTEST_OTEL_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.OTLPEndpoint = r.str("ATTEST_OTEL_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.Environment = r.str("ATTEST_ENV", c.Telemetry.Environment)
	c.Telemetry.SampleRate = r.float("ATTEST_OTEL_SAMPLE_RATE", c.Telemetry.SampleRate)
	c.Telemetry.Insecure = r.boolean("ATTEST_OTEL_INSECURE", c.Telemetry.Insecure)

	return r.err
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.LogFormat)
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive, got %d", c.MaxBodyBytes)
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit must be positive, got %g", c.RequestsPerSecond)
	}
	if c.Burst < 1 {
		return fmt.Errorf("rate burst must be at least 1, got %d", c.Burst)
	}

	if c.SigningSeed != "" {
		seed, err := hex.DecodeString(c.SigningSeed)
		if err != nil {
			return fmt.Errorf("signing seed must be hex encoded: %v", err)
		}
		if len(seed) < 32 {
			return fmt.Errorf("signing seed must decode to at least 32 bytes, got %d", len(seed))
		}
	}
	if c.GateTokenSecret != "" && len(c.GateTokenSecret) < 32 {
		return fmt.Errorf("gate token secret must be at least 32 characters, got %d", len(c.GateTokenSecret))
	}

	for _, t := range []struct {
		name string
		d    time.Duration
	}{
		{"step timeout", c.StepTimeout},
		{"approval timeout", c.ApprovalTimeout},
		{"confirm timeout", c.ConfirmTimeout},
		{"shutdown timeout", c.ShutdownTimeout},
	} {
		if t.d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", t.name, t.d)
		}
	}
	for step, d := range c.StepTimeouts {
		if d < 0 {
			return fmt.Errorf("step timeout for %s must not be negative, got %s", step, d)
		}
	}

	if c.Gate.RCThreshold > 1 || c.Gate.APRThreshold > 1 || c.Gate.FRThreshold > 1 {
		return fmt.Errorf("gate thresholds are ratios and must not exceed 1")
	}
	return nil
}

// SigningSeedBytes decodes the configured seed, or nil when unset.
func (c *Config) SigningSeedBytes() []byte {
	if c.SigningSeed == "" {
		return nil
	}
	seed, err := hex.DecodeString(c.SigningSeed)
	if err != nil {
		return nil
	}
	return seed
}

// envReader reads typed environment variables, remembering the first
// parse failure so call sites stay flat.
type envReader struct {
	err error
}

func (r *envReader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func (r *envReader) boolean(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, "a boolean")
		return def
	}
	return b
}

func (r *envReader) integer(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, "an integer")
		return def
	}
	return n
}

func (r *envReader) int64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.fail(key, v, "an integer")
		return def
	}
	return n
}

func (r *envReader) float(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, v, "a number")
		return def
	}
	return f
}

func (r *envReader) dur(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, `a duration like "30s" or "5m"`)
		return def
	}
	return d
}

func (r *envReader) fail(key, value, want string) {
	if r.err == nil {
		r.err = fmt.Errorf("%s=%q: expected %s", key, value, want)
	}
}
