package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // Postgres Driver

	"github.com/Mindburn-Labs/attest/pkg/api"
	"github.com/Mindburn-Labs/attest/pkg/config"
	"github.com/Mindburn-Labs/attest/pkg/events"
	"github.com/Mindburn-Labs/attest/pkg/lifecycle"
	"github.com/Mindburn-Labs/attest/pkg/observability"
	"github.com/Mindburn-Labs/attest/pkg/pipeline"
	"github.com/Mindburn-Labs/attest/pkg/store"
	"github.com/Mindburn-Labs/attest/pkg/workspace"
)

func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath string
		addr       string
	)
	cmd.StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.StringVar(&addr, "addr", "", "Listen address override")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}

	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)
	ctx := context.Background()

	obs := observability.Disabled()
	if cfg.Telemetry.Enabled {
		ocfg := observability.DefaultConfig()
		ocfg.Enabled = true
		ocfg.ServiceVersion = version
		ocfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
		ocfg.Environment = cfg.Telemetry.Environment
		ocfg.SampleRate = cfg.Telemetry.SampleRate
		ocfg.Insecure = cfg.Telemetry.Insecure
		obs, err = observability.New(ctx, ocfg)
		if err != nil {
			fmt.Fprintf(stderr, "Error: telemetry: %v\n", err)
			return 2
		}
	}

	var (
		runs      store.RunStore
		db        *sql.DB
		storeKind = "env"
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintf(stderr, "Error: open database: %v\n", err)
			return 2
		}
		if err := db.PingContext(ctx); err != nil {
			fmt.Fprintf(stderr, "Error: database ping: %v\n", err)
			return 2
		}
		sqlStore := store.NewSQLStore(db)
		if err := sqlStore.Init(ctx); err != nil {
			fmt.Fprintf(stderr, "Error: init run store: %v\n", err)
			return 2
		}
		runs = sqlStore
		storeKind = "postgres"
	} else {
		runs, err = store.NewStoreFromEnv(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "Error: run store: %v\n", err)
			return 2
		}
	}

	machineKeys, httpKeys, keyKind, err := buildKeyStores(ctx, cfg, db)
	if err != nil {
		fmt.Fprintf(stderr, "Error: key store: %v\n", err)
		return 2
	}

	ws, err := workspace.NewStoreFromEnv(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: workspace store: %v\n", err)
		return 2
	}

	signer, err := buildSigner(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: signer: %v\n", err)
		return 2
	}
	parser, executor, reviewer := buildEngines(cfg)
	enginesMode := "local"
	if cfg.Parser.URL != "" {
		enginesMode = cfg.Parser.URL
	}

	slo := observability.NewSLOTracker()
	for _, target := range observability.DefaultStepTargets() {
		slo.SetTarget(target)
	}

	bus := events.NewFanout(events.NewLogSink(logger))

	seq, err := pipeline.New(pipeline.Deps{
		Machine:   lifecycle.NewMachine(lifecycle.WithKeyStore(machineKeys), lifecycle.WithLogger(logger)),
		Runs:      runs,
		Workspace: ws,
		Parser:    parser,
		Executor:  executor,
		Reviewer:  reviewer,
		Signer:    signer,
		Obs:       obs,
		SLO:       slo,
		Bus:       bus,
		Logger:    logger,
	}, pipeline.Config{
		StepTimeout:  cfg.StepTimeout,
		StepTimeouts: stepTimeouts(cfg.StepTimeouts),
		AutoApprove:  cfg.AutoApprove,
		AutoConfirm:  cfg.AutoConfirm,
		Gate:         cfg.Gate,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	watchdog := pipeline.NewWatchdog(seq, cfg.ApprovalTimeout, cfg.ConfirmTimeout, logger)
	bus.Register(watchdog)

	var tokens *api.GateTokens
	if cfg.GateTokenSecret != "" {
		tokens = api.NewGateTokens([]byte(cfg.GateTokenSecret), cfg.GateTokenTTL)
	}
	var limiter *api.GlobalRateLimiter
	if cfg.RequestsPerSecond > 0 {
		rps := int(cfg.RequestsPerSecond)
		if rps < 1 {
			rps = 1
		}
		limiter = api.NewGlobalRateLimiter(rps, cfg.Burst)
	}

	srv := api.NewServer(seq, runs, api.ServerConfig{
		MaxBodyBytes: cfg.MaxBodyBytes,
		Tokens:       tokens,
		Limiter:      limiter,
		Keys:         httpKeys,
		Logger:       logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("shutting down")
		watchdog.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "error", err)
		}
		if err := obs.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown", "error", err)
		}
	}()

	fmt.Fprintf(stdout, "%sAttest Orchestrator%s\n", ColorBold+ColorBlue, ColorReset)
	fmt.Fprintf(stdout, "  Listen:     http://localhost%s\n", cfg.ListenAddr)
	fmt.Fprintf(stdout, "  Runs:       %s\n", storeKind)
	fmt.Fprintf(stdout, "  Keys:       %s\n", keyKind)
	fmt.Fprintf(stdout, "  Engines:    %s\n", enginesMode)
	fmt.Fprintf(stdout, "  Gates:      approval=%s confirm=%s\n", gateMode(cfg.AutoApprove, cfg.ApprovalTimeout), gateMode(cfg.AutoConfirm, cfg.ConfirmTimeout))
	if tokens != nil {
		fmt.Fprintf(stdout, "  Tokens:     gate decisions require bearer tokens (ttl %s)\n", cfg.GateTokenTTL)
	}
	fmt.Fprintf(stdout, "  Ctrl+C to stop.\n")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

// buildKeyStores picks the transition dedupe store and the HTTP
// idempotency store. Redis wins, a shared database handle is next, and a
// single instance falls back to process memory.
func buildKeyStores(ctx context.Context, cfg *config.Config, db *sql.DB) (machineKeys, httpKeys lifecycle.KeyStore, kind string, err error) {
	switch {
	case cfg.RedisAddr != "":
		machineKeys = lifecycle.NewRedisKeyStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyTTL)
		httpKeys = lifecycle.NewRedisKeyStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.IdempotencyTTL)
		return machineKeys, httpKeys, "redis", nil
	case db != nil:
		ks := lifecycle.NewSQLKeyStore(db)
		if err := ks.Init(ctx); err != nil {
			return nil, nil, "", err
		}
		return ks, ks, "postgres", nil
	default:
		machineKeys = lifecycle.NewMemoryKeyStore(cfg.KeyTTL)
		httpKeys = lifecycle.NewMemoryKeyStore(cfg.IdempotencyTTL)
		return machineKeys, httpKeys, "memory", nil
	}
}

func gateMode(auto bool, ttl time.Duration) string {
	if auto {
		return "auto"
	}
	if ttl > 0 {
		return fmt.Sprintf("manual(%s)", ttl)
	}
	return "manual"
}
