package main

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/Mindburn-Labs/attest/pkg/config"
	"github.com/Mindburn-Labs/attest/pkg/engines"
	"github.com/Mindburn-Labs/attest/pkg/engines/httpengine"
	"github.com/Mindburn-Labs/attest/pkg/engines/localengine"
	"github.com/Mindburn-Labs/attest/pkg/pipeline"
	"github.com/Mindburn-Labs/attest/pkg/report"
	"github.com/Mindburn-Labs/attest/pkg/run"
)

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// buildEngines selects per engine: a configured URL gets the HTTP client,
// anything else falls back to the in-process local engine.
func buildEngines(cfg *config.Config) (engines.Parser, engines.Executor, engines.Reviewer) {
	var (
		parser   engines.Parser   = localengine.Parser{}
		executor engines.Executor = localengine.Executor{}
		reviewer engines.Reviewer = localengine.Reviewer{}
	)
	if cfg.Parser.URL != "" {
		parser = httpengine.NewParser(engineConfig(cfg.Parser))
	}
	if cfg.Executor.URL != "" {
		executor = httpengine.NewExecutor(engineConfig(cfg.Executor))
	}
	if cfg.Reviewer.URL != "" {
		reviewer = httpengine.NewReviewer(engineConfig(cfg.Reviewer))
	}
	return parser, executor, reviewer
}

func engineConfig(e config.Engine) httpengine.Config {
	return httpengine.Config{
		BaseURL:    e.URL,
		Token:      e.Token,
		Timeout:    e.Timeout,
		MaxRetries: e.MaxRetries,
	}
}

func buildSigner(cfg *config.Config) (*report.Signer, error) {
	if seed := cfg.SigningSeedBytes(); seed != nil {
		return report.NewSigner(seed)
	}
	return report.NewRandomSigner()
}

func stepTimeouts(in map[string]time.Duration) map[pipeline.Step]time.Duration {
	if len(in) == 0 {
		return nil
	}
	out := make(map[pipeline.Step]time.Duration, len(in))
	for k, v := range in {
		out[pipeline.Step(k)] = v
	}
	return out
}

func colorState(s run.State) string {
	switch s {
	case run.StateCompleted:
		return ColorGreen + string(s) + ColorReset
	case run.StateFailed:
		return ColorRed + string(s) + ColorReset
	case run.StateAwaitingApproval, run.StateReportReady:
		return ColorYellow + string(s) + ColorReset
	default:
		return string(s)
	}
}

func printRun(w io.Writer, r *run.Run) {
	fmt.Fprintf(w, "\n%sRun %s%s\n", ColorBold, r.ID, ColorReset)
	fmt.Fprintf(w, "  State:      %s\n", colorState(r.State))
	if r.Reason != "" {
		fmt.Fprintf(w, "  Reason:     %s\n", r.Reason)
	}
	if r.ShardID != "" {
		fmt.Fprintf(w, "  Shard:      %s\n", r.ShardID)
	}
	if r.Workspace != "" {
		fmt.Fprintf(w, "  Workspace:  %s\n", r.Workspace)
	}
	fmt.Fprintf(w, "  Created:    %s\n", r.CreatedAt.Format(time.RFC3339))
	if r.CompletedAt != nil {
		fmt.Fprintf(w, "  Completed:  %s\n", r.CompletedAt.Format(time.RFC3339))
	}

	if len(r.Artifacts) > 0 {
		names := make([]string, 0, len(r.Artifacts))
		for name := range r.Artifacts {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(w, "  Artifacts:  %d\n", len(names))
		for _, name := range names {
			fmt.Fprintf(w, "    %s%-22s%s %s\n", ColorGray, name, ColorReset, r.Artifacts[name])
		}
	}

	if g := r.Gate; g != nil {
		verdict := ColorGreen + "passed" + ColorReset
		if !g.Passed {
			verdict = ColorRed + "blocked" + ColorReset
		}
		fmt.Fprintf(w, "  Gate:       %s\n", verdict)
		fmt.Fprintf(w, "    RC:  %.3f (%d/%d requirements covered)\n",
			g.Metrics.RC, g.Metrics.CoveredRequirements, g.Metrics.TestableRequirements)
		fmt.Fprintf(w, "    APR: %.3f (%d/%d deterministic assertions)\n",
			g.Metrics.APR, g.Metrics.DeterministicPassed, g.Metrics.DeterministicTotal)
		if g.Metrics.FR != nil {
			fmt.Fprintf(w, "    FR:  %.3f (%d flaky)\n", *g.Metrics.FR, g.Metrics.FlakyCases)
		}
		for _, reason := range g.BlockReasons {
			fmt.Fprintf(w, "    %sblock%s %s\n", ColorRed, ColorReset, reason)
		}
		for _, warning := range g.Warnings {
			fmt.Fprintf(w, "    %swarn%s  %s\n", ColorYellow, ColorReset, warning)
		}
	}

	if len(r.Decisions) > 0 {
		fmt.Fprintf(w, "  Decisions:\n")
		for _, d := range r.Decisions {
			line := fmt.Sprintf("    %2d. %-20s %s -> %s", d.Seq, d.Event, d.From, d.To)
			if d.Reason != "" {
				line += "  (" + d.Reason + ")"
			}
			fmt.Fprintln(w, line)
		}
	}
	fmt.Fprintln(w, "")
}
