package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Mindburn-Labs/attest/pkg/events"
	"github.com/Mindburn-Labs/attest/pkg/lifecycle"
	"github.com/Mindburn-Labs/attest/pkg/pipeline"
	"github.com/Mindburn-Labs/attest/pkg/run"
	"github.com/Mindburn-Labs/attest/pkg/store"
	"github.com/Mindburn-Labs/attest/pkg/workspace"
)

type labelFlags map[string]string

func (l labelFlags) String() string {
	parts := make([]string, 0, len(l))
	for k, v := range l {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (l labelFlags) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || k == "" {
		return fmt.Errorf("label must be key=value, got %q", v)
	}
	l[k] = val
	return nil
}

func runRunCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		prdPath     string
		configPath  string
		runID       string
		shardID     string
		autoApprove bool
		autoConfirm bool
		jsonOutput  bool
		labels      = labelFlags{}
	)
	cmd.StringVar(&prdPath, "prd", "", "Path to the PRD document (REQUIRED)")
	cmd.StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.StringVar(&runID, "id", "", "Run ID (default: generated)")
	cmd.StringVar(&shardID, "shard", "", "Shard ID recorded on the run")
	cmd.BoolVar(&autoApprove, "auto-approve", true, "Apply the approval gate automatically")
	cmd.BoolVar(&autoConfirm, "auto-confirm", true, "Apply the confirmation gate automatically")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the final run as JSON")
	cmd.Var(labels, "label", "Run label as key=value (repeatable)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if prdPath == "" {
		fmt.Fprintln(stderr, "Error: --prd is required")
		cmd.Usage()
		return 2
	}

	prd, err := os.ReadFile(prdPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading PRD: %v\n", err)
		return 2
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	logger := newLogger(cfg, stderr)

	ws, err := workspace.NewStoreFromEnv(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: workspace store: %v\n", err)
		return 2
	}
	runs, err := store.NewStoreFromEnv(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: run store: %v\n", err)
		return 2
	}

	signer, err := buildSigner(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: signer: %v\n", err)
		return 2
	}
	parser, executor, reviewer := buildEngines(cfg)

	seq, err := pipeline.New(pipeline.Deps{
		Machine:   lifecycle.NewMachine(lifecycle.WithLogger(logger)),
		Runs:      runs,
		Workspace: ws,
		Parser:    parser,
		Executor:  executor,
		Reviewer:  reviewer,
		Signer:    signer,
		Bus:       events.NewFanout(events.NewLogSink(logger)),
		Logger:    logger,
	}, pipeline.Config{
		StepTimeout:  cfg.StepTimeout,
		StepTimeouts: stepTimeouts(cfg.StepTimeouts),
		AutoApprove:  autoApprove,
		AutoConfirm:  autoConfirm,
		Gate:         cfg.Gate,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	r, runErr := seq.Run(ctx, pipeline.RunRequest{
		RunID:   runID,
		ShardID: shardID,
		PRD:     prd,
		Labels:  labels,
	})
	if runErr != nil && r == nil {
		fmt.Fprintf(stderr, "Error: %v\n", runErr)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(r, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		printRun(stdout, r)
		switch r.State {
		case run.StateAwaitingApproval:
			fmt.Fprintln(stdout, "Run is paused at the approval gate. Decide via the HTTP surface or rerun with --auto-approve.")
		case run.StateReportReady:
			fmt.Fprintln(stdout, "Run is paused at the confirmation gate. Decide via the HTTP surface or rerun with --auto-confirm.")
		}
	}

	if r.State == run.StateFailed {
		return 1
	}
	return 0
}
