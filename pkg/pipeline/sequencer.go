package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/attest/pkg/arbiter"
	"github.com/Mindburn-Labs/attest/pkg/artifact"
	"github.com/Mindburn-Labs/attest/pkg/canonical"
	"github.com/Mindburn-Labs/attest/pkg/engines"
	"github.com/Mindburn-Labs/attest/pkg/events"
	"github.com/Mindburn-Labs/attest/pkg/gate"
	"github.com/Mindburn-Labs/attest/pkg/lifecycle"
	"github.com/Mindburn-Labs/attest/pkg/observability"
	"github.com/Mindburn-Labs/attest/pkg/report"
	"github.com/Mindburn-Labs/attest/pkg/run"
	"github.com/Mindburn-Labs/attest/pkg/store"
	"github.com/Mindburn-Labs/attest/pkg/workspace"
)

// Config tunes one sequencer. The zero value runs with no step timeouts,
// default gate thresholds, and both human gates armed.
type Config struct {
	// StepTimeout bounds each step. 0 disables the per-step deadline.
	StepTimeout time.Duration
	// StepTimeouts overrides StepTimeout for individual steps.
	StepTimeouts map[Step]time.Duration
	// AutoApprove applies APPROVED as soon as a run reaches
	// awaiting_approval. Offline mode uses this.
	AutoApprove bool
	// AutoConfirm applies CONFIRMED as soon as a run reaches report_ready.
	AutoConfirm bool
	// Gate holds the quality gate thresholds and policy rules.
	Gate gate.Config
}

// Deps are the sequencer's collaborators. Machine, Runs, Workspace, and
// the three engines are required; the rest default to quiet no-ops.
type Deps struct {
	Machine   *lifecycle.Machine
	Runs      store.RunStore
	Workspace workspace.Store
	Parser    engines.Parser
	Executor  engines.Executor
	Reviewer  engines.Reviewer

	Signer *report.Signer
	Obs    *observability.Provider
	SLO    *observability.SLOTracker
	Bus    *events.Fanout
	Logger *slog.Logger
	Clock  func() time.Time
}

// Sequencer drives one run at a time through the fixed step order. It is
// safe for concurrent use across distinct runs; per run it is a single
// logical thread of control.
type Sequencer struct {
	machine  *lifecycle.Machine
	runs     store.RunStore
	ws       workspace.Store
	parser   engines.Parser
	executor engines.Executor
	reviewer engines.Reviewer

	signer    *report.Signer
	obs       *observability.Provider
	slo       *observability.SLOTracker
	bus       *events.Fanout
	logger    *slog.Logger
	clock     func() time.Time
	cfg       Config
	gate      *gate.Evaluator
	validator *artifact.Validator
}

// New wires a sequencer. Gate thresholds and policy rules are compiled
// here so a bad rule fails construction, not a run.
func New(d Deps, cfg Config) (*Sequencer, error) {
	switch {
	case d.Machine == nil:
		return nil, fmt.Errorf("pipeline: state machine is required")
	case d.Runs == nil:
		return nil, fmt.Errorf("pipeline: run store is required")
	case d.Workspace == nil:
		return nil, fmt.Errorf("pipeline: workspace store is required")
	case d.Parser == nil:
		return nil, fmt.Errorf("pipeline: parser engine is required")
	case d.Executor == nil:
		return nil, fmt.Errorf("pipeline: executor engine is required")
	case d.Reviewer == nil:
		return nil, fmt.Errorf("pipeline: reviewer engine is required")
	}

	if d.Signer == nil {
		signer, err := report.NewRandomSigner()
		if err != nil {
			return nil, fmt.Errorf("pipeline: default signer: %w", err)
		}
		d.Signer = signer
	}
	if d.Obs == nil {
		d.Obs = observability.Disabled()
	}
	if d.SLO == nil {
		d.SLO = observability.NewSLOTracker()
		for _, target := range observability.DefaultStepTargets() {
			d.SLO.SetTarget(target)
		}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}

	evaluator, err := gate.New(cfg.Gate)
	if err != nil {
		return nil, fmt.Errorf("pipeline: gate config: %w", err)
	}
	validator, err := artifact.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("pipeline: artifact schemas: %w", err)
	}

	return &Sequencer{
		machine:   d.Machine,
		runs:      d.Runs,
		ws:        d.Workspace,
		parser:    d.Parser,
		executor:  d.Executor,
		reviewer:  d.Reviewer,
		signer:    d.Signer,
		obs:       d.Obs,
		slo:       d.SLO,
		bus:       d.Bus,
		logger:    d.Logger.With("component", "pipeline"),
		clock:     d.Clock,
		cfg:       cfg,
		gate:      evaluator,
		validator: validator,
	}, nil
}

// RunRequest starts a new run over one PRD document.
type RunRequest struct {
	// RunID is optional; a UUID is assigned when empty.
	RunID   string
	ShardID string
	PRD     []byte
	Labels  map[string]string
}

// Run creates a run and drives it until it pauses at a gate, finishes, or
// fails. The returned run reflects the state reached; on error it is
// returned alongside so callers can inspect the failure reason.
func (s *Sequencer) Run(ctx context.Context, req RunRequest) (*run.Run, error) {
	if len(req.PRD) == 0 {
		return nil, fmt.Errorf("prd document is required")
	}

	id := req.RunID
	if id == "" {
		id = uuid.NewString()
	}
	r := run.New(id, req.ShardID, s.clock().UTC())
	r.Workspace = path.Join("runs", id)
	r.Labels = req.Labels

	if err := s.runs.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create run %s: %w", id, err)
	}
	s.logger.InfoContext(ctx, "run created", "run_id", id, "shard_id", req.ShardID)

	if err := s.driveFrom(ctx, r, StepInitialize, req.PRD); err != nil {
		return r, err
	}
	return r, nil
}

// driveFrom executes the step sequence starting at from, stopping at the
// first gate pause, step failure, or the end. The prd payload is consumed
// only by initialize; nil means reuse the one already in the workspace.
func (s *Sequencer) driveFrom(ctx context.Context, r *run.Run, from Step, prd []byte) error {
	idx := from.index()
	if idx < 0 {
		return fmt.Errorf("unknown pipeline step %q", from)
	}
	if err := s.alignState(ctx, r, from); err != nil {
		return err
	}

	for _, step := range AllSteps()[idx:] {
		switch step {
		case StepInitialize:
			// No ERROR edge leaves created: an initialize failure
			// surfaces to the caller without a transition.
			if _, err := s.execStep(ctx, r, step, func(c context.Context) (map[string][]byte, error) {
				return s.opInitialize(c, r, prd)
			}); err != nil {
				return err
			}
			if err := s.advanceIfValid(ctx, r, run.EventStartParsing, "", nil); err != nil {
				return err
			}

		case StepPRDParsing:
			if _, err := s.execStep(ctx, r, step, func(c context.Context) (map[string][]byte, error) {
				return s.opParse(c, r)
			}); err != nil {
				return s.failStep(ctx, r, step, err)
			}
			if err := s.advanceIfValid(ctx, r, run.EventParsingComplete, "", nil); err != nil {
				return err
			}
			if err := s.advanceIfValid(ctx, r, run.EventGenerationComplete, "", nil); err != nil {
				return err
			}
			if !s.cfg.AutoApprove {
				s.bus.Publish(ctx, events.Event{
					Type:  events.TypeApprovalRequired,
					RunID: r.ID,
					To:    r.State,
				})
				s.logger.InfoContext(ctx, "awaiting approval", "run_id", r.ID)
				return nil
			}
			if err := s.advance(ctx, r, run.EventApproved, "auto approval", map[string]any{"actor": "auto"}); err != nil {
				return err
			}

		case StepTestExecution:
			if _, err := s.execStep(ctx, r, step, func(c context.Context) (map[string][]byte, error) {
				return s.opExecute(c, r)
			}); err != nil {
				return s.failStep(ctx, r, step, err)
			}
			if err := s.advanceIfValid(ctx, r, run.EventExecutionComplete, "", nil); err != nil {
				return err
			}

		case StepCodexReview:
			if _, err := s.execStep(ctx, r, step, func(c context.Context) (map[string][]byte, error) {
				return s.opReview(c, r)
			}); err != nil {
				return s.failStep(ctx, r, step, err)
			}

		case StepCrossValidation:
			if _, err := s.execStep(ctx, r, step, func(c context.Context) (map[string][]byte, error) {
				return s.opArbitrate(c, r)
			}); err != nil {
				return s.failStep(ctx, r, step, err)
			}

		case StepReportGeneration:
			if _, err := s.execStep(ctx, r, step, func(c context.Context) (map[string][]byte, error) {
				return s.opReport(c, r)
			}); err != nil {
				return s.failStep(ctx, r, step, err)
			}

		case StepQualityGate:
			if _, err := s.execStep(ctx, r, step, func(c context.Context) (map[string][]byte, error) {
				return s.opGate(c, r)
			}); err != nil {
				return s.failStep(ctx, r, step, err)
			}
			if err := s.advanceIfValid(ctx, r, run.EventReviewComplete, "", nil); err != nil {
				return err
			}
			if !s.cfg.AutoConfirm {
				s.bus.Publish(ctx, events.Event{
					Type:  events.TypeConfirmationRequired,
					RunID: r.ID,
					To:    r.State,
				})
				s.logger.InfoContext(ctx, "awaiting confirmation", "run_id", r.ID)
				return nil
			}
			if err := s.advance(ctx, r, run.EventConfirmed, "auto confirmation", map[string]any{"actor": "auto"}); err != nil {
				return err
			}
		}
	}
	return nil
}

// alignState walks the run's state along the happy path to the entry
// step's home state. Only table-valid edges are applied, so a run already
// past an edge skips it; transitions the machine has seen before dedupe
// without a new log entry. The APPROVED edge applied here carries a
// resume marker: re-entering at or past test_execution is the operator's
// approval authority.
func (s *Sequencer) alignState(ctx context.Context, r *run.Run, from Step) error {
	if from == StepInitialize {
		return nil
	}

	type hop struct {
		event  run.Event
		reason string
		meta   map[string]any
	}
	chain := []hop{{event: run.EventStartParsing}}
	if from.index() >= StepTestExecution.index() {
		chain = append(chain,
			hop{event: run.EventParsingComplete},
			hop{event: run.EventGenerationComplete},
			hop{event: run.EventApproved, reason: "resume", meta: map[string]any{"resume": true}},
		)
	}
	if from.index() >= StepCodexReview.index() {
		chain = append(chain, hop{event: run.EventExecutionComplete})
	}

	for _, h := range chain {
		if err := s.advanceIfValid(ctx, r, h.event, h.reason, h.meta); err != nil {
			return err
		}
	}
	return nil
}

// advance applies one event through the state machine, records the
// decision, persists the run, and publishes state_changed. A duplicate
// delivery moves the state without a new log entry.
func (s *Sequencer) advance(ctx context.Context, r *run.Run, event run.Event, reason string, meta map[string]any) error {
	from := r.State

	tctx, finish := s.obs.TrackOperation(ctx, "run.transition",
		observability.TransitionOperation(r.ID, string(from), string(event))...)
	res, err := s.machine.Transition(tctx, lifecycle.Request{
		RunID:   r.ID,
		From:    from,
		Event:   event,
		ShardID: r.ShardID,
		Reason:  reason,
		Meta:    meta,
	})
	finish(err)
	if err != nil {
		return err
	}

	if res.Entry != nil {
		r.Record(*res.Entry)
	} else {
		r.State = res.State
		r.UpdatedAt = s.clock().UTC()
	}
	if res.State == run.StateFailed {
		r.Reason = res.FailureReason
	}
	if res.State == run.StateCompleted {
		done := r.UpdatedAt
		r.CompletedAt = &done
	}

	if err := s.runs.Update(ctx, r); err != nil {
		return fmt.Errorf("persist run %s: %w", r.ID, err)
	}

	evReason := reason
	if res.State == run.StateFailed {
		evReason = string(r.Reason)
	}
	s.bus.Publish(ctx, events.Event{
		Type:   events.TypeStateChanged,
		RunID:  r.ID,
		From:   from,
		To:     res.State,
		Reason: evReason,
		Fields: map[string]any{"event": string(event)},
	})
	return nil
}

// advanceIfValid applies the event only when the table has an edge for it
// in the run's current state. Invalid edges are skipped, not errors: the
// run is already past them.
func (s *Sequencer) advanceIfValid(ctx context.Context, r *run.Run, event run.Event, reason string, meta map[string]any) error {
	if !lifecycle.ValidTransition(r.State, event) {
		return nil
	}
	return s.advance(ctx, r, event, reason, meta)
}

// execStep runs one step: per-step deadline, events, telemetry, schema
// validation, and artifact persistence. The operation returns a flat map
// of artifact name to payload; the sequencer persists them without
// interpreting them and records their locators on the run.
func (s *Sequencer) execStep(ctx context.Context, r *run.Run, step Step, op func(context.Context) (map[string][]byte, error)) (StepResult, error) {
	stepCtx := ctx
	if timeout := s.stepTimeout(step); timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	opCtx, finish := s.obs.TrackOperation(stepCtx, "pipeline."+string(step),
		observability.StepOperation(r.ID, r.ShardID, string(step))...)

	s.bus.Publish(ctx, events.Event{Type: events.TypeStepStarted, RunID: r.ID, Step: string(step)})
	s.logger.InfoContext(ctx, "step started", "run_id", r.ID, "step", step)

	start := time.Now()
	payloads, err := op(opCtx)
	elapsed := time.Since(start)

	res := StepResult{Step: step, DurationMs: elapsed.Milliseconds()}
	if err == nil {
		res.Artifacts, err = s.persist(stepCtx, r, payloads)
	}

	finish(err)
	s.slo.Record(observability.SLOObservation{
		Step:    string(step),
		Latency: elapsed,
		Success: err == nil,
	})

	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		s.bus.Publish(ctx, events.Event{
			Type:   events.TypeStepFailed,
			RunID:  r.ID,
			Step:   string(step),
			Reason: err.Error(),
		})
		s.logger.ErrorContext(ctx, "step failed",
			"run_id", r.ID, "step", step, "duration_ms", res.DurationMs, "error", err)
		return res, err
	}

	res.Status = StatusSuccess
	if err := s.runs.Update(ctx, r); err != nil {
		return res, fmt.Errorf("persist run %s: %w", r.ID, err)
	}
	s.bus.Publish(ctx, events.Event{
		Type:   events.TypeStepCompleted,
		RunID:  r.ID,
		Step:   string(step),
		Fields: map[string]any{"duration_ms": res.DurationMs, "artifacts": res.Artifacts},
	})
	s.logger.InfoContext(ctx, "step completed",
		"run_id", r.ID, "step", step, "duration_ms", res.DurationMs, "artifacts", res.Artifacts)
	return res, nil
}

// persist validates and writes step payloads in name order and records
// their locators on the run.
func (s *Sequencer) persist(ctx context.Context, r *run.Run, payloads map[string][]byte) ([]string, error) {
	names := make([]string, 0, len(payloads))
	for name := range payloads {
		names = append(names, name)
	}
	sort.Strings(names)

	written := make([]string, 0, len(names))
	for _, name := range names {
		if err := s.validator.Validate(name, payloads[name]); err != nil {
			return written, err
		}
		if err := s.ws.Put(ctx, r.ID, name, payloads[name]); err != nil {
			return written, fmt.Errorf("persist %s: %w", name, err)
		}
		r.SetArtifact(name, path.Join("runs", r.ID, name))
		written = append(written, name)
	}
	return written, nil
}

func (s *Sequencer) stepTimeout(step Step) time.Duration {
	if t, ok := s.cfg.StepTimeouts[step]; ok {
		return t
	}
	return s.cfg.StepTimeout
}

// failStep classifies a step failure into an ERROR context tag and drives
// the machine to failed. Deadline expiry outranks the step's own tag, and
// retry exhaustion outranks everything but the deadline.
func (s *Sequencer) failStep(ctx context.Context, r *run.Run, step Step, stepErr error) error {
	tag := step.failureTag()
	var exhausted *engines.ExhaustedError
	switch {
	case errors.Is(stepErr, context.DeadlineExceeded):
		tag = run.TagAgentTimeout
	case errors.As(stepErr, &exhausted):
		tag = run.TagRetryExhausted
	}

	meta := map[string]any{"step": string(step), "error": stepErr.Error()}
	if err := s.advance(ctx, r, run.EventError, tag, meta); err != nil {
		s.logger.ErrorContext(ctx, "failure transition rejected",
			"run_id", r.ID, "step", step, "error", err)
	}
	return stepErr
}

// DecisionKind names the two human gates.
type DecisionKind string

const (
	DecisionApproval     DecisionKind = "approval"
	DecisionConfirmation DecisionKind = "confirmation"
)

// Decision is an external gate verdict for a paused run.
type Decision struct {
	Kind     DecisionKind
	Accepted bool
	Actor    string
	Note     string
}

// Decide applies a gate decision. Approval accepted resumes the pipeline
// at test_execution; rejected re-runs generation for a fresh proposal.
// Confirmation accepted completes the run; rejected starts a retest cycle
// over the same PRD. A decision against a run not resting at the matching
// gate fails with the machine's ErrInvalidTransition.
func (s *Sequencer) Decide(ctx context.Context, runID string, d Decision) (*run.Run, error) {
	ctx, finish := s.obs.TrackOperation(ctx, "gate."+string(d.Kind),
		observability.GateOperation(runID, string(d.Kind), d.Accepted)...)
	r, err := s.decide(ctx, runID, d)
	finish(err)
	return r, err
}

func (s *Sequencer) decide(ctx context.Context, runID string, d Decision) (*run.Run, error) {
	r, err := s.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{}
	if d.Actor != "" {
		meta["actor"] = d.Actor
	}

	switch d.Kind {
	case DecisionApproval:
		if d.Accepted {
			if err := s.advance(ctx, r, run.EventApproved, d.Note, meta); err != nil {
				return r, err
			}
			return r, s.driveFrom(ctx, r, StepTestExecution, nil)
		}
		if err := s.advance(ctx, r, run.EventRejected, d.Note, meta); err != nil {
			return r, err
		}
		// The regeneration loop re-fires transitions already recorded in
		// this cycle; clear the run's dedupe scope so they are applied
		// and logged again rather than suppressed.
		if err := s.machine.Keys().ClearRun(ctx, r.ID); err != nil {
			return r, fmt.Errorf("clear transition keys for %s: %w", r.ID, err)
		}
		return r, s.driveFrom(ctx, r, StepPRDParsing, nil)

	case DecisionConfirmation:
		if d.Accepted {
			if err := s.advance(ctx, r, run.EventConfirmed, d.Note, meta); err != nil {
				return r, err
			}
			return r, nil
		}
		if err := s.advance(ctx, r, run.EventRetest, d.Note, meta); err != nil {
			return r, err
		}
		if err := s.machine.Keys().ClearRun(ctx, r.ID); err != nil {
			return r, fmt.Errorf("clear transition keys for %s: %w", r.ID, err)
		}
		// Fresh cycle over the retained PRD; prior artifacts stay until
		// the new cycle overwrites them.
		return r, s.driveFrom(ctx, r, StepInitialize, nil)

	default:
		return nil, fmt.Errorf("unknown decision kind %q", d.Kind)
	}
}

// Timeout fails a run stalled at a human gate. The watchdog calls this;
// the machine resolves approval_timeout or confirm_timeout from the state
// the event fires in.
func (s *Sequencer) Timeout(ctx context.Context, runID string) (*run.Run, error) {
	r, err := s.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := s.advance(ctx, r, run.EventTimeout, "", map[string]any{"source": "watchdog"}); err != nil {
		return r, err
	}
	return r, nil
}

// Step operations. Each reads its inputs from named workspace artifacts
// and returns the payloads it produces; in-memory results never cross
// step boundaries.

func (s *Sequencer) opInitialize(ctx context.Context, r *run.Run, prd []byte) (map[string][]byte, error) {
	if err := s.ws.EnsureRun(ctx, r.ID); err != nil {
		return nil, fmt.Errorf("ensure workspace: %w", err)
	}

	if len(prd) == 0 {
		existing, err := s.ws.Get(ctx, r.ID, artifact.NamePRD)
		if err != nil {
			return nil, fmt.Errorf("no PRD available for run %s: %w", r.ID, err)
		}
		prd = existing
	}

	manifest := artifact.Manifest{
		SchemaVersion: artifact.CurrentSchemaVersion,
		RunID:         r.ID,
		ShardID:       r.ShardID,
		CreatedAt:     s.clock().UTC(),
		PRDDigest:     canonical.HashBytes(prd),
		Labels:        r.Labels,
	}
	data, err := artifact.Encode(manifest)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	return map[string][]byte{
		artifact.NameManifest: data,
		artifact.NamePRD:      prd,
	}, nil
}

func (s *Sequencer) opParse(ctx context.Context, r *run.Run) (map[string][]byte, error) {
	prd, err := s.ws.Get(ctx, r.ID, artifact.NamePRD)
	if err != nil {
		return nil, fmt.Errorf("read prd: %w", err)
	}

	out, err := s.parser.Parse(ctx, engines.ParseRequest{RunID: r.ID, PRD: prd, Labels: r.Labels})
	if err != nil {
		return nil, fmt.Errorf("parser engine: %w", err)
	}

	reqs, err := artifact.Encode(artifact.Requirements{
		SchemaVersion: artifact.CurrentSchemaVersion,
		RunID:         r.ID,
		Items:         orEmpty(out.Requirements),
	})
	if err != nil {
		return nil, fmt.Errorf("encode requirements: %w", err)
	}
	cases, err := artifact.Encode(artifact.TestCases{
		SchemaVersion: artifact.CurrentSchemaVersion,
		RunID:         r.ID,
		Items:         orEmpty(out.Cases),
	})
	if err != nil {
		return nil, fmt.Errorf("encode test cases: %w", err)
	}

	return map[string][]byte{
		artifact.NameRequirements: reqs,
		artifact.NameTestCases:    cases,
	}, nil
}

func (s *Sequencer) opExecute(ctx context.Context, r *run.Run) (map[string][]byte, error) {
	cases, err := s.loadTestCases(ctx, r.ID)
	if err != nil {
		return nil, err
	}

	started := s.clock().UTC()
	out, err := s.executor.Execute(ctx, engines.ExecuteRequest{RunID: r.ID, Cases: cases.Items})
	if err != nil {
		return nil, fmt.Errorf("execution engine: %w", err)
	}
	finished := s.clock().UTC()

	exec, err := artifact.Encode(artifact.ExecutionResults{
		SchemaVersion: artifact.CurrentSchemaVersion,
		RunID:         r.ID,
		StartedAt:     started,
		FinishedAt:    finished,
		Cases:         orEmpty(out.Cases),
		Assertions:    orEmpty(out.Assertions),
	})
	if err != nil {
		return nil, fmt.Errorf("encode execution results: %w", err)
	}

	history, err := s.loadHistory(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	history.Append(out.Cases)
	hist, err := artifact.Encode(history)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}

	return map[string][]byte{
		artifact.NameExecutionResults: exec,
		artifact.NameHistory:          hist,
	}, nil
}

func (s *Sequencer) opReview(ctx context.Context, r *run.Run) (map[string][]byte, error) {
	cases, err := s.loadTestCases(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	exec, err := s.loadExecution(ctx, r.ID)
	if err != nil {
		return nil, err
	}

	out, err := s.reviewer.Review(ctx, engines.ReviewRequest{
		RunID:      r.ID,
		Cases:      cases.Items,
		Assertions: exec.Assertions,
	})
	if err != nil {
		return nil, fmt.Errorf("review engine: %w", err)
	}

	data, err := artifact.Encode(artifact.ReviewResults{
		SchemaVersion: artifact.CurrentSchemaVersion,
		RunID:         r.ID,
		Reviewer:      out.Reviewer,
		Reviews:       orEmpty(out.Reviews),
	})
	if err != nil {
		return nil, fmt.Errorf("encode review results: %w", err)
	}
	return map[string][]byte{artifact.NameReviewResults: data}, nil
}

func (s *Sequencer) opArbitrate(ctx context.Context, r *run.Run) (map[string][]byte, error) {
	exec, err := s.loadExecution(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	reviews, err := s.loadReviews(ctx, r.ID)
	if err != nil {
		return nil, err
	}

	outcomes := arbiter.Arbitrate(exec.Assertions, reviews.Reviews)
	data, err := artifact.Encode(artifact.ArbitrationResults{
		SchemaVersion: artifact.CurrentSchemaVersion,
		RunID:         r.ID,
		Outcomes:      outcomes,
		Summary:       arbiter.Summarize(outcomes),
	})
	if err != nil {
		return nil, fmt.Errorf("encode arbitration results: %w", err)
	}
	return map[string][]byte{artifact.NameArbitration: data}, nil
}

func (s *Sequencer) opReport(ctx context.Context, r *run.Run) (map[string][]byte, error) {
	cases, err := s.loadTestCases(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	exec, err := s.loadExecution(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	var arb artifact.ArbitrationResults
	if err := s.loadArtifact(ctx, r.ID, artifact.NameArbitration, &arb); err != nil {
		return nil, err
	}

	rep := report.Build(report.BuildInput{
		RunID:       r.ID,
		ShardID:     r.ShardID,
		Cases:       cases.Items,
		Execution:   exec,
		Arbitration: arb,
	}, s.clock().UTC())
	if err := s.signer.Sign(rep); err != nil {
		return nil, fmt.Errorf("sign report: %w", err)
	}

	data, err := artifact.Encode(rep)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return map[string][]byte{artifact.NameReport: data}, nil
}

func (s *Sequencer) opGate(ctx context.Context, r *run.Run) (map[string][]byte, error) {
	reqs, err := s.loadRequirements(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	cases, err := s.loadTestCases(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	exec, err := s.loadExecution(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	var arb artifact.ArbitrationResults
	if err := s.loadArtifact(ctx, r.ID, artifact.NameArbitration, &arb); err != nil {
		return nil, err
	}
	history, err := s.loadHistory(ctx, r.ID)
	if err != nil {
		return nil, err
	}

	assertions := make([]arbiter.Assertion, len(exec.Assertions))
	copy(assertions, exec.Assertions)
	arbiter.ApplyOutcomes(assertions, arb.Outcomes)

	result := s.gate.Evaluate(reqs.Items, cases.GateCases(), assertions, history.GateHistory())
	r.Gate = &result

	data, err := artifact.Encode(artifact.GateDocument{
		SchemaVersion: artifact.CurrentSchemaVersion,
		RunID:         r.ID,
		Result:        result,
	})
	if err != nil {
		return nil, fmt.Errorf("encode gate result: %w", err)
	}
	return map[string][]byte{artifact.NameGateResult: data}, nil
}

// Artifact readers shared by the step operations.

func (s *Sequencer) loadArtifact(ctx context.Context, runID, name string, out any) error {
	data, err := s.ws.Get(ctx, runID, name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := artifact.Decode(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (s *Sequencer) loadRequirements(ctx context.Context, runID string) (artifact.Requirements, error) {
	var reqs artifact.Requirements
	if err := s.loadArtifact(ctx, runID, artifact.NameRequirements, &reqs); err != nil {
		return reqs, err
	}
	if err := artifact.CheckVersion(reqs.SchemaVersion); err != nil {
		return reqs, fmt.Errorf("%s: %w", artifact.NameRequirements, err)
	}
	return reqs, nil
}

func (s *Sequencer) loadTestCases(ctx context.Context, runID string) (artifact.TestCases, error) {
	var cases artifact.TestCases
	if err := s.loadArtifact(ctx, runID, artifact.NameTestCases, &cases); err != nil {
		return cases, err
	}
	if err := artifact.CheckVersion(cases.SchemaVersion); err != nil {
		return cases, fmt.Errorf("%s: %w", artifact.NameTestCases, err)
	}
	return cases, nil
}

func (s *Sequencer) loadReviews(ctx context.Context, runID string) (artifact.ReviewResults, error) {
	var reviews artifact.ReviewResults
	if err := s.loadArtifact(ctx, runID, artifact.NameReviewResults, &reviews); err != nil {
		return reviews, err
	}
	if err := artifact.CheckVersion(reviews.SchemaVersion); err != nil {
		return reviews, fmt.Errorf("%s: %w", artifact.NameReviewResults, err)
	}
	return reviews, nil
}

func (s *Sequencer) loadExecution(ctx context.Context, runID string) (artifact.ExecutionResults, error) {
	var exec artifact.ExecutionResults
	if err := s.loadArtifact(ctx, runID, artifact.NameExecutionResults, &exec); err != nil {
		return exec, err
	}
	if err := artifact.CheckVersion(exec.SchemaVersion); err != nil {
		return exec, fmt.Errorf("%s: %w", artifact.NameExecutionResults, err)
	}
	return exec, nil
}

// orEmpty keeps engine-provided collections non-nil so the schema-checked
// payloads serialize as arrays, never null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// loadHistory returns the workspace's verdict history, or a fresh one for
// the first execution cycle.
func (s *Sequencer) loadHistory(ctx context.Context, runID string) (artifact.History, error) {
	data, err := s.ws.Get(ctx, runID, artifact.NameHistory)
	if errors.Is(err, workspace.ErrNotExist) {
		return artifact.History{SchemaVersion: artifact.CurrentSchemaVersion, RunID: runID}, nil
	}
	if err != nil {
		return artifact.History{}, fmt.Errorf("read %s: %w", artifact.NameHistory, err)
	}

	var history artifact.History
	if err := artifact.Decode(data, &history); err != nil {
		return history, fmt.Errorf("decode %s: %w", artifact.NameHistory, err)
	}
	return history, nil
}
