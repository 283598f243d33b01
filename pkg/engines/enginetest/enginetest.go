// Package enginetest provides deterministic in-process engines for tests.
package enginetest

import (
	"context"
	"sync/atomic"

	"github.com/Mindburn-Labs/attest/pkg/arbiter"
	"github.com/Mindburn-Labs/attest/pkg/artifact"
	"github.com/Mindburn-Labs/attest/pkg/engines"
)

// ParserFunc adapts a function to engines.Parser.
type ParserFunc func(ctx context.Context, req engines.ParseRequest) (*engines.ParseResult, error)

func (f ParserFunc) Parse(ctx context.Context, req engines.ParseRequest) (*engines.ParseResult, error) {
	return f(ctx, req)
}

// ExecutorFunc adapts a function to engines.Executor.
type ExecutorFunc func(ctx context.Context, req engines.ExecuteRequest) (*engines.ExecuteResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, req engines.ExecuteRequest) (*engines.ExecuteResult, error) {
	return f(ctx, req)
}

// ReviewerFunc adapts a function to engines.Reviewer.
type ReviewerFunc func(ctx context.Context, req engines.ReviewRequest) (*engines.ReviewResult, error)

func (f ReviewerFunc) Review(ctx context.Context, req engines.ReviewRequest) (*engines.ReviewResult, error) {
	return f(ctx, req)
}

// StaticParser returns a fixed result or error and counts calls.
type StaticParser struct {
	Result *engines.ParseResult
	Err    error
	calls  atomic.Int64
}

func (p *StaticParser) Parse(context.Context, engines.ParseRequest) (*engines.ParseResult, error) {
	p.calls.Add(1)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Result, nil
}

func (p *StaticParser) Calls() int { return int(p.calls.Load()) }

// StaticExecutor returns a fixed result or error and counts calls.
type StaticExecutor struct {
	Result *engines.ExecuteResult
	Err    error
	calls  atomic.Int64
}

func (e *StaticExecutor) Execute(context.Context, engines.ExecuteRequest) (*engines.ExecuteResult, error) {
	e.calls.Add(1)
	if e.Err != nil {
		return nil, e.Err
	}
	return e.Result, nil
}

func (e *StaticExecutor) Calls() int { return int(e.calls.Load()) }

// StaticReviewer returns a fixed result or error and counts calls.
type StaticReviewer struct {
	Result *engines.ReviewResult
	Err    error
	calls  atomic.Int64
}

func (r *StaticReviewer) Review(context.Context, engines.ReviewRequest) (*engines.ReviewResult, error) {
	r.calls.Add(1)
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Result, nil
}

func (r *StaticReviewer) Calls() int { return int(r.calls.Load()) }

// ExecuteAllPass builds an executor that passes every case it receives,
// fabricating one passing assertion per case.
func ExecuteAllPass() ExecutorFunc {
	return func(_ context.Context, req engines.ExecuteRequest) (*engines.ExecuteResult, error) {
		out := &engines.ExecuteResult{}
		for _, c := range req.Cases {
			out.Cases = append(out.Cases, artifact.CaseResult{
				CaseID:     c.CaseID,
				Verdict:    arbiter.VerdictPass,
				DurationMs: 120,
			})
			out.Assertions = append(out.Assertions, arbiter.Assertion{
				ID:       c.CaseID + "-a1",
				CaseID:   c.CaseID,
				Kind:     arbiter.KindElementVisible,
				Expected: "visible",
				Actual:   "visible",
				Verdict:  arbiter.VerdictPass,
			})
		}
		return out, nil
	}
}

// AgreeWithEverything builds a reviewer that agrees with every assertion.
func AgreeWithEverything(name string) ReviewerFunc {
	return func(_ context.Context, req engines.ReviewRequest) (*engines.ReviewResult, error) {
		out := &engines.ReviewResult{Reviewer: name}
		for _, a := range req.Assertions {
			out.Reviews = append(out.Reviews, arbiter.Review{
				AssertionID: a.ID,
				Verdict:     arbiter.ReviewAgree,
			})
		}
		return out, nil
	}
}
