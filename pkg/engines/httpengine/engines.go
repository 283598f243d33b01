package httpengine

import (
	"context"

	"github.com/Mindburn-Labs/attest/pkg/engines"
)

// ParserClient implements engines.Parser against a remote parser engine.
type ParserClient struct {
	c *Client
}

// NewParser builds a parser client.
func NewParser(cfg Config) *ParserClient {
	return &ParserClient{c: NewClient(cfg)}
}

func (p *ParserClient) Parse(ctx context.Context, req engines.ParseRequest) (*engines.ParseResult, error) {
	var out engines.ParseResult
	if err := p.c.postJSON(ctx, "/v1/parse", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecutorClient implements engines.Executor against a remote Playwright
// executor engine.
type ExecutorClient struct {
	c *Client
}

// NewExecutor builds an executor client.
func NewExecutor(cfg Config) *ExecutorClient {
	return &ExecutorClient{c: NewClient(cfg)}
}

func (e *ExecutorClient) Execute(ctx context.Context, req engines.ExecuteRequest) (*engines.ExecuteResult, error) {
	var out engines.ExecuteResult
	if err := e.c.postJSON(ctx, "/v1/execute", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReviewerClient implements engines.Reviewer against a remote Codex
// reviewer engine.
type ReviewerClient struct {
	c *Client
}

// NewReviewer builds a reviewer client.
func NewReviewer(cfg Config) *ReviewerClient {
	return &ReviewerClient{c: NewClient(cfg)}
}

func (r *ReviewerClient) Review(ctx context.Context, req engines.ReviewRequest) (*engines.ReviewResult, error) {
	var out engines.ReviewResult
	if err := r.c.postJSON(ctx, "/v1/review", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
