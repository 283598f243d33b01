// Package httpengine talks to the parser, executor, and reviewer engines
// over HTTP with retry, backoff, and circuit breaking.
package httpengine

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/attest/pkg/engines"
)

// Config holds the connection settings for one engine endpoint.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	return c
}

// Client is an HTTP engine transport with exponential backoff, jitter,
// and a circuit breaker in front of the remote engine.
type Client struct {
	cfg     Config
	client  *http.Client
	breaker *circuitBreaker
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewClient builds a transport for one engine base URL.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: newCircuitBreaker(cfg.BaseURL, 5, 10*time.Second),
		sleep:   sleepCtx,
	}
}

// postJSON sends one request and decodes the response body into out.
// Network errors and 5xx or 429 responses are retried with backoff; other
// statuses fail immediately. Exhausting every attempt returns
// engines.ExhaustedError.
func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("circuit breaker open for %s", c.cfg.BaseURL)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, backoff(attempt-1)); err != nil {
				c.breaker.Failure()
				return err
			}
		}

		retryable, err := c.once(ctx, path, body, out)
		if err == nil {
			c.breaker.Success()
			return nil
		}
		if !retryable {
			c.breaker.Failure()
			return err
		}
		lastErr = err
	}

	c.breaker.Failure()
	return &engines.ExhaustedError{Attempts: c.cfg.MaxRetries + 1, Err: lastErr}
}

func (c *Client) once(ctx context.Context, path string, body []byte, out any) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("traceparent", traceparent())
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return true, fmt.Errorf("engine returned %d: %s", resp.StatusCode, payload)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("engine returned %d: %s", resp.StatusCode, payload)
	}

	if out == nil {
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return false, nil
}

// backoff is base * 2^attempt plus up to 50ms of jitter.
func backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
	if n, err := rand.Int(rand.Reader, big.NewInt(50)); err == nil {
		d += time.Duration(n.Int64()) * time.Millisecond
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func traceparent() string {
	var b [16]byte
	traceID := ""
	if _, err := rand.Read(b[:]); err == nil {
		traceID = hex.EncodeToString(b[:])
	} else {
		traceID = fmt.Sprintf("%032x", time.Now().UnixNano())
	}
	return fmt.Sprintf("00-%s-0000000000000001-01", traceID)
}
