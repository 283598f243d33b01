package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Mindburn-Labs/attest/pkg/pipeline"
)

// GateClaims are the JWT claims carried by a gate-decision token. A token is
// bound to one run and one gate kind; it cannot approve a different run or
// confirm when only approval is pending.
type GateClaims struct {
	jwt.RegisteredClaims
	RunID string `json:"run_id"`
	Gate  string `json:"gate"`
}

// GateTokens mints and validates HS256 gate-decision tokens. A token is
// handed out when a run pauses at a gate and must accompany the matching
// approval or confirmation post.
type GateTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewGateTokens creates a token manager. TTL bounds how long a minted token
// stays valid; expired tokens are rejected on validation.
func NewGateTokens(secret []byte, ttl time.Duration) *GateTokens {
	return &GateTokens{secret: secret, ttl: ttl, now: time.Now}
}

// WithClock overrides the token clock, for tests.
func (g *GateTokens) WithClock(now func() time.Time) *GateTokens {
	g.now = now
	return g
}

// Mint issues a token for one run and gate kind.
func (g *GateTokens) Mint(runID string, kind pipeline.DecisionKind) (string, error) {
	now := g.now().UTC()
	claims := GateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   runID,
			Issuer:    "attest",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
		RunID: runID,
		Gate:  string(kind),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}

// Validate checks signature, expiry, and the run/gate binding.
func (g *GateTokens) Validate(tokenStr, runID string, kind pipeline.DecisionKind) error {
	claims := &GateClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return g.secret, nil
	}, jwt.WithTimeFunc(g.now))
	if err != nil {
		return fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	if claims.RunID != runID {
		return errors.New("token is bound to a different run")
	}
	if claims.Gate != string(kind) {
		return fmt.Errorf("token is scoped to the %s gate", claims.Gate)
	}
	return nil
}
