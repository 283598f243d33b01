package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/attest/pkg/gate"
)

// fileConfig mirrors Config for YAML decoding. Durations are strings in
// Go duration syntax; pointers distinguish "absent" from zero values so
// the file only overrides what it mentions.
type fileConfig struct {
	ListenAddr      *string `yaml:"listen_addr"`
	ShutdownTimeout *string `yaml:"shutdown_timeout"`
	MaxBodyBytes    *int64  `yaml:"max_body_bytes"`

	LogLevel  *string `yaml:"log_level"`
	LogFormat *string `yaml:"log_format"`

	DatabaseURL   *string `yaml:"database_url"`
	RedisAddr     *string `yaml:"redis_addr"`
	RedisPassword *string `yaml:"redis_password"`
	RedisDB       *int    `yaml:"redis_db"`
	KeyTTL        *string `yaml:"key_ttl"`

	SigningSeed     *string `yaml:"signing_seed"`
	GateTokenSecret *string `yaml:"gate_token_secret"`
	GateTokenTTL    *string `yaml:"gate_token_ttl"`

	AutoApprove *bool `yaml:"auto_approve"`
	AutoConfirm *bool `yaml:"auto_confirm"`

	StepTimeout     *string           `yaml:"step_timeout"`
	StepTimeouts    map[string]string `yaml:"step_timeouts"`
	ApprovalTimeout *string           `yaml:"approval_timeout"`
	ConfirmTimeout  *string           `yaml:"confirm_timeout"`

	RequestsPerSecond *float64 `yaml:"rate_rps"`
	Burst             *int     `yaml:"rate_burst"`
	IdempotencyTTL    *string  `yaml:"idempotency_ttl"`

	Gate *fileGate `yaml:"gate"`

	Parser   *fileEngine `yaml:"parser"`
	Executor *fileEngine `yaml:"executor"`
	Reviewer *fileEngine `yaml:"reviewer"`

	Telemetry *fileTelemetry `yaml:"telemetry"`
}

type fileGate struct {
	RCThreshold      *float64          `yaml:"rc_threshold"`
	APRThreshold     *float64          `yaml:"apr_threshold"`
	FRThreshold      *float64          `yaml:"fr_threshold"`
	BlockOnP0Failure *bool             `yaml:"block_on_p0_failure"`
	Rules            []gate.PolicyRule `yaml:"rules"`
}

type fileEngine struct {
	URL        *string `yaml:"url"`
	Token      *string `yaml:"token"`
	Timeout    *string `yaml:"timeout"`
	MaxRetries *int    `yaml:"max_retries"`
}

type fileTelemetry struct {
	Enabled      *bool    `yaml:"enabled"`
	OTLPEndpoint *string  `yaml:"otlp_endpoint"`
	Environment  *string  `yaml:"environment"`
	SampleRate   *float64 `yaml:"sample_rate"`
	Insecure     *bool    `yaml:"insecure"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setStr(&c.ListenAddr, f.ListenAddr)
	if err := setDur(&c.ShutdownTimeout, f.ShutdownTimeout, "shutdown_timeout"); err != nil {
		return err
	}
	if f.MaxBodyBytes != nil {
		c.MaxBodyBytes = *f.MaxBodyBytes
	}

	setStr(&c.LogLevel, f.LogLevel)
	setStr(&c.LogFormat, f.LogFormat)

	setStr(&c.DatabaseURL, f.DatabaseURL)
	setStr(&c.RedisAddr, f.RedisAddr)
	setStr(&c.RedisPassword, f.RedisPassword)
	if f.RedisDB != nil {
		c.RedisDB = *f.RedisDB
	}
	if err := setDur(&c.KeyTTL, f.KeyTTL, "key_ttl"); err != nil {
		return err
	}

	setStr(&c.SigningSeed, f.SigningSeed)
	setStr(&c.GateTokenSecret, f.GateTokenSecret)
	if err := setDur(&c.GateTokenTTL, f.GateTokenTTL, "gate_token_ttl"); err != nil {
		return err
	}

	setBool(&c.AutoApprove, f.AutoApprove)
	setBool(&c.AutoConfirm, f.AutoConfirm)

	if err := setDur(&c.StepTimeout, f.StepTimeout, "step_timeout"); err != nil {
		return err
	}
	if len(f.StepTimeouts) > 0 {
		c.StepTimeouts = make(map[string]time.Duration, len(f.StepTimeouts))
		for step, raw := range f.StepTimeouts {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("step_timeouts.%s: %w", step, err)
			}
			c.StepTimeouts[step] = d
		}
	}
	if err := setDur(&c.ApprovalTimeout, f.ApprovalTimeout, "approval_timeout"); err != nil {
		return err
	}
	if err := setDur(&c.ConfirmTimeout, f.ConfirmTimeout, "confirm_timeout"); err != nil {
		return err
	}

	if f.RequestsPerSecond != nil {
		c.RequestsPerSecond = *f.RequestsPerSecond
	}
	if f.Burst != nil {
		c.Burst = *f.Burst
	}
	if err := setDur(&c.IdempotencyTTL, f.IdempotencyTTL, "idempotency_ttl"); err != nil {
		return err
	}

	if f.Gate != nil {
		if f.Gate.RCThreshold != nil {
			c.Gate.RCThreshold = *f.Gate.RCThreshold
		}
		if f.Gate.APRThreshold != nil {
			c.Gate.APRThreshold = *f.Gate.APRThreshold
		}
		if f.Gate.FRThreshold != nil {
			c.Gate.FRThreshold = *f.Gate.FRThreshold
		}
		setBool(&c.Gate.BlockOnP0Failure, f.Gate.BlockOnP0Failure)
		if len(f.Gate.Rules) > 0 {
			c.Gate.Rules = f.Gate.Rules
		}
	}

	if err := applyEngineFile(&c.Parser, f.Parser, "parser"); err != nil {
		return err
	}
	if err := applyEngineFile(&c.Executor, f.Executor, "executor"); err != nil {
		return err
	}
	if err := applyEngineFile(&c.Reviewer, f.Reviewer, "reviewer"); err != nil {
		return err
	}

	if f.Telemetry != nil {
		setBool(&c.Telemetry.Enabled, f.Telemetry.Enabled)
		setStr(&c.Telemetry.OTLPEndpoint, f.Telemetry.OTLPEndpoint)
		setStr(&c.Telemetry.Environment, f.Telemetry.Environment)
		if f.Telemetry.SampleRate != nil {
			c.Telemetry.SampleRate = *f.Telemetry.SampleRate
		}
		setBool(&c.Telemetry.Insecure, f.Telemetry.Insecure)
	}

	return nil
}

func applyEngineFile(e *Engine, f *fileEngine, name string) error {
	if f == nil {
		return nil
	}
	setStr(&e.URL, f.URL)
	setStr(&e.Token, f.Token)
	if err := setDur(&e.Timeout, f.Timeout, name+".timeout"); err != nil {
		return err
	}
	if f.MaxRetries != nil {
		e.MaxRetries = *f.MaxRetries
	}
	return nil
}

func setStr(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setDur(dst *time.Duration, src *string, field string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}
