// Package config loads kernel configuration from environment variables, with
// optional YAML deployment profiles layered on top.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds kernel configuration.
type Config struct {
	LogLevel string

	// Pipeline thresholds.
	AlignmentThreshold float64
	TransferThreshold  float64
	PresenceInterval   time.Duration

	// Front door.
	RateLimitPerSecond float64
	RateLimitBurst     float64

	// Alerting.
	WebhookURL string

	// Persistence.
	AuditJSONLPath  string
	AuditSQLitePath string
	AuditS3Bucket   string
	AuditS3Prefix   string
	RedisAddr       string

	// Auth.
	TokenSecret string
	TokenIssuer string

	// Approval quorum. Stakeholders is the consensus roster for
	// superintelligent-tier capability increases; empty leaves consensus
	// operations uncreatable, which fails safe.
	RequiredApprovals int
	Approvers         []string
	Stakeholders      []string

	// Tuning carried over from earlier deployments. Plain configuration, no
	// special meaning attached.
	Tuning Tuning
}

// Tuning holds the legacy scoring calibration values.
type Tuning struct {
	ResonanceFactor   float64 `yaml:"resonance_factor"`
	SuccessRateTarget float64 `yaml:"success_rate_target"`
	GrowthRatio       float64 `yaml:"growth_ratio"`
}

// DefaultTuning returns the calibration shipped with the kernel.
func DefaultTuning() Tuning {
	return Tuning{
		ResonanceFactor:   1.0 / 137.0,
		SuccessRateTarget: 0.888,
		GrowthRatio:       1.618033988749895,
	}
}

// Load reads configuration from environment variables, applying defaults for
// anything unset.
func Load() *Config {
	return &Config{
		LogLevel:           envStr("LOG_LEVEL", "INFO"),
		AlignmentThreshold: envFloat("ALIGNMENT_THRESHOLD", 95),
		TransferThreshold:  envFloat("TRANSFER_THRESHOLD", 1.0),
		PresenceInterval:   envDuration("PRESENCE_INTERVAL", 24*time.Hour),
		RateLimitPerSecond: envFloat("RATE_LIMIT_PER_SECOND", 20),
		RateLimitBurst:     envFloat("RATE_LIMIT_BURST", 40),
		WebhookURL:         os.Getenv("ALERT_WEBHOOK_URL"),
		AuditJSONLPath:     os.Getenv("AUDIT_JSONL_PATH"),
		AuditSQLitePath:    os.Getenv("AUDIT_SQLITE_PATH"),
		AuditS3Bucket:      os.Getenv("AUDIT_S3_BUCKET"),
		AuditS3Prefix:      envStr("AUDIT_S3_PREFIX", "audit"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		TokenSecret:        os.Getenv("TOKEN_SECRET"),
		TokenIssuer:        envStr("TOKEN_ISSUER", "aegis"),
		RequiredApprovals:  envInt("REQUIRED_APPROVALS", 2),
		Approvers:          envList("APPROVERS"),
		Stakeholders:       envList("STAKEHOLDERS"),
		Tuning:             DefaultTuning(),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// envList parses a comma-separated identity list, trimming whitespace and
// dropping empty entries.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	out := make([]string, 0)
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
