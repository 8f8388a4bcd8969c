package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aegis-Labs/aegis/core/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults when no
// environment variables are set. The system must boot with safe defaults.
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("ALIGNMENT_THRESHOLD", "")
	t.Setenv("TRANSFER_THRESHOLD", "")
	t.Setenv("PRESENCE_INTERVAL", "")
	t.Setenv("TOKEN_ISSUER", "")

	cfg := config.Load()

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 95.0, cfg.AlignmentThreshold)
	assert.Equal(t, 1.0, cfg.TransferThreshold)
	assert.Equal(t, 24*time.Hour, cfg.PresenceInterval)
	assert.Equal(t, "aegis", cfg.TokenIssuer)
	assert.Equal(t, 2, cfg.RequiredApprovals)
	assert.Empty(t, cfg.Approvers)
	assert.Empty(t, cfg.Stakeholders)
	assert.InDelta(t, 1.0/137.0, cfg.Tuning.ResonanceFactor, 1e-12)
	assert.Equal(t, 0.888, cfg.Tuning.SuccessRateTarget)
}

// TestLoad_Overrides verifies that environment variables override defaults.
// Ops control config via standard 12-factor env vars.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("ALIGNMENT_THRESHOLD", "97.5")
	t.Setenv("PRESENCE_INTERVAL", "1h")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("AUDIT_S3_BUCKET", "aegis-audit")
	t.Setenv("APPROVERS", "alice, bob ,carol")
	t.Setenv("REQUIRED_APPROVALS", "3")
	t.Setenv("STAKEHOLDERS", "s1,s2,s3,s4,s5")

	cfg := config.Load()

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, 97.5, cfg.AlignmentThreshold)
	assert.Equal(t, time.Hour, cfg.PresenceInterval)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, "aegis-audit", cfg.AuditS3Bucket)
	assert.Equal(t, []string{"alice", "bob", "carol"}, cfg.Approvers)
	assert.Equal(t, 3, cfg.RequiredApprovals)
	assert.Equal(t, []string{"s1", "s2", "s3", "s4", "s5"}, cfg.Stakeholders)
}

// TestLoad_IgnoresMalformedNumbers verifies bad values fall back to defaults
// rather than zeroing out a safety threshold.
func TestLoad_IgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("ALIGNMENT_THRESHOLD", "not-a-number")
	t.Setenv("PRESENCE_INTERVAL", "soon")

	cfg := config.Load()
	assert.Equal(t, 95.0, cfg.AlignmentThreshold)
	assert.Equal(t, 24*time.Hour, cfg.PresenceInterval)
}
