package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aegis-Labs/aegis/core/pkg/config"
)

const lockdownProfile = `
name: Incident Lockdown
gates:
  alignment_threshold: 99
  transfer_threshold: 0.1
  presence_interval: 1h
quorum:
  required_approvals: 3
  total_approvers: 5
  stakeholders: [alice, bob, carol, dave, erin]
tuning:
  resonance_factor: 0.00729927
  success_rate_target: 0.888
  growth_ratio: 1.618
`

func writeProfile(t *testing.T, dir, code, body string) {
	t.Helper()
	path := filepath.Join(dir, "profile_"+code+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "lockdown", lockdownProfile)

	p, err := config.LoadProfile(dir, "LOCKDOWN")
	require.NoError(t, err)
	assert.Equal(t, "Incident Lockdown", p.Name)
	assert.Equal(t, "lockdown", p.Code)
	assert.Equal(t, 99.0, p.Gates.AlignmentThreshold)
	assert.Equal(t, time.Hour, p.Gates.PresenceInterval)
	assert.Len(t, p.Quorum.Stakeholders, 5)

	_, err = config.LoadProfile(dir, "missing")
	assert.Error(t, err)
}

func TestProfileApply(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "lockdown", lockdownProfile)
	p, err := config.LoadProfile(dir, "lockdown")
	require.NoError(t, err)

	cfg := config.Load()
	p.Apply(cfg)
	assert.Equal(t, 99.0, cfg.AlignmentThreshold)
	assert.Equal(t, 0.1, cfg.TransferThreshold)
	assert.Equal(t, time.Hour, cfg.PresenceInterval)
	assert.Equal(t, 3, cfg.RequiredApprovals)
	assert.Equal(t, []string{"alice", "bob", "carol", "dave", "erin"}, cfg.Stakeholders)
	assert.Equal(t, 0.888, cfg.Tuning.SuccessRateTarget)
}
