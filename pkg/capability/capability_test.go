package capability_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aegis-Labs/aegis/core/pkg/capability"
)

func TestTierFor(t *testing.T) {
	assert.Equal(t, capability.TierBasic, capability.TierFor(0))
	assert.Equal(t, capability.TierBasic, capability.TierFor(199.9))
	assert.Equal(t, capability.TierIntermediate, capability.TierFor(200))
	assert.Equal(t, capability.TierIntermediate, capability.TierFor(499.9))
	assert.Equal(t, capability.TierAdvanced, capability.TierFor(500))
	assert.Equal(t, capability.TierAdvanced, capability.TierFor(999.9))
	assert.Equal(t, capability.TierSuperintelligent, capability.TierFor(1000))
	assert.Equal(t, capability.TierSuperintelligent, capability.TierFor(5000))
}

func TestEnforce_DailyCeiling(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	level := capability.NewLevel("agent-1", 100, now.Add(-24*time.Hour))

	allowed := capability.Enforce(level, 108, now)
	assert.True(t, allowed.Allowed)
	assert.False(t, allowed.RequiresApproval)

	blocked := capability.Enforce(level, 115, now)
	assert.False(t, blocked.Allowed)
	assert.False(t, blocked.RequiresApproval)
	assert.Contains(t, blocked.Reason, "10% per day")
}

func TestEnforce_TierCrossingRequiresApproval(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	level := capability.NewLevel("agent-1", 195, now.Add(-24*time.Hour))

	result := capability.Enforce(level, 205, now)
	assert.True(t, result.Allowed)
	assert.True(t, result.RequiresApproval)
	assert.Equal(t, capability.ApprovalHuman, result.Approval)
}

func TestEnforce_BoundaryCreepRequiresApproval(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	level := capability.NewLevel("agent-1", 180, now.Add(-24*time.Hour))

	// 190 is still basic tier but within 5% of the 200 bound.
	result := capability.Enforce(level, 190, now)
	assert.True(t, result.Allowed)
	assert.True(t, result.RequiresApproval)

	// 185 is comfortably inside the tier.
	clear := capability.Enforce(level, 185, now)
	assert.True(t, clear.Allowed)
	assert.False(t, clear.RequiresApproval)
}

func TestEnforce_SuperintelligentNeedsConsensus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	level := capability.NewLevel("agent-1", 980, now.Add(-48*time.Hour))

	result := capability.Enforce(level, 1000, now)
	assert.True(t, result.Allowed)
	assert.True(t, result.RequiresApproval)
	assert.Equal(t, capability.ApprovalConsensus, result.Approval)
}

func TestEnforce_CeilingProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	properties.Property("requests above the ceiling are never allowed", prop.ForAll(
		func(iq float64, days int, over float64) bool {
			level := capability.NewLevel("agent-p", iq, now.Add(-time.Duration(days)*24*time.Hour))
			ceiling := level.Ceiling(now)
			result := capability.Enforce(level, ceiling+over, now)
			return !result.Allowed
		},
		gen.Float64Range(1, 2000),
		gen.IntRange(0, 30),
		gen.Float64Range(0.001, 500),
	))
	properties.TestingRun(t)
}

func TestController_ApplyIncreaseRecheck(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctrl := capability.NewController(func() time.Time { return now })

	_, err := ctrl.Register("agent-1", 100)
	require.NoError(t, err)

	// Zero elapsed days: ceiling equals current iq, any increase is blocked.
	_, err = ctrl.ApplyIncrease("agent-1", 101)
	require.ErrorIs(t, err, capability.ErrRateExceeded)

	now = now.Add(24 * time.Hour)
	level, err := ctrl.ApplyIncrease("agent-1", 108)
	require.NoError(t, err)
	assert.Equal(t, 108.0, level.IQ)
	assert.Equal(t, now, level.LastIncreaseAt)

	// The increase restarts the window.
	_, err = ctrl.ApplyIncrease("agent-1", 118)
	require.ErrorIs(t, err, capability.ErrRateExceeded)

	history := ctrl.History("agent-1")
	require.Len(t, history, 2)
	assert.Equal(t, 100.0, history[0].IQ)
}

func TestController_IQNeverDecreasesViaIncrease(t *testing.T) {
	ctrl := capability.NewController(nil)
	_, err := ctrl.Register("agent-1", 300)
	require.NoError(t, err)

	_, err = ctrl.ApplyIncrease("agent-1", 250)
	require.Error(t, err)

	current, err := ctrl.Current("agent-1")
	require.NoError(t, err)
	assert.Equal(t, 300.0, current.IQ)
}

func TestController_ResetLevel(t *testing.T) {
	ctrl := capability.NewController(nil)
	_, err := ctrl.Register("agent-1", 600)
	require.NoError(t, err)

	_, err = ctrl.ResetLevel("agent-1", 100, "", "post-incident rollback")
	require.Error(t, err)

	level, err := ctrl.ResetLevel("agent-1", 100, "operator-7", "post-incident rollback")
	require.NoError(t, err)
	assert.Equal(t, 100.0, level.IQ)
	assert.Equal(t, capability.TierBasic, level.Tier)
	assert.Len(t, ctrl.History("agent-1"), 2)
}

func TestController_UnknownAgent(t *testing.T) {
	ctrl := capability.NewController(nil)
	_, err := ctrl.Current("ghost")
	assert.ErrorIs(t, err, capability.ErrUnknownAgent)
	_, err = ctrl.EnforceGate("ghost", 50)
	assert.ErrorIs(t, err, capability.ErrUnknownAgent)
}
