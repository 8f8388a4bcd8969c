package detect_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aegis-Labs/aegis/core/pkg/action"
	"github.com/Aegis-Labs/aegis/core/pkg/detect"
)

func mustAction(t *testing.T, agent string, typ action.Type, desc string, params map[string]any) *action.Action {
	t.Helper()
	a, err := action.New(agent, typ, desc, params)
	require.NoError(t, err)
	return a
}

func timeNow(t *testing.T) time.Time {
	t.Helper()
	return time.Now().UTC()
}

func TestDeception_CleanAction(t *testing.T) {
	d := detect.NewDeceptionDetector()
	report := d.Analyze(mustAction(t, "agent-1", action.TypeMessage, "publish the changelog", nil))
	assert.Zero(t, report.Probability)
	assert.False(t, report.Detected)
	assert.Empty(t, report.Signals)
}

func TestDeception_CategoryCountsOnce(t *testing.T) {
	d := detect.NewDeceptionDetector()
	// Two concealment phrases, one category: weight applied once.
	report := d.Analyze(mustAction(t, "agent-1", action.TypeMessage,
		"hide the logs and conceal the change", nil))
	require.Len(t, report.Signals, 1)
	assert.Equal(t, "concealment", report.Signals[0].Category)
	assert.InDelta(t, 0.35, report.Probability, 1e-9)
	assert.True(t, report.Detected)
}

func TestDeception_ProbabilityCappedAtOne(t *testing.T) {
	d := detect.NewDeceptionDetector()
	report := d.Analyze(mustAction(t, "agent-1", action.TypeMessage,
		"hide the change, pretend nothing happened, falsify the record, bypass review, phish the operator", nil))
	assert.Equal(t, 1.0, report.Probability)
	assert.True(t, report.Detected)
	assert.Len(t, report.Signals, 5)
}

func TestDeception_ContextIsInspected(t *testing.T) {
	d := detect.NewDeceptionDetector()
	a, err := action.NewAt("agent-1", action.TypeMessage, "send the report", nil,
		"and make sure you disable logging first", timeNow(t))
	require.NoError(t, err)
	report := d.Analyze(a)
	assert.True(t, report.Detected)
}

func TestAnomaly_NoBaselineMeansNoAnomaly(t *testing.T) {
	tracker := detect.NewBaselineTracker()
	defer tracker.Close()
	d := detect.NewAnomalyDetector(tracker)

	report := d.Analyze(mustAction(t, "agent-new", action.TypeTransaction, "first ever action", nil))
	assert.False(t, report.HasBaseline)
	assert.False(t, report.Anomalous)
	assert.Zero(t, report.Total)
}

func TestAnomaly_BaselineRequiresTenActions(t *testing.T) {
	tracker := detect.NewBaselineTracker()
	defer tracker.Close()

	for i := 0; i < 9; i++ {
		tracker.ObserveSync(mustAction(t, "agent-2", action.TypeMessage, "routine status update", nil))
	}
	_, ok := tracker.Snapshot("agent-2")
	assert.False(t, ok)

	tracker.ObserveSync(mustAction(t, "agent-2", action.TypeMessage, "routine status update", nil))
	b, ok := tracker.Snapshot("agent-2")
	require.True(t, ok)
	assert.Equal(t, 10, b.TotalActions)
}

func TestAnomaly_RareActionType(t *testing.T) {
	tracker := detect.NewBaselineTracker()
	defer tracker.Close()
	d := detect.NewAnomalyDetector(tracker)

	for i := 0; i < 30; i++ {
		tracker.ObserveSync(mustAction(t, "agent-3", action.TypeMessage, "routine status update", nil))
	}

	report := d.Analyze(mustAction(t, "agent-3", action.TypeKeyAccess, "routine status update",
		map[string]any{"purpose": "rotate"}))
	require.True(t, report.HasBaseline)
	require.NotEmpty(t, report.Deviations)
	assert.Equal(t, "action_type", report.Deviations[0].Dimension)
	assert.InDelta(t, 1.5, report.Deviations[0].Score, 1e-9)
}

func TestAnomaly_ParamCountDeviation(t *testing.T) {
	tracker := detect.NewBaselineTracker()
	defer tracker.Close()
	d := detect.NewAnomalyDetector(tracker)

	// Alternate 1 and 2 params so the stddev is nonzero.
	for i := 0; i < 20; i++ {
		params := map[string]any{"a": 1}
		if i%2 == 0 {
			params["b"] = 2
		}
		tracker.ObserveSync(mustAction(t, "agent-4", action.TypeMessage, "routine status update", params))
	}

	burst := map[string]any{}
	for i := 0; i < 12; i++ {
		burst[fmt.Sprintf("k%d", i)] = i
	}
	report := d.Analyze(mustAction(t, "agent-4", action.TypeMessage, "routine status update", burst))
	require.True(t, report.HasBaseline)
	assert.True(t, report.Anomalous)

	var found bool
	for _, dev := range report.Deviations {
		if dev.Dimension == "param_count" {
			found = true
			assert.Greater(t, dev.Score, 2.0)
		}
	}
	assert.True(t, found)
}

func TestAnomaly_UniformBaselineNeverDividesByZero(t *testing.T) {
	tracker := detect.NewBaselineTracker()
	defer tracker.Close()
	d := detect.NewAnomalyDetector(tracker)

	// Identical observations: stddev is exactly zero on both dimensions.
	for i := 0; i < 15; i++ {
		tracker.ObserveSync(mustAction(t, "agent-5", action.TypeMessage, "ping", nil))
	}
	report := d.Analyze(mustAction(t, "agent-5", action.TypeMessage,
		"an unusually long description that departs from every prior action in the window", nil))
	require.True(t, report.HasBaseline)
	for _, dev := range report.Deviations {
		assert.NotEqual(t, "param_count", dev.Dimension)
		assert.NotEqual(t, "desc_length", dev.Dimension)
	}
}

func TestAnomaly_DeterministicAgainstSnapshot(t *testing.T) {
	tracker := detect.NewBaselineTracker()
	defer tracker.Close()

	for i := 0; i < 12; i++ {
		tracker.ObserveSync(mustAction(t, "agent-6", action.TypeMessage, "routine status update", map[string]any{"a": 1}))
	}
	b, ok := tracker.Snapshot("agent-6")
	require.True(t, ok)

	a := mustAction(t, "agent-6", action.TypeReplication, "routine status update", map[string]any{"a": 1})
	first := detect.AnalyzeAgainst(a, b)
	second := detect.AnalyzeAgainst(a, b)
	assert.Equal(t, first, second)
}

func TestBaseline_WindowBounded(t *testing.T) {
	tracker := detect.NewBaselineTracker()
	defer tracker.Close()

	for i := 0; i < 150; i++ {
		typ := action.TypeMessage
		if i < 40 {
			typ = action.TypeKeyAccess
		}
		tracker.ObserveSync(mustAction(t, "agent-7", typ, "routine status update", map[string]any{"purpose": "x"}))
	}
	b, ok := tracker.Snapshot("agent-7")
	require.True(t, ok)
	assert.Equal(t, 100, b.TotalActions)
	// The first 40 key_access observations fell out of the window.
	assert.Zero(t, b.ActionFrequency[action.TypeKeyAccess])
}
