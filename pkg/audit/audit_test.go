package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aegis-Labs/aegis/core/pkg/audit"
)

func TestRecord_ChainAndSequence(t *testing.T) {
	log := audit.NewLog()

	first, err := log.Record("agent-1", audit.KindDecision, "evaluate", audit.OutcomeSuccess, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, "genesis", first.PrevHash)
	assert.True(t, strings.HasPrefix(first.ContentHash, "sha256:"))

	second, err := log.Record("agent-1", audit.KindDecision, "evaluate", audit.OutcomeBlocked, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Equal(t, first.ContentHash, second.PrevHash)

	require.NoError(t, log.Verify())
	assert.Equal(t, 2, log.Len())
	assert.Equal(t, second.ContentHash, log.Head())
}

func TestRecord_CopyOnWrite(t *testing.T) {
	log := audit.NewLog()
	details := map[string]any{"amount": 5.0}

	entry, err := log.Record("agent-1", audit.KindDecision, "evaluate", audit.OutcomeSuccess, details)
	require.NoError(t, err)

	// Mutating either the input map or the returned entry must not reach the
	// stored record.
	details["amount"] = 999.0
	entry.Details["amount"] = 777.0

	stored := log.All()[0]
	assert.Equal(t, 5.0, stored.Details["amount"])
	require.NoError(t, log.Verify())
}

func TestWriters_DoNotMutateCallerDetails(t *testing.T) {
	log := audit.NewLog()
	details := map[string]any{"amount": 5.0}

	entry, err := log.RecordMultiSigRequest("agent-1", "op-1", details)
	require.NoError(t, err)
	assert.Equal(t, "op-1", entry.Details["operation_id"])
	assert.NotContains(t, details, "operation_id")

	entry, err = log.RecordDecision("agent-1", "act-1", false, details)
	require.NoError(t, err)
	assert.Equal(t, "act-1", entry.Details["action_id"])
	assert.NotContains(t, details, "action_id")
}

func TestQueries(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	log := audit.NewLog(audit.WithClock(func() time.Time { return now }))

	_, err := log.RecordAuthentication("agent-1", "login", true, nil)
	require.NoError(t, err)
	_, err = log.RecordViolationAttempt("agent-2", "transfer blocked", nil)
	require.NoError(t, err)
	now = now.Add(30 * time.Minute)
	_, err = log.RecordKeyAccess("agent-1", "read deploy key", true, nil)
	require.NoError(t, err)

	assert.Len(t, log.ByAgent("agent-1"), 2)
	assert.Len(t, log.ByKind(audit.KindViolationAttempt), 1)
	assert.Len(t, log.ByOutcome(audit.OutcomeBlocked), 1)
	assert.Len(t, log.Search("DEPLOY"), 1)
	assert.Len(t, log.InRange(now.Add(-10*time.Minute), now.Add(time.Minute)), 1)

	stats := log.Statistics()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ByKind[audit.KindKeyAccess])
	assert.Equal(t, 2, stats.ByOutcome[audit.OutcomeSuccess])
	assert.Equal(t, 3, stats.RecentHour)
}

func TestRedaction(t *testing.T) {
	log := audit.NewLog()
	entry, err := log.Record("agent-1", audit.KindKeyAccess, "read key", audit.OutcomeSuccess, map[string]any{
		"API_KEY": "sk-live-abc123",
		"nested":  map[string]any{"dbPassword": "hunter2", "region": "eu-west-1"},
		"purpose": "rotation",
	})
	require.NoError(t, err)

	redacted := audit.Redacted(entry)
	assert.Equal(t, audit.RedactionMarker, redacted.Details["API_KEY"])
	nested := redacted.Details["nested"].(map[string]any)
	assert.Equal(t, audit.RedactionMarker, nested["dbPassword"])
	assert.Equal(t, "eu-west-1", nested["region"])
	assert.Equal(t, "rotation", redacted.Details["purpose"])

	// Authoritative record stays unredacted.
	assert.Equal(t, "sk-live-abc123", log.All()[0].Details["API_KEY"])
}

func TestExportJSON_RedactsAndFormatsTimestamps(t *testing.T) {
	log := audit.NewLog()
	_, err := log.Record("agent-1", audit.KindKeyAccess, "read key", audit.OutcomeSuccess, map[string]any{
		"authToken": "secret-value",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, log.ExportJSON(&buf))
	assert.NotContains(t, buf.String(), "secret-value")

	var out []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 1)
	_, err = time.Parse(time.RFC3339Nano, out[0]["timestamp"].(string))
	assert.NoError(t, err)
}

func TestExportArchive(t *testing.T) {
	log := audit.NewLog()
	_, err := log.Record("agent-1", audit.KindDecision, "evaluate", audit.OutcomeSuccess, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, log.ExportArchive(&buf))
	assert.NotZero(t, buf.Len())
	// Zip magic.
	assert.Equal(t, []byte{'P', 'K'}, buf.Bytes()[:2])
}

func TestWriters_FunnelThroughChain(t *testing.T) {
	log := audit.NewLog()

	_, err := log.RecordConstitutionalCheck("agent-1", "action-1", false, []string{"never-harm-humans"})
	require.NoError(t, err)
	_, err = log.RecordMultiSigRequest("agent-1", "op-1", nil)
	require.NoError(t, err)
	_, err = log.RecordMultiSigApproval("agent-1", "op-1", "alice", true)
	require.NoError(t, err)
	_, err = log.RecordEmergencyStop("operator-7", "activate", map[string]any{"kind": "human_activated"})
	require.NoError(t, err)
	_, err = log.RecordTransparency("agent-1", "transfer", map[string]any{"amount": 0.5}, audit.OutcomeSuccess, true, "5VfYt...sig")
	require.NoError(t, err)

	require.NoError(t, log.Verify())
	assert.Equal(t, 5, log.Len())

	checks := log.ByKind(audit.KindConstitutionalCheck)
	require.Len(t, checks, 1)
	assert.Equal(t, audit.OutcomeBlocked, checks[0].Outcome)
}

func TestSinkDispatcher_DeliversRedacted(t *testing.T) {
	sink := &captureSink{}
	log := audit.NewLog(audit.WithSinks(sink))

	_, err := log.Record("agent-1", audit.KindKeyAccess, "read key", audit.OutcomeSuccess, map[string]any{
		"API_KEY": "sk-live-abc123",
	})
	require.NoError(t, err)
	require.NoError(t, log.Close())

	entries := sink.entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.RedactionMarker, entries[0].Details["API_KEY"])
}

func TestSQLiteSink_Insert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO audit_entries").
		WillReturnResult(sqlmock.NewResult(1, 1))

	sink := audit.NewSQLiteSinkFromDB(db)
	log := audit.NewLog()
	entry, err := log.Record("agent-1", audit.KindDecision, "evaluate", audit.OutcomeSuccess, nil)
	require.NoError(t, err)

	require.NoError(t, sink.Write(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// captureSink records deliveries; safe because the dispatcher has a single
// worker and entries() is only read after Close.
type captureSink struct {
	stored []audit.Entry
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Write(_ context.Context, e audit.Entry) error {
	c.stored = append(c.stored, e)
	return nil
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) entries() []audit.Entry { return c.stored }
