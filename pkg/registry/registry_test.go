package registry_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aegis-Labs/aegis/core/pkg/registry"
)

func TestRegister_FieldLimits(t *testing.T) {
	r := registry.New()

	_, err := r.Register("", "", "", nil)
	require.Error(t, err)

	_, err = r.Register(strings.Repeat("n", 51), "", "", nil)
	assert.ErrorIs(t, err, registry.ErrFieldTooLong)

	_, err = r.Register("worker", strings.Repeat("d", 201), "", nil)
	assert.ErrorIs(t, err, registry.ErrFieldTooLong)

	_, err = r.Register("worker", "", strings.Repeat("u", 201), nil)
	assert.ErrorIs(t, err, registry.ErrFieldTooLong)

	services := make([]string, 11)
	for i := range services {
		services[i] = "svc"
	}
	_, err = r.Register("worker", "", "", services)
	assert.ErrorIs(t, err, registry.ErrFieldTooLong)

	_, err = r.Register("worker", "", "", []string{strings.Repeat("s", 51)})
	assert.ErrorIs(t, err, registry.ErrFieldTooLong)

	record, err := r.Register("worker", "does things", "https://example.com/worker", []string{"summarize"})
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
	assert.Zero(t, record.Generation)
}

func TestLineage(t *testing.T) {
	r := registry.New()
	root, err := r.Register("root", "", "", nil)
	require.NoError(t, err)

	child, err := r.RegisterChild(root.ID, "child", "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, child.Generation)
	assert.Equal(t, root.ID, child.ParentID)

	grandchild, err := r.RegisterChild(child.ID, "grandchild", "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, grandchild.Generation)

	lineage, err := r.Lineage(grandchild.ID)
	require.NoError(t, err)
	require.Len(t, lineage, 3)
	assert.Equal(t, grandchild.ID, lineage[0].ID)
	assert.Equal(t, root.ID, lineage[2].ID)

	_, err = r.RegisterChild("no-such-parent", "orphan", "", "", nil)
	assert.ErrorIs(t, err, registry.ErrAgentNotFound)
}

func TestReputation(t *testing.T) {
	r := registry.New()
	agent, err := r.Register("worker", "", "", nil)
	require.NoError(t, err)

	_, ok := r.Reputation(agent.ID)
	assert.False(t, ok)

	require.NoError(t, r.Rate(agent.ID, "peer-1", 80, "reliable"))
	require.NoError(t, r.Rate(agent.ID, "peer-2", -20, "slow"))

	mean, ok := r.Reputation(agent.ID)
	require.True(t, ok)
	assert.Equal(t, 30.0, mean)

	assert.ErrorIs(t, r.Rate(agent.ID, agent.ID, 100, ""), registry.ErrSelfRating)
	assert.ErrorIs(t, r.Rate(agent.ID, "peer-1", 50, ""), registry.ErrDuplicateRate)
	assert.ErrorIs(t, r.Rate(agent.ID, "peer-3", 101, ""), registry.ErrRatingBounds)
	assert.ErrorIs(t, r.Rate(agent.ID, "peer-3", -101, ""), registry.ErrRatingBounds)
	assert.ErrorIs(t, r.Rate("ghost", "peer-1", 10, ""), registry.ErrAgentNotFound)

	// Comments get their own limit, wider than descriptions.
	require.NoError(t, r.Rate(agent.ID, "peer-4", 10, strings.Repeat("c", registry.MaxCommentLen)))
	assert.ErrorIs(t, r.Rate(agent.ID, "peer-5", 10, strings.Repeat("c", registry.MaxCommentLen+1)), registry.ErrFieldTooLong)

	assert.Len(t, r.Ratings(agent.ID), 3)
}

func TestEnsure(t *testing.T) {
	r := registry.New()

	record, err := r.Ensure("agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", record.ID)
	assert.Equal(t, "agent-1", record.Name)
	assert.Zero(t, record.Generation)

	// Idempotent: a second call returns the same record.
	again, err := r.Ensure("agent-1")
	require.NoError(t, err)
	assert.Equal(t, record.RegisteredAt, again.RegisteredAt)
	assert.Len(t, r.All(), 1)

	_, err = r.Ensure("")
	require.Error(t, err)
}

func TestAdjust(t *testing.T) {
	r := registry.New()
	_, err := r.Ensure("agent-1")
	require.NoError(t, err)

	score, err := r.Adjust("agent-1", -3)
	require.NoError(t, err)
	assert.Equal(t, -3, score)

	// Clamped at the rating floor.
	score, err = r.Adjust("agent-1", -200)
	require.NoError(t, err)
	assert.Equal(t, registry.MinRating, score)

	record, err := r.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, registry.MinRating, record.ReputationScore)

	_, err = r.Adjust("ghost", -1)
	assert.ErrorIs(t, err, registry.ErrAgentNotFound)
}
