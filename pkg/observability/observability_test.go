package observability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aegis-Labs/aegis/core/pkg/observability"
)

func TestDisabledProviderIsSafe(t *testing.T) {
	p, err := observability.New(context.Background(), &observability.Config{Enabled: false})
	require.NoError(t, err)

	ctx, done := p.TrackEvaluation(context.Background(), "agent-1")
	assert.NotNil(t, ctx)
	done(nil)
	done2 := func() {
		_, finish := p.TrackEvaluation(context.Background(), "agent-1")
		finish(errors.New("boom"))
	}
	assert.NotPanics(t, done2)
	assert.NotPanics(t, func() { p.RecordBlocked(context.Background(), "constitution") })
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := observability.DefaultConfig()
	assert.Equal(t, "aegis-safety-kernel", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.Insecure)
}
