package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigDisabled(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "archon-kernel", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestDisabledProviderIsInert(t *testing.T) {
	p, err := New(context.Background(), DefaultConfig(), nil)
	require.NoError(t, err)

	// Every record path must be a safe no-op without exporters.
	p.RecordDecision(context.Background(), "read_file", "APPROVED", true)
	p.RecordDecision(context.Background(), "modify_core", "RISK_TOO_HIGH", false)
	p.RecordFastPath(context.Background(), "read_file")
	p.RecordValidationDuration(context.Background(), "read_file", 3*time.Millisecond)

	_, span := p.StartSpan(context.Background(), "kernel.execute")
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNilConfigFallsBackToDefaults(t *testing.T) {
	p, err := New(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.False(t, p.config.Enabled)
	assert.NotNil(t, p.Tracer())
}
