package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	require.NotNil(t, m)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordIngest(ctx, true)
		m.RecordRespond(ctx, false)
		m.RecordFallback(ctx, "evaluate")
		m.RecordLLMCall(ctx, "openai", true)
		m.RecordStage(ctx, "generate", 120*time.Millisecond)
	})
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordIngest(ctx, false)
		m.RecordRespond(ctx, true)
		m.RecordFallback(ctx, "analyze")
		m.RecordLLMCall(ctx, "gemini", false)
		m.RecordStage(ctx, "retrieve", time.Second)
	})
}
