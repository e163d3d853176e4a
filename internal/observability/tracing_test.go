package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libreai/aigate/internal/config"
	"github.com/libreai/aigate/internal/log"
)

func TestSetup_DisabledReturnsNoopShutdown(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{Enabled: false}, log.NewNop())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_EnabledInstallsProvider(t *testing.T) {
	// No agent is listening; the exporter is created lazily so setup still
	// succeeds and shutdown flushes without a consumer.
	shutdown, err := Setup(context.Background(), config.TracingConfig{
		Enabled:     true,
		AgentHost:   "localhost:0",
		ServiceName: "aigate-test",
		Environment: "test",
	}, log.NewNop())
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Cancelled context keeps shutdown from retrying the unreachable agent.
	_ = shutdown(ctx)
}
