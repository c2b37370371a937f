package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outdoorsea/crewAI-sub001/config"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	p, err := Init(config.TelemetryConfig{Enabled: false}, nil)
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestShutdown_NilSafe(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestBuildVersion(t *testing.T) {
	assert.NotEmpty(t, buildVersion())
}
