package tracing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetTracerForAddr(t *testing.T) {
	t.Setenv("JAEGER_DISABLED", "true")

	tracer, err := GetTracerForAddr("127.0.0.1:2000")
	require.NoError(t, err)
	require.NotNil(t, tracer)

	cached, err := GetTracerForAddr("127.0.0.1:2000")
	require.NoError(t, err)
	require.Equal(t, tracer, cached)

	other, err := GetTracerForAddr("127.0.0.1:2001")
	require.NoError(t, err)
	require.NotNil(t, other)

	require.Len(t, catalog.tracerByAddr, 2)

	require.NoError(t, CloseAll())
	require.Empty(t, catalog.tracerByAddr)
}

func TestGetTracerForAddr_BadEnv(t *testing.T) {
	t.Setenv("JAEGER_SAMPLER_PARAM", "abc")

	_, err := GetTracerForAddr("127.0.0.1:3000")
	require.Error(t, err)
	require.Contains(t, err.Error(), "error parsing jaeger configuration from environment: ")
}
