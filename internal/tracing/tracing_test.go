package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{ServiceName: "sentry-kubernetes"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_HTTPExporter(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{
		ServiceName:  "sentry-kubernetes",
		Endpoint:     "127.0.0.1:4318",
		SamplingRate: 1,
	})
	require.NoError(t, err)
	// Nothing was recorded, so shutdown has nothing to export.
	assert.NoError(t, shutdown(context.Background()))
}

func TestNewResource_MergesWithSDKDefaults(t *testing.T) {
	res, err := newResource(Options{ServiceName: "sentry-kubernetes", ServiceVersion: "1.0.0"})
	require.NoError(t, err)

	name, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "sentry-kubernetes", name.AsString())
	version, ok := res.Set().Value(semconv.ServiceVersionKey)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", version.AsString())
	assert.Equal(t, resource.Default().SchemaURL(), res.SchemaURL())
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(2).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased{0.5}")
}

func TestIsGRPC(t *testing.T) {
	assert.True(t, isGRPC("grpc"))
	assert.True(t, isGRPC(" GRPC "))
	assert.False(t, isGRPC("http/protobuf"))
	assert.False(t, isGRPC(""))
}
