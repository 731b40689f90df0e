package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/at-ishikawa/studycore/internal/config"
)

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_Stdout(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var buf bytes.Buffer
	shutdown, err := initTracing(context.Background(), config.TracingConfig{
		Enabled:     true,
		Exporter:    ExporterStdout,
		SampleRatio: 1,
		ServiceName: "studycore-test",
	}, "v0.0.1", &buf)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "generation.Advance")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), `"Name":"generation.Advance"`)
	assert.Contains(t, buf.String(), "studycore-test")
}

func TestNewExporter_Unsupported(t *testing.T) {
	_, err := newExporter(context.Background(), config.TracingConfig{Exporter: "zipkin"}, &bytes.Buffer{})
	assert.EqualError(t, err, `unsupported trace exporter "zipkin"`)
}

func TestSampleRatio(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{in: -0.5, want: 0},
		{in: 0.25, want: 0.25},
		{in: 3, want: 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sampleRatio(tt.in))
	}
}
