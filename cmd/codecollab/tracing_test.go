package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupTracing_StdoutExportsSpans(t *testing.T) {
	req := require.New(t)
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := setupTracing(Config{TraceExporter: "stdout", TraceSampleRatio: 1}, &buf)
	req.NoError(err)

	// Given the global provider is the one installed
	_, span := otel.Tracer("codecollab/test").Start(context.Background(), "ws.event")
	span.End()

	// When the provider shuts down, the batch is flushed
	req.NoError(shutdown(context.Background()))

	// Then the span reached the exporter
	req.Contains(buf.String(), `"Name":"ws.event"`)
	req.Contains(buf.String(), "codecollab")
}

func TestSetupTracing_NoneKeepsGlobalProvider(t *testing.T) {
	req := require.New(t)
	prev := otel.GetTracerProvider()

	shutdown, err := setupTracing(Config{TraceExporter: "none"}, &bytes.Buffer{})
	req.NoError(err)
	req.Equal(prev, otel.GetTracerProvider())
	req.NoError(shutdown(context.Background()))

	_, err = setupTracing(Config{TraceExporter: "zipkin"}, &bytes.Buffer{})
	req.Error(err)
}
