package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProviderRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(context.Background(), "adcrawler-test", recorder)
	require.NoError(t, err)
	defer func() { require.NoError(t, tp.Shutdown(context.Background())) }()

	ctx, span := Tracer().Start(context.Background(), "unit")
	attrs := InjectAttributes(ctx, nil)
	span.End()

	require.Contains(t, attrs, "traceparent")
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "unit", spans[0].Name())
}
