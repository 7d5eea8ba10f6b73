package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/opensource-finance/heron/internal/domain"
)

const instrumentationName = "github.com/opensource-finance/heron/internal/pipeline"

type instruments struct {
	predictions    metric.Int64Counter
	remoteFailures metric.Int64Counter
	duration       metric.Float64Histogram
}

func newInstruments() *instruments {
	meter := otel.Meter(instrumentationName)

	// Instrument creation only fails on invalid names; the returned
	// instruments are no-ops in that case.
	predictions, _ := meter.Int64Counter("heron.predictions",
		metric.WithDescription("Scored applications by stage and classification"),
	)
	remoteFailures, _ := meter.Int64Counter("heron.remote.failures",
		metric.WithDescription("Failed remote scoring attempts by failure kind"),
	)
	duration, _ := meter.Float64Histogram("heron.pipeline.duration",
		metric.WithDescription("End-to-end pipeline latency"),
		metric.WithUnit("s"),
	)

	return &instruments{
		predictions:    predictions,
		remoteFailures: remoteFailures,
		duration:       duration,
	}
}

func (m *instruments) recordResult(ctx context.Context, res *domain.PredictionResult, start time.Time) {
	stage := attribute.String("stage", string(res.SourceStage))
	m.predictions.Add(ctx, 1, metric.WithAttributes(
		stage,
		attribute.String("classification", string(res.Classification)),
	))
	m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(stage))
}

func (m *instruments) recordRemoteFailure(ctx context.Context, kind string) {
	m.remoteFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
