package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/kubetopo/kubetopo"

// Instrumentation provides telemetry for the topology mirror. Instruments are
// created from the global meter provider; without one configured they are
// no-ops, so wiring stays unconditional.
type Instrumentation struct {
	logger *zap.Logger

	WatchEvents          metric.Int64Counter     // watch events received per kind
	WatchRestarts        metric.Int64Counter     // supervised stream restarts
	GraphUpdateDuration  metric.Float64Histogram // time to apply one operation
	RelationshipsCreated metric.Int64Counter     // edges created per type
}

// NewInstrumentation creates the instrument set.
func NewInstrumentation(logger *zap.Logger) (*Instrumentation, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := otel.Meter(meterName)

	watchEvents, err := meter.Int64Counter(
		"kubetopo.watch.events",
		metric.WithDescription("Cluster watch events received"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	watchRestarts, err := meter.Int64Counter(
		"kubetopo.watch.restarts",
		metric.WithDescription("Watch streams restarted by the supervisor"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	graphUpdateDuration, err := meter.Float64Histogram(
		"kubetopo.graph.update.duration",
		metric.WithDescription("Time to apply one graph operation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	relationshipsCreated, err := meter.Int64Counter(
		"kubetopo.graph.relationships.created",
		metric.WithDescription("Graph edges created"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &Instrumentation{
		logger:               logger,
		WatchEvents:          watchEvents,
		WatchRestarts:        watchRestarts,
		GraphUpdateDuration:  graphUpdateDuration,
		RelationshipsCreated: relationshipsCreated,
	}, nil
}
