package dispatcher

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/geochirp/globe-engine/internal/dispatcher"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// loopMetrics are recorded against the global meter provider, which is a
// no-op until one is installed.
type loopMetrics struct {
	depth     metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
}

func newLoopMetrics(depth func() int) (*loopMetrics, error) {
	m := meter()
	lm := &loopMetrics{}

	var err error
	if lm.depth, err = m.Int64ObservableGauge("dispatcher.queue.size",
		metric.WithDescription("Events waiting for the loop")); err != nil {
		return nil, fmt.Errorf("queue size gauge: %w", err)
	}
	if _, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(lm.depth, int64(depth()))
		return nil
	}, lm.depth); err != nil {
		return nil, fmt.Errorf("queue size callback: %w", err)
	}
	if lm.processed, err = m.Int64Counter("dispatcher.events.processed",
		metric.WithDescription("Events run by the loop")); err != nil {
		return nil, fmt.Errorf("processed counter: %w", err)
	}
	if lm.dropped, err = m.Int64Counter("dispatcher.events.dropped",
		metric.WithDescription("Events rejected by a full queue")); err != nil {
		return nil, fmt.Errorf("dropped counter: %w", err)
	}
	return lm, nil
}

func byCommand(command string) metric.AddOption {
	return metric.WithAttributes(attribute.String("command", command))
}

func (lm *loopMetrics) ran(command string) {
	lm.processed.Add(context.Background(), 1, byCommand(command))
}

func (lm *loopMetrics) drop(command string) {
	lm.dropped.Add(context.Background(), 1, byCommand(command))
}
