// Package observe provides OpenTelemetry metrics for framesync sessions.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the /metrics endpoint. Tests should use [NewMetrics] with a
// custom [metric.MeterProvider].
package observe

import (
	"context"
	"strconv"

	"github.com/mengelbart/framesync"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all framesync metrics.
const meterName = "github.com/mengelbart/framesync"

var streamNames = [2]string{"primary", "secondary"}

// Metrics holds the metric instruments of a session. It implements
// framesync.EventHandler.
type Metrics struct {
	meter metric.Meter

	// Pairs counts emitted pairs. Use with attribute:
	//   attribute.Bool("matched", ...)
	Pairs metric.Int64Counter

	// Events counts pairing events. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("stream", ...)
	Events metric.Int64Counter

	// Evictions counts frames dropped by full queues per stream.
	Evictions metric.Int64ObservableCounter

	// QueueSize is the number of buffered frames per stream.
	QueueSize metric.Int64ObservableGauge

	// QueueHighWater is the largest queue size observed per stream.
	QueueHighWater metric.Int64ObservableGauge
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.Pairs, err = m.Int64Counter("framesync.pairs",
		metric.WithDescription("Total emitted pairs by match outcome."),
	); err != nil {
		return nil, err
	}
	if met.Events, err = m.Int64Counter("framesync.events",
		metric.WithDescription("Total pairing events by kind and stream."),
	); err != nil {
		return nil, err
	}
	if met.Evictions, err = m.Int64ObservableCounter("framesync.queue.evictions",
		metric.WithDescription("Frames evicted from full queues."),
	); err != nil {
		return nil, err
	}
	if met.QueueSize, err = m.Int64ObservableGauge("framesync.queue.size",
		metric.WithDescription("Number of buffered frames."),
	); err != nil {
		return nil, err
	}
	if met.QueueHighWater, err = m.Int64ObservableGauge("framesync.queue.high_water",
		metric.WithDescription("Largest number of buffered frames observed."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// HandleEvent implements framesync.EventHandler.
func (m *Metrics) HandleEvent(ctx context.Context, e framesync.Event) {
	m.Events.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", e.Kind.String()),
			attribute.String("stream", streamName(e.Stream)),
		),
	)
}

// PairWriter counts every pair written to next.
func (m *Metrics) PairWriter(next framesync.PairWriter) framesync.PairWriter {
	return framesync.PairWriterFunc(func(p framesync.Pair) error {
		m.Pairs.Add(context.Background(), 1,
			metric.WithAttributes(attribute.Bool("matched", p.Matched)),
		)
		return next.WritePair(p)
	})
}

// ObserveQueues registers a callback reporting the state of both queues.
// Unregister the returned registration once the queues are gone.
func (m *Metrics) ObserveQueues(primary, secondary *framesync.Queue) (metric.Registration, error) {
	queues := [2]*framesync.Queue{primary, secondary}
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for i, q := range queues {
			stats := q.Stats()
			attrs := metric.WithAttributes(attribute.String("stream", streamNames[i]))
			o.ObserveInt64(m.QueueSize, int64(stats.Size), attrs)
			o.ObserveInt64(m.QueueHighWater, int64(stats.HighWaterMark), attrs)
			o.ObserveInt64(m.Evictions, int64(stats.Dropped), attrs)
		}
		return nil
	}, m.QueueSize, m.QueueHighWater, m.Evictions)
}

func streamName(i int) string {
	if i >= 0 && i < len(streamNames) {
		return streamNames[i]
	}
	return strconv.Itoa(i)
}
