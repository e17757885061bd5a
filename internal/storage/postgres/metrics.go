package postgres

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/hakari/internal/telemetry"
)

// RegisterPoolMetrics registers observable gauges for connection pool
// health. Call it after telemetry.Init so the gauges bind to the real
// meter provider.
func (db *DB) RegisterPoolMetrics() {
	meter := telemetry.Meter("hakari/storage")

	gauge := func(name, desc string, observe func() int64) {
		_, _ = meter.Int64ObservableGauge(name,
			metric.WithDescription(desc),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(observe())
				return nil
			}),
		)
	}
	gauge("hakari.db.pool.total", "Open connections in the pool", func() int64 {
		return int64(db.pool.Stat().TotalConns())
	})
	gauge("hakari.db.pool.acquired", "Connections currently checked out", func() int64 {
		return int64(db.pool.Stat().AcquiredConns())
	})
	gauge("hakari.db.pool.idle", "Idle connections in the pool", func() int64 {
		return int64(db.pool.Stat().IdleConns())
	})
}
