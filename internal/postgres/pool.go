// Package postgres builds instrumented pgx connection pools: every query gets
// an otelpgx span, a structured log line and an optional metrics observation.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// NewPool parses databaseURL, attaches the tracing/logging query tracer and
// verifies connectivity.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pcfg.ConnConfig.Tracer = wrapQueryTracer(otelpgx.NewTracer())

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// RegisterQueryMetrics registers a per-query duration histogram on reg and
// installs it as the global query observer.
func RegisterQueryMetrics(reg prometheus.Registerer) *prometheus.HistogramVec {
	dur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ticketwatch_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source", "operation", "outcome"})
	reg.MustRegister(dur)

	SetQueryObserver(QueryObserverFunc(
		func(_ context.Context, source, operation, outcome string, d time.Duration) {
			dur.WithLabelValues(source, operation, outcome).Observe(d.Seconds())
		},
	))
	return dur
}
