// Package pgstore provides a PostgreSQL implementation of analytics.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/ticketwatch/internal/analytics"
	"github.com/linnemanlabs/ticketwatch/internal/postgres"
)

var tracer = otel.Tracer("github.com/linnemanlabs/ticketwatch/internal/analytics/pgstore")

//go:embed schema.sql
var schema string

// Store persists interactions and daily summaries in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(postgres.WithOperation(ctx, "migrate"), schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "pgstore."+name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
	return postgres.WithOperation(ctx, name), span
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Append inserts r and assigns its ID from the interactions sequence.
func (s *Store) Append(ctx context.Context, r *analytics.Record) (int64, error) {
	ctx, span := startSpan(ctx, "Append", "INSERT")
	defer span.End()

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	var id int64
	err := s.pool.QueryRow(ctx, `INSERT INTO interactions (
		ts, customer_id, customer_tier, issue_type, sentiment, predicted_satisfaction,
		priority, confidence, message_length, email_triggered, response_time_ms
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	RETURNING id`,
		r.Timestamp.UTC(), r.CustomerID, r.CustomerTier, r.IssueType, r.Sentiment, r.PredictedSatisfaction,
		r.Priority, r.Confidence, r.MessageLength, r.EmailTriggered, r.ResponseTimeMS,
	).Scan(&id)
	if err != nil {
		recordErr(span, err)
		return 0, fmt.Errorf("insert interaction: %w", err)
	}
	r.ID = id
	span.SetAttributes(attribute.Int64("ticketwatch.interaction_id", id))
	return id, nil
}

// Rollup recomputes the day's summary and upserts it into daily_summaries.
func (s *Store) Rollup(ctx context.Context, day time.Time) (*analytics.DailySummary, bool, error) {
	ctx, span := startSpan(ctx, "Rollup", "UPSERT")
	defer span.End()

	from, to := analytics.DayBounds(day)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		recordErr(span, err)
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	sum := analytics.DailySummary{Date: from.Format(analytics.DateLayout)}
	var avg float64
	err = tx.QueryRow(ctx, `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE priority = 'high'),
		COUNT(*) FILTER (WHERE sentiment = 'negative'),
		COUNT(*) FILTER (WHERE email_triggered),
		COALESCE(AVG(confidence), 0)
	FROM interactions WHERE ts >= $1 AND ts < $2`, from, to).Scan(
		&sum.TotalInteractions, &sum.HighPriorityCount, &sum.NegativeSentimentCount,
		&sum.EmailAlertsCount, &avg,
	)
	if err != nil {
		recordErr(span, err)
		return nil, false, fmt.Errorf("aggregate day: %w", err)
	}
	if sum.TotalInteractions == 0 {
		return nil, false, nil
	}
	sum.AvgConfidence = analytics.RoundConfidence(avg)

	top, ok, err := topIssue(ctx, tx, from, to)
	if err != nil {
		recordErr(span, err)
		return nil, false, err
	}
	if ok {
		sum.TopIssueType = top.IssueType
	}

	_, err = tx.Exec(ctx, `INSERT INTO daily_summaries (
		date, total_interactions, high_priority_count, negative_sentiment_count,
		email_alerts_count, avg_confidence, top_issue_type
	) VALUES ($1::date,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (date) DO UPDATE SET
		total_interactions       = EXCLUDED.total_interactions,
		high_priority_count      = EXCLUDED.high_priority_count,
		negative_sentiment_count = EXCLUDED.negative_sentiment_count,
		email_alerts_count       = EXCLUDED.email_alerts_count,
		avg_confidence           = EXCLUDED.avg_confidence,
		top_issue_type           = EXCLUDED.top_issue_type,
		updated_at               = now()`,
		sum.Date, sum.TotalInteractions, sum.HighPriorityCount, sum.NegativeSentimentCount,
		sum.EmailAlertsCount, sum.AvgConfidence, sum.TopIssueType,
	)
	if err != nil {
		recordErr(span, err)
		return nil, false, fmt.Errorf("upsert daily summary: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		recordErr(span, err)
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return &sum, true, nil
}

// Count returns interactions at or after since matching f. Empty filter
// fields match everything.
func (s *Store) Count(ctx context.Context, f analytics.Filter, since time.Time) (int, error) {
	ctx, span := startSpan(ctx, "Count", "SELECT")
	defer span.End()

	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM interactions
		WHERE ts >= $1
		AND ($2::text = '' OR sentiment = $2::text)
		AND ($3::text = '' OR priority = $3::text)`,
		since.UTC(), f.Sentiment, f.Priority,
	).Scan(&n)
	if err != nil {
		recordErr(span, err)
		return 0, fmt.Errorf("count interactions: %w", err)
	}
	return n, nil
}

// TopIssue returns the most frequent issue type in [from, to).
func (s *Store) TopIssue(ctx context.Context, from, to time.Time) (analytics.IssueCount, bool, error) {
	ctx, span := startSpan(ctx, "TopIssue", "SELECT")
	defer span.End()

	top, ok, err := topIssue(ctx, s.pool, from, to)
	if err != nil {
		recordErr(span, err)
	}
	return top, ok, err
}

// querier is the read surface shared by the pool and transactions.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func topIssue(ctx context.Context, q querier, from, to time.Time) (analytics.IssueCount, bool, error) {
	var top analytics.IssueCount
	err := q.QueryRow(ctx, `SELECT issue_type, COUNT(*) AS n
		FROM interactions WHERE ts >= $1 AND ts < $2
		GROUP BY issue_type ORDER BY n DESC, issue_type ASC LIMIT 1`,
		from.UTC(), to.UTC(),
	).Scan(&top.IssueType, &top.Count)
	if errors.Is(err, pgx.ErrNoRows) {
		return analytics.IssueCount{}, false, nil
	}
	if err != nil {
		return analytics.IssueCount{}, false, fmt.Errorf("top issue: %w", err)
	}
	return top, true, nil
}

// Summaries returns daily summaries dated on or after since, newest first.
func (s *Store) Summaries(ctx context.Context, since time.Time) ([]analytics.DailySummary, error) {
	ctx, span := startSpan(ctx, "Summaries", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT to_char(date, 'YYYY-MM-DD'), total_interactions,
		high_priority_count, negative_sentiment_count, email_alerts_count,
		avg_confidence, top_issue_type
		FROM daily_summaries WHERE date >= $1::date ORDER BY date DESC`,
		since.UTC().Format(analytics.DateLayout),
	)
	if err != nil {
		recordErr(span, err)
		return nil, fmt.Errorf("query daily summaries: %w", err)
	}
	defer rows.Close()

	var out []analytics.DailySummary
	for rows.Next() {
		var d analytics.DailySummary
		if err := rows.Scan(&d.Date, &d.TotalInteractions, &d.HighPriorityCount,
			&d.NegativeSentimentCount, &d.EmailAlertsCount, &d.AvgConfidence, &d.TopIssueType); err != nil {
			recordErr(span, err)
			return nil, fmt.Errorf("scan daily summary: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		recordErr(span, err)
		return nil, fmt.Errorf("iterate daily summaries: %w", err)
	}
	return out, nil
}

// IssueDistribution counts interactions at or after since per issue type.
func (s *Store) IssueDistribution(ctx context.Context, since time.Time) ([]analytics.IssueCount, error) {
	ctx, span := startSpan(ctx, "IssueDistribution", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT issue_type, COUNT(*) AS n
		FROM interactions WHERE ts >= $1
		GROUP BY issue_type ORDER BY n DESC, issue_type ASC`,
		since.UTC(),
	)
	if err != nil {
		recordErr(span, err)
		return nil, fmt.Errorf("query issue distribution: %w", err)
	}
	defer rows.Close()

	var out []analytics.IssueCount
	for rows.Next() {
		var c analytics.IssueCount
		if err := rows.Scan(&c.IssueType, &c.Count); err != nil {
			recordErr(span, err)
			return nil, fmt.Errorf("scan issue count: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		recordErr(span, err)
		return nil, fmt.Errorf("iterate issue distribution: %w", err)
	}
	return out, nil
}
