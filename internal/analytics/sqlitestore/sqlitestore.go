// Package sqlitestore provides a SQLite implementation of analytics.Store
// backed by the pure-Go modernc.org/sqlite driver.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/linnemanlabs/ticketwatch/internal/analytics"
)

const schema = `
CREATE TABLE IF NOT EXISTS interactions (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	ts                     INTEGER NOT NULL,
	day                    TEXT    NOT NULL,
	customer_id            TEXT    NOT NULL DEFAULT '',
	customer_tier          TEXT    NOT NULL DEFAULT '',
	issue_type             TEXT    NOT NULL DEFAULT '',
	sentiment              TEXT    NOT NULL DEFAULT '',
	predicted_satisfaction TEXT    NOT NULL DEFAULT '',
	priority               TEXT    NOT NULL DEFAULT '',
	confidence             REAL    NOT NULL DEFAULT 0,
	message_length         INTEGER NOT NULL DEFAULT 0,
	email_triggered        INTEGER NOT NULL DEFAULT 0,
	response_time_ms       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS interactions_ts_idx ON interactions (ts);
CREATE TABLE IF NOT EXISTS daily_summaries (
	date                     TEXT PRIMARY KEY,
	total_interactions       INTEGER NOT NULL,
	high_priority_count      INTEGER NOT NULL,
	negative_sentiment_count INTEGER NOT NULL,
	email_alerts_count       INTEGER NOT NULL,
	avg_confidence           REAL    NOT NULL,
	top_issue_type           TEXT    NOT NULL
);`

// Store persists interactions in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle and applies the schema.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append inserts r and assigns its ID from the autoincrement key.
func (s *Store) Append(ctx context.Context, r *analytics.Record) (int64, error) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	ts := r.Timestamp.UTC()

	res, err := s.db.ExecContext(ctx, `INSERT INTO interactions (
		ts, day, customer_id, customer_tier, issue_type, sentiment,
		predicted_satisfaction, priority, confidence, message_length,
		email_triggered, response_time_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UnixMicro(), ts.Format(analytics.DateLayout), r.CustomerID, r.CustomerTier, r.IssueType, r.Sentiment,
		r.PredictedSatisfaction, r.Priority, r.Confidence, r.MessageLength,
		r.EmailTriggered, r.ResponseTimeMS,
	)
	if err != nil {
		return 0, fmt.Errorf("insert interaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("interaction id: %w", err)
	}
	r.ID = id
	return id, nil
}

// Rollup recomputes the day's summary and upserts it into daily_summaries.
func (s *Store) Rollup(ctx context.Context, day time.Time) (*analytics.DailySummary, bool, error) {
	from, to := analytics.DayBounds(day)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	sum := analytics.DailySummary{Date: from.Format(analytics.DateLayout)}
	var avg float64
	err = tx.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COUNT(CASE WHEN priority = 'high' THEN 1 END),
		COUNT(CASE WHEN sentiment = 'negative' THEN 1 END),
		COUNT(CASE WHEN email_triggered = 1 THEN 1 END),
		COALESCE(AVG(confidence), 0)
	FROM interactions WHERE ts >= ? AND ts < ?`, from.UnixMicro(), to.UnixMicro()).Scan(
		&sum.TotalInteractions, &sum.HighPriorityCount, &sum.NegativeSentimentCount,
		&sum.EmailAlertsCount, &avg,
	)
	if err != nil {
		return nil, false, fmt.Errorf("aggregate day: %w", err)
	}
	if sum.TotalInteractions == 0 {
		return nil, false, nil
	}
	sum.AvgConfidence = analytics.RoundConfidence(avg)

	top, ok, err := topIssue(ctx, tx, from, to)
	if err != nil {
		return nil, false, err
	}
	if ok {
		sum.TopIssueType = top.IssueType
	}

	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO daily_summaries (
		date, total_interactions, high_priority_count, negative_sentiment_count,
		email_alerts_count, avg_confidence, top_issue_type
	) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sum.Date, sum.TotalInteractions, sum.HighPriorityCount, sum.NegativeSentimentCount,
		sum.EmailAlertsCount, sum.AvgConfidence, sum.TopIssueType,
	)
	if err != nil {
		return nil, false, fmt.Errorf("upsert daily summary: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return &sum, true, nil
}

// Count returns interactions at or after since matching f.
func (s *Store) Count(ctx context.Context, f analytics.Filter, since time.Time) (int, error) {
	var (
		where = []string{"ts >= ?"}
		args  = []any{since.UTC().UnixMicro()}
	)
	if f.Sentiment != "" {
		where = append(where, "sentiment = ?")
		args = append(args, f.Sentiment)
	}
	if f.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, f.Priority)
	}

	var n int
	query := `SELECT COUNT(*) FROM interactions WHERE ` + strings.Join(where, " AND ")
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count interactions: %w", err)
	}
	return n, nil
}

// TopIssue returns the most frequent issue type in [from, to).
func (s *Store) TopIssue(ctx context.Context, from, to time.Time) (analytics.IssueCount, bool, error) {
	return topIssue(ctx, s.db, from, to)
}

// querier is the read surface shared by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func topIssue(ctx context.Context, q querier, from, to time.Time) (analytics.IssueCount, bool, error) {
	var top analytics.IssueCount
	err := q.QueryRowContext(ctx, `SELECT issue_type, COUNT(*) AS n
		FROM interactions WHERE ts >= ? AND ts < ?
		GROUP BY issue_type ORDER BY n DESC, issue_type ASC LIMIT 1`,
		from.UTC().UnixMicro(), to.UTC().UnixMicro(),
	).Scan(&top.IssueType, &top.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return analytics.IssueCount{}, false, nil
	}
	if err != nil {
		return analytics.IssueCount{}, false, fmt.Errorf("top issue: %w", err)
	}
	return top, true, nil
}

// Summaries returns daily summaries dated on or after since, newest first.
func (s *Store) Summaries(ctx context.Context, since time.Time) ([]analytics.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT date, total_interactions, high_priority_count,
		negative_sentiment_count, email_alerts_count, avg_confidence, top_issue_type
		FROM daily_summaries WHERE date >= ? ORDER BY date DESC`,
		since.UTC().Format(analytics.DateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query daily summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []analytics.DailySummary
	for rows.Next() {
		var d analytics.DailySummary
		if err := rows.Scan(&d.Date, &d.TotalInteractions, &d.HighPriorityCount,
			&d.NegativeSentimentCount, &d.EmailAlertsCount, &d.AvgConfidence, &d.TopIssueType); err != nil {
			return nil, fmt.Errorf("scan daily summary: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// IssueDistribution counts interactions at or after since per issue type.
func (s *Store) IssueDistribution(ctx context.Context, since time.Time) ([]analytics.IssueCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT issue_type, COUNT(*) AS n
		FROM interactions WHERE ts >= ?
		GROUP BY issue_type ORDER BY n DESC, issue_type ASC`,
		since.UTC().UnixMicro(),
	)
	if err != nil {
		return nil, fmt.Errorf("query issue distribution: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []analytics.IssueCount
	for rows.Next() {
		var c analytics.IssueCount
		if err := rows.Scan(&c.IssueType, &c.Count); err != nil {
			return nil, fmt.Errorf("scan issue count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
