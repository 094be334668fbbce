// Package analytics defines the interaction log model, the Store contract
// shared by the memory, SQLite and PostgreSQL backends, and the rollup and
// insight rules computed on top of it.
package analytics

import (
	"context"
	"math"
	"time"
)

// DateLayout is the calendar-day key used by daily summaries.
const DateLayout = "2006-01-02"

// Record is one logged customer interaction.
type Record struct {
	ID                    int64     `json:"interaction_id"`
	Timestamp             time.Time `json:"timestamp"`
	CustomerID            string    `json:"customer_id"`
	CustomerTier          string    `json:"customer_tier"`
	IssueType             string    `json:"issue_type"`
	Sentiment             string    `json:"sentiment"`
	PredictedSatisfaction string    `json:"predicted_satisfaction"`
	Priority              string    `json:"priority"`
	Confidence            float64   `json:"confidence"`
	MessageLength         int       `json:"message_length"`
	EmailTriggered        bool      `json:"email_triggered"`
	ResponseTimeMS        int64     `json:"response_time_ms"`
}

// DailySummary aggregates one calendar day (UTC) of interactions.
type DailySummary struct {
	Date                   string  `json:"date"`
	TotalInteractions      int     `json:"total_interactions"`
	HighPriorityCount      int     `json:"high_priority_count"`
	NegativeSentimentCount int     `json:"negative_sentiment_count"`
	EmailAlertsCount       int     `json:"email_alerts_count"`
	AvgConfidence          float64 `json:"avg_confidence"`
	TopIssueType           string  `json:"top_issue_type"`
}

// IssueCount is an issue type with its number of interactions.
type IssueCount struct {
	IssueType string `json:"issue_type"`
	Count     int    `json:"count"`
}

// Filter narrows Count to interactions matching every non-empty field.
type Filter struct {
	Sentiment string
	Priority  string
}

// Store persists interaction records and daily summaries. Implementations
// must tolerate concurrent Append calls.
type Store interface {
	// Append stores r, assigning r.ID (monotonically increasing from 1) and
	// r.Timestamp when zero. It returns the assigned ID.
	Append(ctx context.Context, r *Record) (int64, error)

	// Rollup recomputes and persists the summary for the UTC day containing
	// day. ok is false when that day has no interactions.
	Rollup(ctx context.Context, day time.Time) (s *DailySummary, ok bool, err error)

	// Count returns the number of interactions at or after since matching f.
	Count(ctx context.Context, f Filter, since time.Time) (int, error)

	// TopIssue returns the most frequent issue type in [from, to). Ties go to
	// the lexically smallest issue type.
	TopIssue(ctx context.Context, from, to time.Time) (top IssueCount, ok bool, err error)

	// Summaries returns persisted daily summaries dated on or after since,
	// newest first.
	Summaries(ctx context.Context, since time.Time) ([]DailySummary, error)

	// IssueDistribution counts interactions at or after since per issue type,
	// most frequent first.
	IssueDistribution(ctx context.Context, since time.Time) ([]IssueCount, error)
}

// DayBounds returns the UTC start of t's day and the start of the next.
func DayBounds(t time.Time) (start, end time.Time) {
	y, m, d := t.UTC().Date()
	start = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// RoundConfidence rounds an average confidence to three decimals.
func RoundConfidence(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Summarize computes a DailySummary from a day's records in memory. It
// returns false when records is empty.
func Summarize(day time.Time, records []Record) (*DailySummary, bool) {
	if len(records) == 0 {
		return nil, false
	}

	start, _ := DayBounds(day)
	s := &DailySummary{Date: start.Format(DateLayout)}
	counts := make(map[string]int)
	var sum float64
	for i := range records {
		r := &records[i]
		s.TotalInteractions++
		if r.Priority == "high" {
			s.HighPriorityCount++
		}
		if r.Sentiment == "negative" {
			s.NegativeSentimentCount++
		}
		if r.EmailTriggered {
			s.EmailAlertsCount++
		}
		sum += r.Confidence
		counts[r.IssueType]++
	}
	s.AvgConfidence = RoundConfidence(sum / float64(s.TotalInteractions))
	if top, ok := topOf(counts); ok {
		s.TopIssueType = top.IssueType
	}
	return s, true
}

// Distribution orders per-issue counts most frequent first, ties by name.
func Distribution(counts map[string]int) []IssueCount {
	out := make([]IssueCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, IssueCount{IssueType: k, Count: v})
	}
	sortIssues(out)
	return out
}

func topOf(counts map[string]int) (IssueCount, bool) {
	d := Distribution(counts)
	if len(d) == 0 {
		return IssueCount{}, false
	}
	return d[0], true
}
