package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Insight thresholds. A rule fires when its count strictly exceeds the limit.
const (
	NegativeSentimentLimit = 5
	HighPriorityLimit      = 3
	TopIssueLimit          = 2
)

// Insight is a derived observation over recent interactions.
type Insight struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Insights evaluates the alerting and trend rules as of now: negative
// sentiment and high priority volume over the trailing 24 hours, and the
// most common issue type of the current UTC day.
func Insights(ctx context.Context, s Store, now time.Time) ([]Insight, error) {
	since := now.Add(-24 * time.Hour)
	var out []Insight

	negative, err := s.Count(ctx, Filter{Sentiment: "negative"}, since)
	if err != nil {
		return nil, fmt.Errorf("count negative sentiment: %w", err)
	}
	if negative > NegativeSentimentLimit {
		out = append(out, Insight{
			Type:     "alert",
			Message:  fmt.Sprintf("High negative sentiment detected: %d cases in last 24h", negative),
			Severity: "medium",
		})
	}

	high, err := s.Count(ctx, Filter{Priority: "high"}, since)
	if err != nil {
		return nil, fmt.Errorf("count high priority: %w", err)
	}
	if high > HighPriorityLimit {
		out = append(out, Insight{
			Type:     "alert",
			Message:  fmt.Sprintf("High priority issues spike: %d cases in last 24h", high),
			Severity: "high",
		})
	}

	from, to := DayBounds(now)
	top, ok, err := s.TopIssue(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("top issue: %w", err)
	}
	if ok && top.Count > TopIssueLimit {
		out = append(out, Insight{
			Type:     "trend",
			Message:  fmt.Sprintf("Most common issue today: %s (%d cases)", top.IssueType, top.Count),
			Severity: "info",
		})
	}

	return out, nil
}

// Report is the multi-day analytics overview.
type Report struct {
	PeriodDays        int            `json:"period_days"`
	DailySummaries    []DailySummary `json:"daily_summaries"`
	IssueDistribution []IssueCount   `json:"issue_distribution"`
	GeneratedAt       time.Time      `json:"generated_at"`
}

// Summary collects persisted daily summaries and the issue distribution for
// the last days days.
func Summary(ctx context.Context, s Store, days int, now time.Time) (*Report, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}

	dayStart, _ := DayBounds(now)
	summaries, err := s.Summaries(ctx, dayStart.AddDate(0, 0, -days))
	if err != nil {
		return nil, fmt.Errorf("daily summaries: %w", err)
	}
	dist, err := s.IssueDistribution(ctx, now.AddDate(0, 0, -days))
	if err != nil {
		return nil, fmt.Errorf("issue distribution: %w", err)
	}
	if summaries == nil {
		summaries = []DailySummary{}
	}
	if dist == nil {
		dist = []IssueCount{}
	}

	return &Report{
		PeriodDays:        days,
		DailySummaries:    summaries,
		IssueDistribution: dist,
		GeneratedAt:       now.UTC(),
	}, nil
}

func sortIssues(xs []IssueCount) {
	sort.Slice(xs, func(i, j int) bool {
		if xs[i].Count != xs[j].Count {
			return xs[i].Count > xs[j].Count
		}
		return xs[i].IssueType < xs[j].IssueType
	})
}
