// Package memstore provides an in-memory implementation of analytics.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/ticketwatch/internal/analytics"
)

// Store holds interactions and daily summaries in memory. Suitable for dev/testing.
type Store struct {
	mu        sync.RWMutex
	records   []analytics.Record
	summaries map[string]analytics.DailySummary // date -> summary
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		summaries: make(map[string]analytics.DailySummary),
	}
}

// Append stores a copy of r and assigns its ID.
func (s *Store) Append(_ context.Context, r *analytics.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = int64(len(s.records)) + 1
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	s.records = append(s.records, *r)
	return r.ID, nil
}

// Rollup recomputes the summary for day's UTC date and stores it.
func (s *Store) Rollup(_ context.Context, day time.Time) (*analytics.DailySummary, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, to := analytics.DayBounds(day)
	sum, ok := analytics.Summarize(day, s.between(from, to))
	if !ok {
		return nil, false, nil
	}
	s.summaries[sum.Date] = *sum
	return sum, true, nil
}

// Count returns interactions at or after since matching f.
func (s *Store) Count(_ context.Context, f analytics.Filter, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for i := range s.records {
		r := &s.records[i]
		if r.Timestamp.Before(since) {
			continue
		}
		if f.Sentiment != "" && r.Sentiment != f.Sentiment {
			continue
		}
		if f.Priority != "" && r.Priority != f.Priority {
			continue
		}
		n++
	}
	return n, nil
}

// TopIssue returns the most frequent issue type in [from, to).
func (s *Store) TopIssue(_ context.Context, from, to time.Time) (analytics.IssueCount, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := analytics.Distribution(countIssues(s.between(from, to)))
	if len(d) == 0 {
		return analytics.IssueCount{}, false, nil
	}
	return d[0], true, nil
}

// Summaries returns stored summaries dated on or after since, newest first.
func (s *Store) Summaries(_ context.Context, since time.Time) ([]analytics.DailySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := since.UTC().Format(analytics.DateLayout)
	var out []analytics.DailySummary
	for date, sum := range s.summaries {
		if date >= cutoff {
			out = append(out, sum)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

// IssueDistribution counts interactions at or after since per issue type.
func (s *Store) IssueDistribution(_ context.Context, since time.Time) ([]analytics.IssueCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return analytics.Distribution(countIssues(s.between(since, time.Time{}))), nil
}

// between returns records in [from, to); a zero to means unbounded. Caller holds mu.
func (s *Store) between(from, to time.Time) []analytics.Record {
	var out []analytics.Record
	for i := range s.records {
		ts := s.records[i].Timestamp
		if ts.Before(from) {
			continue
		}
		if !to.IsZero() && !ts.Before(to) {
			continue
		}
		out = append(out, s.records[i])
	}
	return out
}

func countIssues(records []analytics.Record) map[string]int {
	counts := make(map[string]int)
	for i := range records {
		counts[records[i].IssueType]++
	}
	return counts
}
