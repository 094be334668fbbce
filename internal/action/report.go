package action

import (
	"errors"
	"sort"
)

// ErrTimeout is recorded when an action's Execute outlives its budget.
var ErrTimeout = errors.New("timeout")

// Phase names the step in which an action failed.
type Phase string

const (
	PhaseShouldExecute Phase = "should_execute"
	PhaseExecution     Phase = "execution"
)

// SkipReason explains why an action did not run.
type SkipReason string

const (
	ReasonDisabled         SkipReason = "disabled"
	ReasonConditionsNotMet SkipReason = "conditions_not_met"
)

// Skip is a report entry for an action that did not run.
type Skip struct {
	Action string     `json:"action"`
	Reason SkipReason `json:"reason"`
}

// Failure is a report entry for an action that failed.
type Failure struct {
	Action string `json:"action"`
	Error  string `json:"error"`
	Phase  Phase  `json:"phase"`
}

// Report aggregates the outcome of one orchestration call. Every registered
// action appears in exactly one of Executed, Skipped or Failed, and Results
// holds an entry for exactly the names in Executed.
type Report struct {
	Executed []string          `json:"executed"`
	Skipped  []Skip            `json:"skipped"`
	Failed   []Failure         `json:"failed"`
	Results  map[string]Result `json:"results"`
}

func newReport() *Report {
	return &Report{
		Executed: []string{},
		Skipped:  []Skip{},
		Failed:   []Failure{},
		Results:  make(map[string]Result),
	}
}

func (r *Report) skip(name string, reason SkipReason) {
	r.Skipped = append(r.Skipped, Skip{Action: name, Reason: reason})
}

func (r *Report) fail(name string, err error, phase Phase) {
	r.Failed = append(r.Failed, Failure{Action: name, Error: err.Error(), Phase: phase})
}

func (r *Report) succeed(name string, res Result) {
	r.Executed = append(r.Executed, name)
	r.Results[name] = res
}

// orderBy sorts every list by the given registry rank so the report does not
// depend on completion order.
func (r *Report) orderBy(rank map[string]int) {
	sort.SliceStable(r.Executed, func(i, j int) bool { return rank[r.Executed[i]] < rank[r.Executed[j]] })
	sort.SliceStable(r.Skipped, func(i, j int) bool { return rank[r.Skipped[i].Action] < rank[r.Skipped[j].Action] })
	sort.SliceStable(r.Failed, func(i, j int) bool { return rank[r.Failed[i].Action] < rank[r.Failed[j].Action] })
}

// Succeeded reports whether the named action is in Executed.
func (r *Report) Succeeded(name string) bool {
	_, ok := r.Results[name]
	return ok
}
