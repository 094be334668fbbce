package action

import "slices"

// Tier is the customer's support tier.
type Tier string

const (
	TierStandard   Tier = "standard"
	TierVIP        Tier = "vip"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Sentiment is the classifier's read of the customer's tone.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Level is a three-step scale used for predicted satisfaction and
// recommended priority.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Prediction is the classifier output for one customer message.
//
// ActionsExecuted is filled in by the Manager: each action receives its own
// copy listing the actions that completed successfully before it started.
type Prediction struct {
	IssueType             string    `json:"issue_type"`
	Sentiment             Sentiment `json:"sentiment"`
	PredictedSatisfaction Level     `json:"predicted_satisfaction"`
	RecommendedPriority   Level     `json:"recommended_priority"`
	Confidence            float64   `json:"confidence"`
	Message               string    `json:"message"`
	ActionsExecuted       []string  `json:"actions_executed,omitempty"`
}

// HasExecuted reports whether the named action already completed in the
// current orchestration call.
func (p *Prediction) HasExecuted(name string) bool {
	return slices.Contains(p.ActionsExecuted, name)
}

// withExecuted returns a copy of p with names appended to ActionsExecuted.
func (p *Prediction) withExecuted(names []string) *Prediction {
	cp := *p
	cp.ActionsExecuted = append(slices.Clone(p.ActionsExecuted), names...)
	return &cp
}

// CustomerContext describes the requester of one inbound message.
type CustomerContext struct {
	CustomerID       string `json:"customer_id"`
	Tier             Tier   `json:"tier"`
	Message          string `json:"message"`
	ResponseTimeMS   int64  `json:"response_time_ms"`
	DisableEmail     bool   `json:"disable_email"`
	DisableAnalytics bool   `json:"disable_analytics"`
}
