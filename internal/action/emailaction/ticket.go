package emailaction

import (
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/ticketwatch/internal/action"
)

const slaLayout = "2006-01-02 15:04"

var slaHours = map[action.Level]int{
	action.LevelHigh:   1,
	action.LevelMedium: 4,
	action.LevelLow:    24,
}

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// ticket holds the fields rendered into every notification.
type ticket struct {
	ID                  string
	CustomerID          string
	Tier                string
	IssueType           string
	Sentiment           string
	Satisfaction        string
	Priority            string
	Confidence          int
	Message             string
	SLA                 string
	EstimatedResolution string
	RecommendedActions  string
	EscalationReason    string
}

func newTicket(id string, p *action.Prediction, c *action.CustomerContext, now time.Time) ticket {
	t := ticket{
		ID:                  id,
		CustomerID:          orDefault(c.CustomerID, "UNKNOWN"),
		Tier:                orDefault(string(c.Tier), string(action.TierStandard)),
		IssueType:           orDefault(p.IssueType, "general"),
		Sentiment:           orDefault(string(p.Sentiment), string(action.SentimentNeutral)),
		Satisfaction:        orDefault(string(p.PredictedSatisfaction), string(action.LevelMedium)),
		Priority:            orDefault(string(p.RecommendedPriority), string(action.LevelMedium)),
		Confidence:          int(p.Confidence * 100),
		Message:             orDefault(messageOf(p, c), "No message provided"),
		SLA:                 slaTarget(p.RecommendedPriority, now),
		EstimatedResolution: estimateResolution(p),
		RecommendedActions:  recommendedActions(p),
		EscalationReason:    escalationReason(p, c),
	}
	return t
}

func slaTarget(priority action.Level, now time.Time) string {
	hours, ok := slaHours[priority]
	if !ok {
		hours = slaHours[action.LevelMedium]
	}
	return now.Add(time.Duration(hours) * time.Hour).Format(slaLayout)
}

func estimateResolution(p *action.Prediction) string {
	switch {
	case p.RecommendedPriority == action.LevelHigh:
		return "1-4 hours"
	case p.IssueType == "account_access", p.IssueType == "billing":
		return "2-6 hours"
	case p.IssueType == "technical_support", p.IssueType == "product_quality":
		return "4-24 hours"
	default:
		return "2-8 hours"
	}
}

func recommendedActions(p *action.Prediction) string {
	var out []string
	if p.RecommendedPriority == action.LevelHigh {
		out = append(out, "Immediate response required")
	}
	if p.Sentiment == action.SentimentNegative {
		out = append(out, "Use empathetic communication", "Consider goodwill gesture")
	}
	switch p.IssueType {
	case "shipping":
		out = append(out, "Check tracking information", "Investigate delivery status")
	case "billing":
		out = append(out, "Review account history", "Check payment status")
	case "technical_support":
		out = append(out, "Review technical documentation", "Test reproduction steps")
	}
	if len(out) == 0 {
		return "Standard support procedures"
	}
	return strings.Join(out, "; ")
}

func escalationReason(p *action.Prediction, c *action.CustomerContext) string {
	var out []string
	if p.RecommendedPriority == action.LevelHigh {
		out = append(out, "High priority classification")
	}
	if p.Sentiment == action.SentimentNegative {
		out = append(out, "Negative customer sentiment")
	}
	if c.Tier == action.TierVIP {
		out = append(out, "VIP customer status")
	}
	if len(out) == 0 {
		return "Standard escalation criteria met"
	}
	return strings.Join(out, "; ")
}

func subjectFor(kind string, id string) string {
	switch kind {
	case templateHighPriority:
		return "🚨 URGENT: High Priority Customer Issue - #" + id
	case templateEscalation:
		return "⚠️ MANAGER ESCALATION: Critical Customer Issue - #" + id
	default:
		return "🎯 New Support Ticket Assignment - #" + id
	}
}

func renderAssignment(t ticket, teamName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", teamName)
	b.WriteString("A new customer support ticket has been assigned to your team.\n\n")
	b.WriteString("TICKET DETAILS:\n" + rule + "\n")
	fmt.Fprintf(&b, "• Ticket ID: %s\n", t.ID)
	fmt.Fprintf(&b, "• Customer: %s\n", t.CustomerID)
	fmt.Fprintf(&b, "• Customer Tier: %s\n", t.Tier)
	fmt.Fprintf(&b, "• Issue Type: %s\n", t.IssueType)
	fmt.Fprintf(&b, "• Sentiment: %s\n", t.Sentiment)
	fmt.Fprintf(&b, "• Satisfaction Level: %s\n", t.Satisfaction)
	fmt.Fprintf(&b, "• Priority: %s\n", t.Priority)
	fmt.Fprintf(&b, "• Confidence: %d%%\n\n", t.Confidence)
	fmt.Fprintf(&b, "CUSTOMER MESSAGE:\n%q\n\n", t.Message)
	b.WriteString("RECOMMENDATIONS:\n")
	fmt.Fprintf(&b, "• Response SLA: %s\n", t.SLA)
	fmt.Fprintf(&b, "• Estimated Resolution Time: %s\n", t.EstimatedResolution)
	fmt.Fprintf(&b, "• Recommended Actions: %s\n\n", t.RecommendedActions)
	b.WriteString("NEXT STEPS:\n")
	b.WriteString("• Assign to available team member\n")
	b.WriteString("• Respond to customer within SLA\n")
	b.WriteString("• Update ticket status in system\n")
	b.WriteString("• Escalate if needed\n\n")
	b.WriteString(rule + "\n")
	b.WriteString("ticketwatch support operations\n")
	return b.String()
}

func renderHighPriority(t ticket, teamName string) string {
	var b strings.Builder
	b.WriteString("🚨 HIGH PRIORITY ALERT 🚨\n\n")
	fmt.Fprintf(&b, "Dear %s,\n\n", teamName)
	b.WriteString("A high-priority customer support issue requires IMMEDIATE attention.\n\n")
	b.WriteString("URGENT TICKET DETAILS:\n" + rule + "\n")
	fmt.Fprintf(&b, "• Ticket ID: %s\n", t.ID)
	fmt.Fprintf(&b, "• Customer: %s (%s)\n", t.CustomerID, t.Tier)
	fmt.Fprintf(&b, "• Issue: %s\n", t.IssueType)
	fmt.Fprintf(&b, "• Sentiment: %s\n", t.Sentiment)
	fmt.Fprintf(&b, "• Satisfaction: %s\n", t.Satisfaction)
	fmt.Fprintf(&b, "• Confidence: %d%%\n\n", t.Confidence)
	fmt.Fprintf(&b, "CUSTOMER MESSAGE:\n%q\n\n", t.Message)
	fmt.Fprintf(&b, "ESCALATION REASON:\n%s\n\n", t.EscalationReason)
	b.WriteString("IMMEDIATE ACTION REQUIRED:\n")
	fmt.Fprintf(&b, "• Response needed by: %s\n", t.SLA)
	b.WriteString("• Assignment required: IMMEDIATELY\n")
	b.WriteString("• Manager notification: SENT\n\n")
	fmt.Fprintf(&b, "RECOMMENDED ACTIONS:\n%s\n\n", t.RecommendedActions)
	b.WriteString("Please provide status updates every 30 minutes until resolved.\n\n")
	b.WriteString(rule + "\n")
	b.WriteString("ticketwatch priority escalation\n")
	return b.String()
}

func renderEscalation(t ticket, managerName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", managerName)
	b.WriteString("A customer support ticket has been escalated to management and requires your attention.\n\n")
	b.WriteString("ESCALATION ALERT:\n" + rule + "\n")
	fmt.Fprintf(&b, "• Ticket ID: %s\n", t.ID)
	fmt.Fprintf(&b, "• Customer: %s (%s)\n", t.CustomerID, t.Tier)
	fmt.Fprintf(&b, "• Issue Type: %s\n", t.IssueType)
	fmt.Fprintf(&b, "• Sentiment: %s\n", t.Sentiment)
	fmt.Fprintf(&b, "• Satisfaction: %s\n", t.Satisfaction)
	fmt.Fprintf(&b, "• Escalation Reason: %s\n\n", t.EscalationReason)
	fmt.Fprintf(&b, "CUSTOMER MESSAGE:\n%q\n\n", t.Message)
	fmt.Fprintf(&b, "Confidence Level: %d%%\n\n", t.Confidence)
	b.WriteString("TIMELINE:\n")
	b.WriteString("• Manager response needed: WITHIN 1 HOUR\n")
	b.WriteString("• Customer callback: WITHIN 2 HOURS\n")
	b.WriteString("• Resolution target: SAME DAY\n\n")
	b.WriteString(rule + "\n")
	b.WriteString("ticketwatch escalation alerts\n")
	return b.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
