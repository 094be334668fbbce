package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Config adds ticketwatch-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int

	ActionsConfig string

	DatabaseURL string
	SQLitePath  string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	EmailDomain            string
	EmailOverrideRecipient string
	SlackWebhookURL        string

	KafkaBrokers        string
	KafkaRequestsTopic  string
	KafkaGroupID        string
	KafkaAnalyticsTopic string

	Input  string
	Output string

	AnalyticsRollupEvery   int
	AnalyticsInsightsEvery int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 15, "seconds to wait for the in-flight request to finish before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 30, "total seconds for component shutdown after drain (1..300)")
	fs.StringVar(&c.ActionsConfig, "actions-config", "", "YAML or JSON action policy file (empty = built-in defaults)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the analytics store")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "", "SQLite database file for the analytics store (used when database-url is empty)")
	fs.StringVar(&c.SMTPHost, "smtp-host", "", "SMTP relay host (empty = no email delivery)")
	fs.IntVar(&c.SMTPPort, "smtp-port", 587, "SMTP relay port (1..65535)")
	fs.StringVar(&c.SMTPUsername, "smtp-username", "", "SMTP auth username (empty = no auth)")
	fs.StringVar(&c.SMTPPassword, "smtp-password", "", "SMTP auth password")
	fs.StringVar(&c.SMTPFrom, "smtp-from", "", "envelope and header From address")
	fs.StringVar(&c.EmailDomain, "email-domain", "example.com", "domain for team and member addresses")
	fs.StringVar(&c.EmailOverrideRecipient, "email-override-recipient", "", "send every notification to this single address instead")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for ticket notifications")
	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", "", "comma-separated Kafka broker addresses")
	fs.StringVar(&c.KafkaRequestsTopic, "kafka-requests-topic", "", "consume triage requests from this topic instead of input")
	fs.StringVar(&c.KafkaGroupID, "kafka-group-id", "ticketwatch", "consumer group for the requests topic")
	fs.StringVar(&c.KafkaAnalyticsTopic, "kafka-analytics-topic", "", "publish logged interactions to this topic")
	fs.StringVar(&c.Input, "input", "-", "JSONL request file (- = stdin)")
	fs.StringVar(&c.Output, "output", "-", "JSONL response file (- = stdout)")
	fs.IntVar(&c.AnalyticsRollupEvery, "analytics-rollup-every", 10, "recompute the daily summary every N interactions (0 = never)")
	fs.IntVar(&c.AnalyticsInsightsEvery, "analytics-insights-every", 20, "generate insights every N interactions (0 = never)")
}

// Brokers returns the parsed broker list.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// SMTP relay
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid SMTP_PORT %d (must be 1..65535)", c.SMTPPort))
	}
	if c.SMTPHost != "" && c.SMTPFrom == "" {
		errs = append(errs, errors.New("SMTP_FROM is required when SMTP_HOST is set"))
	}
	if c.SMTPUsername != "" && c.SMTPPassword == "" {
		errs = append(errs, errors.New("SMTP_PASSWORD is required when SMTP_USERNAME is set"))
	}

	// Addressing needs either a domain or a single override inbox
	if c.EmailDomain == "" && c.EmailOverrideRecipient == "" {
		errs = append(errs, errors.New("EMAIL_DOMAIN or EMAIL_OVERRIDE_RECIPIENT is required"))
	}

	// Kafka
	if (c.KafkaRequestsTopic != "" || c.KafkaAnalyticsTopic != "") && len(c.Brokers()) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when a Kafka topic is set"))
	}
	if c.KafkaRequestsTopic != "" && c.KafkaGroupID == "" {
		errs = append(errs, errors.New("KAFKA_GROUP_ID is required with KAFKA_REQUESTS_TOPIC"))
	}

	// Intake
	if c.KafkaRequestsTopic == "" && c.Input == "" {
		errs = append(errs, errors.New("INPUT is required when KAFKA_REQUESTS_TOPIC is not set"))
	}
	if c.Output == "" {
		errs = append(errs, errors.New("OUTPUT is required"))
	}

	// Analytics cadence
	if c.AnalyticsRollupEvery < 0 {
		errs = append(errs, fmt.Errorf("invalid ANALYTICS_ROLLUP_EVERY %d (must be >= 0)", c.AnalyticsRollupEvery))
	}
	if c.AnalyticsInsightsEvery < 0 {
		errs = append(errs, fmt.Errorf("invalid ANALYTICS_INSIGHTS_EVERY %d (must be >= 0)", c.AnalyticsInsightsEvery))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
