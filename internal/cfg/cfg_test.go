package cfg

import (
	"flag"
	"math"
	"slices"
	"strings"
	"testing"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:           15,
		ShutdownBudgetSeconds:  30,
		SMTPPort:               587,
		EmailDomain:            "example.com",
		KafkaGroupID:           "ticketwatch",
		Input:                  "-",
		Output:                 "-",
		AnalyticsRollupEvery:   10,
		AnalyticsInsightsEvery: 20,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c != validBase() {
		t.Errorf("defaults = %+v\nwant       %+v", c, validBase())
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "5",
		"-shutdown-budget-seconds", "60",
		"-actions-config", "/etc/ticketwatch/actions.yaml",
		"-database-url", "postgres://localhost/ticketwatch",
		"-smtp-host", "smtp.example.com",
		"-smtp-port", "2525",
		"-smtp-from", "support@example.com",
		"-email-override-recipient", "ops@example.com",
		"-kafka-brokers", "k1:9092, k2:9092,",
		"-kafka-requests-topic", "triage.requests",
		"-input", "requests.jsonl",
		"-analytics-rollup-every", "0",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 5 || c.ShutdownBudgetSeconds != 60 {
		t.Errorf("drain/budget = %d/%d, want 5/60", c.DrainSeconds, c.ShutdownBudgetSeconds)
	}
	if c.ActionsConfig != "/etc/ticketwatch/actions.yaml" {
		t.Errorf("ActionsConfig = %q", c.ActionsConfig)
	}
	if c.DatabaseURL != "postgres://localhost/ticketwatch" {
		t.Errorf("DatabaseURL = %q", c.DatabaseURL)
	}
	if c.SMTPHost != "smtp.example.com" || c.SMTPPort != 2525 || c.SMTPFrom != "support@example.com" {
		t.Errorf("smtp = %q:%d from %q", c.SMTPHost, c.SMTPPort, c.SMTPFrom)
	}
	if c.EmailOverrideRecipient != "ops@example.com" {
		t.Errorf("EmailOverrideRecipient = %q", c.EmailOverrideRecipient)
	}
	if got := c.Brokers(); !slices.Equal(got, []string{"k1:9092", "k2:9092"}) {
		t.Errorf("Brokers() = %v", got)
	}
	if c.KafkaRequestsTopic != "triage.requests" || c.Input != "requests.jsonl" {
		t.Errorf("intake = %q / %q", c.KafkaRequestsTopic, c.Input)
	}
	if c.AnalyticsRollupEvery != 0 {
		t.Errorf("AnalyticsRollupEvery = %d, want 0", c.AnalyticsRollupEvery)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	with := func(f func(*Config)) Config {
		c := validBase()
		f(&c)
		return c
	}

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name:    "minimum valid budgets",
			cfg:     with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 1, 2 }),
			wantErr: false,
		},
		{
			name:    "maximum valid budgets",
			cfg:     with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 299, 300 }),
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			cfg:       with(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 301, 302 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:    "drain at upper bound",
			cfg:     with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 300, 300 }),
			wantErr: true, // budget must be greater than drain
		},
		// ShutdownBudgetSeconds boundaries
		{
			name:      "budget zero",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget above max",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 301 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget equals drain",
			cfg:       with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 30, 30 }),
			wantErr:   true,
			errSubstr: []string{"must be greater than DRAIN_SECONDS"},
		},
		// SMTP
		{
			name:      "smtp port zero",
			cfg:       with(func(c *Config) { c.SMTPPort = 0 }),
			wantErr:   true,
			errSubstr: []string{"SMTP_PORT"},
		},
		{
			name:      "smtp port above max",
			cfg:       with(func(c *Config) { c.SMTPPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"SMTP_PORT"},
		},
		{
			name:      "smtp host without from",
			cfg:       with(func(c *Config) { c.SMTPHost = "smtp.example.com" }),
			wantErr:   true,
			errSubstr: []string{"SMTP_FROM"},
		},
		{
			name:      "smtp username without password",
			cfg:       with(func(c *Config) { c.SMTPUsername = "bot" }),
			wantErr:   true,
			errSubstr: []string{"SMTP_PASSWORD"},
		},
		{
			name: "smtp fully configured",
			cfg: with(func(c *Config) {
				c.SMTPHost, c.SMTPFrom, c.SMTPUsername, c.SMTPPassword = "smtp.example.com", "a@example.com", "bot", "pw"
			}),
			wantErr: false,
		},
		// Addressing
		{
			name:      "no domain and no override",
			cfg:       with(func(c *Config) { c.EmailDomain = "" }),
			wantErr:   true,
			errSubstr: []string{"EMAIL_DOMAIN"},
		},
		{
			name:    "override without domain",
			cfg:     with(func(c *Config) { c.EmailDomain, c.EmailOverrideRecipient = "", "ops@example.com" }),
			wantErr: false,
		},
		// Kafka
		{
			name:      "requests topic without brokers",
			cfg:       with(func(c *Config) { c.KafkaRequestsTopic = "req" }),
			wantErr:   true,
			errSubstr: []string{"KAFKA_BROKERS"},
		},
		{
			name:      "analytics topic with blank brokers",
			cfg:       with(func(c *Config) { c.KafkaAnalyticsTopic, c.KafkaBrokers = "an", " , " }),
			wantErr:   true,
			errSubstr: []string{"KAFKA_BROKERS"},
		},
		{
			name: "requests topic without group",
			cfg: with(func(c *Config) {
				c.KafkaRequestsTopic, c.KafkaBrokers, c.KafkaGroupID = "req", "k:9092", ""
			}),
			wantErr:   true,
			errSubstr: []string{"KAFKA_GROUP_ID"},
		},
		{
			name: "kafka intake needs no input",
			cfg: with(func(c *Config) {
				c.KafkaRequestsTopic, c.KafkaBrokers, c.Input = "req", "k:9092", ""
			}),
			wantErr: false,
		},
		// Intake
		{
			name:      "no input",
			cfg:       with(func(c *Config) { c.Input = "" }),
			wantErr:   true,
			errSubstr: []string{"INPUT"},
		},
		{
			name:      "no output",
			cfg:       with(func(c *Config) { c.Output = "" }),
			wantErr:   true,
			errSubstr: []string{"OUTPUT"},
		},
		// Analytics cadence
		{
			name:      "negative cadence",
			cfg:       with(func(c *Config) { c.AnalyticsRollupEvery, c.AnalyticsInsightsEvery = -1, -1 }),
			wantErr:   true,
			errSubstr: []string{"ANALYTICS_ROLLUP_EVERY", "ANALYTICS_INSIGHTS_EVERY"},
		},
		// All errors at once
		{
			name:      "zero value reports everything",
			cfg:       Config{},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "SMTP_PORT", "EMAIL_DOMAIN", "INPUT", "OUTPUT"},
		},
		// Extreme values
		{
			name:      "extreme negative values",
			cfg:       with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds, c.SMTPPort = math.MinInt32, math.MinInt32, math.MinInt32 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "SMTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port     int
		domain, override, input string
	}{
		{15, 30, 587, "example.com", "", "-"},
		{1, 2, 1, "d", "", "f"},
		{299, 300, 65535, "", "o@x", "f"},
		{0, 0, 0, "", "", ""},
		{-1, -1, -1, "", "", ""},
		{300, 300, 65535, "d", "", "-"},
		{301, 302, 65536, "", "", ""},
		{150, 100, 25, "d", "", "-"},
		{math.MinInt32, math.MinInt32, math.MinInt32, "", "", ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, "", "", ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.domain, s.override, s.input)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port int, domain, override, input string) {
		c := validBase()
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.SMTPPort = port
		c.EmailDomain = domain
		c.EmailOverrideRecipient = override
		c.Input = input
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		addrOK := domain != "" || override != ""
		inputOK := input != ""

		allValid := drainOK && budgetOK && portOK && crossOK && addrOK && inputOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
