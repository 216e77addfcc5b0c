package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Config adds intake-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	MailProvider          string
	MailAPIKey            string
	AlertsTo              string
	AlertsFrom            string
	AlertThreshold        int
	SuspectThreshold      int
	HourlyAlertCap        int
	DedupWindowMinutes    int
	RetentionDays         int
	DigestSecret          string
	InboundSecret         string
	RateLimitPerMinute    int
	DebugErrors           bool
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.MailProvider, "mail-provider", "", "alert mail provider, RESEND or SENDGRID (empty = alerting disabled)")
	fs.StringVar(&c.MailAPIKey, "mail-api-key", "", "API key for the alert mail provider")
	fs.StringVar(&c.AlertsTo, "alerts-to", "", "destination address for alert and digest mail")
	fs.StringVar(&c.AlertsFrom, "alerts-from", "", "sender address for alert and digest mail")
	fs.IntVar(&c.AlertThreshold, "alert-threshold", 60, "score at or above which an event triggers a notification (1..100)")
	fs.IntVar(&c.SuspectThreshold, "suspect-threshold", 60, "score at or above which an event is classified suspicious (1..100)")
	fs.IntVar(&c.HourlyAlertCap, "hourly-alert-cap", 10, "max notifications per rolling hour (1..1000)")
	fs.IntVar(&c.DedupWindowMinutes, "dedup-window-minutes", 30, "minutes to suppress repeat alerts for the same source IP (1..1440)")
	fs.IntVar(&c.RetentionDays, "retention-days", 14, "default event retention horizon in days (1..365)")
	fs.StringVar(&c.DigestSecret, "digest-secret", "", "shared secret for the admin endpoints (empty = admin surface disabled)")
	fs.StringVar(&c.InboundSecret, "inbound-secret", "", "optional shared secret for the email webhook (empty = unauthenticated)")
	fs.IntVar(&c.RateLimitPerMinute, "rate-limit-per-minute", 120, "per-IP request limit on public intake endpoints (1..10000)")
	fs.BoolVar(&c.DebugErrors, "debug-errors", false, "include error detail in diag responses")
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

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Mail provider, when set, must be one we can speak to, with credentials
	if c.MailProvider != "" {
		switch strings.ToUpper(c.MailProvider) {
		case "RESEND", "SENDGRID":
		default:
			errs = append(errs, fmt.Errorf("invalid MAIL_PROVIDER %q (must be RESEND or SENDGRID)", c.MailProvider))
		}
		if c.MailAPIKey == "" {
			errs = append(errs, errors.New("MAIL_API_KEY is required when MAIL_PROVIDER is set"))
		}
		if c.AlertsTo == "" {
			errs = append(errs, errors.New("ALERTS_TO is required when MAIL_PROVIDER is set"))
		}
		if c.AlertsFrom == "" {
			errs = append(errs, errors.New("ALERTS_FROM is required when MAIL_PROVIDER is set"))
		}
	}

	if c.AlertThreshold <= 0 || c.AlertThreshold > 100 {
		errs = append(errs, fmt.Errorf("invalid ALERT_THRESHOLD %d (must be 1..100)", c.AlertThreshold))
	}
	if c.SuspectThreshold <= 0 || c.SuspectThreshold > 100 {
		errs = append(errs, fmt.Errorf("invalid SUSPECT_THRESHOLD %d (must be 1..100)", c.SuspectThreshold))
	}
	if c.HourlyAlertCap <= 0 || c.HourlyAlertCap > 1000 {
		errs = append(errs, fmt.Errorf("invalid HOURLY_ALERT_CAP %d (must be 1..1000)", c.HourlyAlertCap))
	}
	if c.DedupWindowMinutes <= 0 || c.DedupWindowMinutes > 1440 {
		errs = append(errs, fmt.Errorf("invalid DEDUP_WINDOW_MINUTES %d (must be 1..1440)", c.DedupWindowMinutes))
	}
	if c.RetentionDays <= 0 || c.RetentionDays > 365 {
		errs = append(errs, fmt.Errorf("invalid RETENTION_DAYS %d (must be 1..365)", c.RetentionDays))
	}
	if c.RateLimitPerMinute <= 0 || c.RateLimitPerMinute > 10000 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE %d (must be 1..10000)", c.RateLimitPerMinute))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
