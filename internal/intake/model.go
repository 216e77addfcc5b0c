package intake

import "time"

// Channel identifies which intake surface produced an event.
type Channel string

const (
	// ChannelWebForm is the public contact/trap form surface.
	ChannelWebForm Channel = "web-form"

	// ChannelEmail is inbound email delivered by the SendGrid parse webhook.
	ChannelEmail Channel = "email-sendgrid"

	// ChannelSMTP is the raw SMTP gateway hook.
	ChannelSMTP Channel = "smtp-gateway"

	// ChannelCSPReport is client-side policy violation reporting.
	// CSP reports are stored separately and never scored.
	ChannelCSPReport Channel = "csp-report"
)

// Classification is the coarse risk bucket derived from score and the
// honeypot signal.
type Classification string

const (
	ClassObserved   Classification = "observed"
	ClassSuspicious Classification = "suspicious"
	ClassHoneypot   Classification = "honeypot"
)

// Geo carries advisory edge-network metadata. All fields may be empty.
type Geo struct {
	Country string `json:"country,omitempty"`
	ASN     int64  `json:"asn,omitempty"`
	Colo    string `json:"colo,omitempty"`
}

// Event is one scored intake record. Events are immutable after creation:
// the store assigns ID (and Timestamp when zero) on insert and rows are only
// ever removed by the retention manager.
type Event struct {
	ID              int64          `json:"id"`
	Timestamp       time.Time      `json:"timestamp"`
	SourceIdentity  string         `json:"source_identity,omitempty"`
	Geo             Geo            `json:"geo"`
	Channel         Channel        `json:"channel"`
	Label           string         `json:"label,omitempty"`
	HoneypotTripped bool           `json:"honeypot_tripped"`
	Score           int            `json:"score"`
	Classification  Classification `json:"classification"`
	UserAgent       string         `json:"user_agent,omitempty"`
	Reference       string         `json:"reference,omitempty"`
	Fields          Fields         `json:"fields,omitempty"`
}

// RawIntake is the canonical feature set a channel normalizer produces.
// Exactly one of the channel feature bags is set, matching Channel.
type RawIntake struct {
	Channel         Channel
	SourceIdentity  string
	Geo             Geo
	Label           string
	UserAgent       string
	Reference       string
	HoneypotTripped bool
	Fields          Fields

	WebForm *WebFormFeatures
	Email   *EmailFeatures
	SMTP    *SMTPFeatures
}

// WebFormFeatures are the scoring inputs specific to the web-form channel.
type WebFormFeatures struct {
	// ThreatScore is the edge network's 0-100 reputation signal.
	ThreatScore int

	// Notes is the submission's free-text body (notes or summary field).
	Notes string
}

// EmailFeatures are the scoring inputs specific to inbound email.
type EmailFeatures struct {
	SpamScore       float64
	SpamScoreKnown  bool
	SPF             string
	DKIM            string
	URLCount        int
	Subject         string
	Body            string
	AttachmentNames []string
}

// SMTPFeatures are the scoring inputs specific to the SMTP gateway.
type SMTPFeatures struct {
	SPFFail     bool
	Subject     string
	PayloadSize int64
}

// RetentionRun records one retention manager execution. Rows are append-only
// audit entries, one per run, never deleted.
type RetentionRun struct {
	RanAt         time.Time  `json:"ran_at"`
	RetentionDays int        `json:"retention_days"`
	Deleted       int64      `json:"deleted"`
	Honeypot      int64      `json:"honeypot_deleted"`
	OldestDeleted *time.Time `json:"oldest_deleted,omitempty"`
	NewestDeleted *time.Time `json:"newest_deleted,omitempty"`

	// ByClassification is the pre-deletion breakdown of the removed rows.
	// It is returned to the caller but not persisted with the run row.
	ByClassification []Bucket `json:"class_breakdown,omitempty"`
}

// CSPReport is a normalized client policy-violation report. CSP reports live
// in their own table, are excluded from scoring, alerting and the dashboard
// aggregates, and exist purely for manual review.
type CSPReport struct {
	ID                int64     `json:"id"`
	ReceivedAt        time.Time `json:"received_at"`
	Reference         string    `json:"reference,omitempty"`
	Colo              string    `json:"colo,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	DocumentURI       string    `json:"document_uri,omitempty"`
	BlockedURI        string    `json:"blocked_uri,omitempty"`
	ViolatedDirective string    `json:"violated_directive,omitempty"`
	OriginalPolicy    string    `json:"original_policy,omitempty"`
}
