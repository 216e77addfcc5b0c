package intake

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidPayload marks channel payloads that cannot be mapped to the
// canonical model. No event is ever produced for such a payload and the
// error is caller-visible as a 4xx.
var ErrInvalidPayload = errors.New("invalid payload")

// RequestMeta carries the transport-level metadata a normalizer folds into
// the canonical intake: best-effort caller identity, advisory edge geo data
// and the request reference used in acknowledgments.
type RequestMeta struct {
	SourceIdentity string
	Geo            Geo
	Path           string
	UserAgent      string
	Referer        string
	Reference      string
	ThreatScore    int
}

// NormalizeWebForm maps a parsed form submission (contact form or trap form)
// to the canonical intake. The hidden honey_token field trips the honeypot
// signal when non-empty; free-text notes come from the notes field, falling
// back to summary.
func NormalizeWebForm(form map[string][]string, files []FileMeta, meta RequestMeta) *RawIntake {
	fields := NormalizeFields(form, files)

	honeyTripped := strings.TrimSpace(fields.Get("honey_token")) != ""

	label := fields.Get("form_id")
	if label == "" {
		label = meta.Path
	}

	notes := fields.Joined("notes")
	if notes == "" {
		notes = fields.Joined("summary")
	}

	return &RawIntake{
		Channel:         ChannelWebForm,
		SourceIdentity:  meta.SourceIdentity,
		Geo:             meta.Geo,
		Label:           label,
		UserAgent:       meta.UserAgent,
		Reference:       meta.Reference,
		HoneypotTripped: honeyTripped,
		Fields:          fields,
		WebForm: &WebFormFeatures{
			ThreatScore: meta.ThreatScore,
			Notes:       notes,
		},
	}
}

// sgEnvelope is the SendGrid inbound-parse envelope field.
type sgEnvelope struct {
	From     string     `json:"from"`
	To       stringList `json:"to"`
	RemoteIP string     `json:"remote_ip"`
}

// NormalizeEmail maps a SendGrid inbound-parse form post to the canonical
// intake. A malformed envelope is tolerated (it only supplies fallbacks);
// everything else defaults to neutral values.
func NormalizeEmail(form map[string][]string, attachments []FileMeta, meta RequestMeta) *RawIntake {
	get := func(k string) string {
		if vs := form[k]; len(vs) > 0 {
			return vs[0]
		}
		return ""
	}

	var env sgEnvelope
	// ignore errors: a broken envelope just means no fallback values
	_ = json.Unmarshal([]byte(get("envelope")), &env)

	from := get("from")
	if from == "" {
		from = env.From
	}
	to := get("to")
	if to == "" {
		to = strings.Join(env.To, ",")
	}

	subject := get("subject")
	text := get("text")
	html := get("html")

	spamScore, spamKnown := parseFloat(get("spam_score"))

	spf := get("SPF")
	if spf == "" {
		spf = get("spf")
	}
	dkim := get("dkim")

	remoteIP := env.RemoteIP
	if remoteIP == "" {
		remoteIP = get("sender_ip")
	}
	if remoteIP == "" {
		remoteIP = meta.SourceIdentity
	}

	urls := ExtractURLs(text + "\n" + html)

	attachmentNames := make([]string, 0, len(attachments))
	for _, a := range attachments {
		attachmentNames = append(attachmentNames, a.Name)
	}

	fields := Fields{
		"from":    {Truncate(from, FieldValueLimit)},
		"to":      {Truncate(to, FieldValueLimit)},
		"subject": {Truncate(subject, FieldValueLimit)},
	}
	if spamKnown {
		fields["spam_score"] = []string{strconv.FormatFloat(spamScore, 'f', -1, 64)}
	}
	if spf != "" {
		fields["spf"] = []string{spf}
	}
	if dkim != "" {
		fields["dkim"] = []string{dkim}
	}
	if len(urls) > 0 {
		fields["urls"] = urls
	}
	if len(attachmentNames) > 0 {
		fields["attachments"] = attachmentNames
	}

	return &RawIntake{
		Channel:        ChannelEmail,
		SourceIdentity: remoteIP,
		Geo:            meta.Geo,
		Label:          "sendgrid",
		UserAgent:      meta.UserAgent,
		Reference:      meta.Reference,
		Fields:         fields,
		Email: &EmailFeatures{
			SpamScore:       spamScore,
			SpamScoreKnown:  spamKnown,
			SPF:             spf,
			DKIM:            dkim,
			URLCount:        len(urls),
			Subject:         subject,
			Body:            text,
			AttachmentNames: attachmentNames,
		},
	}
}

// SMTPPayload is the JSON body the SMTP gateway posts for every accepted
// message. rcpt_to arrives as either a string or an array of strings.
type SMTPPayload struct {
	IP          string     `json:"ip"`
	RemoteIP    string     `json:"remote_ip"`
	ASN         int64      `json:"asn"`
	Country     string     `json:"country"`
	Helo        string     `json:"helo"`
	MailFrom    string     `json:"mail_from"`
	RcptTo      stringList `json:"rcpt_to"`
	SPF         string     `json:"spf"`
	Subject     string     `json:"subject"`
	Size        int64      `json:"size"`
	MessageSize int64      `json:"message_size"`
}

// NormalizeSMTP maps an SMTP gateway notification to the canonical intake.
func NormalizeSMTP(p *SMTPPayload, meta RequestMeta) *RawIntake {
	ip := p.IP
	if ip == "" {
		ip = p.RemoteIP
	}

	size := p.Size
	if size == 0 {
		size = p.MessageSize
	}

	fields := Fields{}
	if p.MailFrom != "" {
		fields["mail_from"] = []string{Truncate(p.MailFrom, FieldValueLimit)}
	}
	if len(p.RcptTo) > 0 {
		fields["rcpt_to"] = []string{Truncate(strings.Join(p.RcptTo, ","), FieldValueLimit)}
	}
	if p.Subject != "" {
		fields["subject"] = []string{Truncate(p.Subject, FieldValueLimit)}
	}
	if size > 0 {
		fields["size"] = []string{strconv.FormatInt(size, 10)}
	}

	return &RawIntake{
		Channel:        ChannelSMTP,
		SourceIdentity: ip,
		Geo:            Geo{Country: p.Country, ASN: p.ASN},
		Label:          "smtp",
		// the gateway has no browser agent; HELO identifies the peer
		UserAgent: p.Helo,
		Reference: meta.Reference,
		Fields:    fields,
		SMTP: &SMTPFeatures{
			SPFFail:     strings.EqualFold(p.SPF, "fail"),
			Subject:     p.Subject,
			PayloadSize: size,
		},
	}
}

// cspReportBody is the wire shape of a violation report, possibly wrapped in
// a csp-report or report envelope key.
type cspReportBody struct {
	DocumentURI       string `json:"document-uri"`
	BlockedURI        string `json:"blocked-uri"`
	ViolatedDirective string `json:"violated-directive"`
	OriginalPolicy    string `json:"original-policy"`
}

const (
	cspFieldLimit  = 512
	cspPolicyLimit = 2048
)

// NormalizeCSPReport parses a policy-violation report body. The report may
// arrive bare or wrapped under "csp-report" or "report". Unparseable JSON is
// ErrInvalidPayload.
func NormalizeCSPReport(body []byte, meta RequestMeta) (*CSPReport, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, ErrInvalidPayload
	}

	inner := body
	if raw, ok := outer["csp-report"]; ok {
		inner = raw
	} else if raw, ok := outer["report"]; ok {
		inner = raw
	}

	var rep cspReportBody
	if err := json.Unmarshal(inner, &rep); err != nil {
		return nil, ErrInvalidPayload
	}

	return &CSPReport{
		Reference:         meta.Reference,
		Colo:              meta.Geo.Colo,
		UserAgent:         Truncate(meta.UserAgent, cspFieldLimit),
		DocumentURI:       Truncate(rep.DocumentURI, cspFieldLimit),
		BlockedURI:        Truncate(rep.BlockedURI, cspFieldLimit),
		ViolatedDirective: Truncate(rep.ViolatedDirective, cspFieldLimit),
		OriginalPolicy:    Truncate(rep.OriginalPolicy, cspPolicyLimit),
	}, nil
}

const maxExtractedURLs = 50

var extractURLRe = regexp.MustCompile(`(?i)https?://[^\s)\]">]+`)

// ExtractURLs pulls deduplicated http(s) URLs out of free text, bounded to
// maxExtractedURLs in first-seen order.
func ExtractURLs(s string) []string {
	matches := extractURLRe.FindAllString(s, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
		if len(out) == maxExtractedURLs {
			break
		}
	}
	return out
}

// stringList unmarshals from either a JSON string or an array of strings.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*l = nil
		} else {
			*l = []string{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
