// Package mail sends intake alerts by email through Resend or SendGrid.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/linnemanlabs/go-core/log"
)

const (
	ProviderResend   = "RESEND"
	ProviderSendGrid = "SENDGRID"

	httpTimeout = 10 * time.Second
)

// Config holds the mail provider settings.
type Config struct {
	Provider string
	APIKey   string
	To       string
	From     string
}

// Configured reports whether the config is complete enough to send.
func (c Config) Configured() bool {
	return c.Provider != "" && c.APIKey != "" && c.To != "" && c.From != ""
}

// Notifier delivers alert emails through the configured provider's REST API.
// A circuit breaker sheds sends while the provider is failing so a provider
// outage cannot pile up blocked dispatch goroutines.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger log.Logger
	cb     *gobreaker.CircuitBreaker[struct{}]

	// overridable in tests
	resendURL   string
	sendgridURL string
}

// New creates a mail notifier. logger may be nil.
func New(cfg Config, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	n := &Notifier{
		cfg:         cfg,
		client:      &http.Client{Timeout: httpTimeout},
		logger:      logger,
		resendURL:   "https://api.resend.com/emails",
		sendgridURL: "https://api.sendgrid.com/v3/mail/send",
	}
	n.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "mail-provider",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "mail circuit state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return n
}

// Send delivers one plaintext email. It returns an error when the provider
// rejects the message, the config is incomplete, or the breaker is open.
func (n *Notifier) Send(ctx context.Context, subject, body string) error {
	if !n.cfg.Configured() {
		return fmt.Errorf("mail: provider not configured")
	}

	_, err := n.cb.Execute(func() (struct{}, error) {
		return struct{}{}, n.send(ctx, subject, body)
	})
	return err
}

func (n *Notifier) send(ctx context.Context, subject, body string) error {
	switch strings.ToUpper(n.cfg.Provider) {
	case ProviderResend:
		return n.post(ctx, n.resendURL, map[string]any{
			"from":    n.cfg.From,
			"to":      []string{n.cfg.To},
			"subject": subject,
			"text":    body,
		})
	case ProviderSendGrid:
		return n.post(ctx, n.sendgridURL, map[string]any{
			"personalizations": []map[string]any{
				{"to": []map[string]string{{"email": n.cfg.To}}},
			},
			"from":    map[string]string{"email": n.cfg.From},
			"subject": subject,
			"content": []map[string]string{{"type": "text/plain", "value": body}},
		})
	default:
		return fmt.Errorf("mail: unsupported provider %q", n.cfg.Provider)
	}
}

func (n *Notifier) post(ctx context.Context, url string, payload map[string]any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mail: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("mail: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.cfg.APIKey)

	resp, err := n.client.Do(req) //nolint:gosec // G704: url is a fixed provider endpoint, not user input
	if err != nil {
		return fmt.Errorf("mail: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail: provider returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
