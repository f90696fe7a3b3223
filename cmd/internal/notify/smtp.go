package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPConfig holds mailer settings.
type SMTPConfig struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
}

// Enabled reports whether the mailer is configured.
func (c SMTPConfig) Enabled() bool {
	return c.Addr != "" && c.From != ""
}

// SMTPNotifier sends new-message alerts by email.
type SMTPNotifier struct {
	cfg SMTPConfig
}

// NewSMTPNotifier constructs an SMTP-backed Notifier.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if !cfg.Enabled() {
		return nil, errors.New("notify: smtp addr and from are required")
	}
	return &SMTPNotifier{cfg: cfg}, nil
}

// NewMessage emails the recipient about a new chat message.
func (n *SMTPNotifier) NewMessage(_ context.Context, recipientEmail, senderName, preview, matchID string) error {
	recipientEmail = strings.TrimSpace(recipientEmail)
	if recipientEmail == "" {
		// Profiles without an email simply get no out-of-band alert.
		return nil
	}

	preview = truncatePreview(preview, 140)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", recipientEmail)
	fmt.Fprintf(&b, "Subject: New message from %s\r\n", senderName)
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "%s sent you a message:\r\n\r\n%s\r\n\r\nOpen your conversation: /matches/%s\r\n",
		senderName, preview, matchID)

	var auth smtp.Auth
	if n.cfg.Username != "" {
		host, _, _ := strings.Cut(n.cfg.Addr, ":")
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, host)
	}

	return smtp.SendMail(n.cfg.Addr, auth, n.cfg.From, []string{recipientEmail}, []byte(b.String()))
}

// truncatePreview shortens s to at most max runes, never splitting a
// multi-byte rune, and marks the cut with an ellipsis.
func truncatePreview(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
