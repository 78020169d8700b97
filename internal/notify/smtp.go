package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/mkrol/allegro-watch/internal/metrics"
)

// SMTPNotifier implements Notifier by email over SMTP with STARTTLS.
type SMTPNotifier struct {
	addr     string // host:port
	username string
	password string
	from     string
	to       string
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// SMTPOption configures an SMTPNotifier.
type SMTPOption func(*SMTPNotifier)

// WithSendFunc overrides the SMTP send function, for testing.
func WithSendFunc(f func(addr string, a smtp.Auth, from string, to []string, msg []byte) error) SMTPOption {
	return func(n *SMTPNotifier) {
		n.send = f
	}
}

// NewSMTPNotifier creates an email notifier. addr is host:port of the
// relay; username/password authenticate the sender.
func NewSMTPNotifier(addr, username, password, from, to string, opts ...SMTPOption) *SMTPNotifier {
	n := &SMTPNotifier{
		addr:     addr,
		username: username,
		password: password,
		from:     from,
		to:       to,
		send:     smtp.SendMail,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NotifyNewItems emails the new-item list for a saved search.
func (n *SMTPNotifier) NotifyNewItems(_ context.Context, search string, items []Item) error {
	body, err := Body(items)
	if err != nil {
		return err
	}
	msg := buildMessage(n.from, n.to, Title(search), body)

	host := n.addr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	auth := smtp.PlainAuth("", n.username, n.password, host)

	if err := n.send(n.addr, auth, n.from, []string{n.to}, msg); err != nil {
		metrics.NotificationFailuresTotal.Inc()
		return fmt.Errorf("sending mail: %w", err)
	}
	metrics.NotificationsTotal.Inc()
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
