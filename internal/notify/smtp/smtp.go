// Package smtp delivers ticket notifications as plain-text email.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/ticketwatch/internal/notify"
)

const defaultDialTimeout = 10 * time.Second

// Config holds the relay settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// InsecureSkipVerify disables certificate checks on STARTTLS. Only for
	// local relays with self-signed certificates.
	InsecureSkipVerify bool
}

// Channel sends messages through one SMTP relay. A new connection is made
// per message.
type Channel struct {
	cfg    Config
	logger log.Logger
	now    func() time.Time
}

// New validates cfg and returns a channel.
func New(cfg Config, logger log.Logger) (*Channel, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp: host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("smtp: invalid port %d", cfg.Port)
	}
	if cfg.From == "" {
		return nil, errors.New("smtp: from address is required")
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Channel{cfg: cfg, logger: logger, now: time.Now}, nil
}

// Name implements notify.Channel.
func (c *Channel) Name() string { return "smtp" }

// Deliver sends m to every address in m.To.
func (c *Channel) Deliver(ctx context.Context, m *notify.Message) (*notify.Delivery, error) {
	if len(m.To) == 0 {
		return nil, errors.New("smtp: no recipients")
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	d := net.Dialer{Timeout: defaultDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("smtp: dial %s: %w", addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	// Unblock any pending read or write once ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, c.wrap(ctx, "greeting", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsCfg := &tls.Config{ServerName: c.cfg.Host, InsecureSkipVerify: c.cfg.InsecureSkipVerify} //nolint:gosec // operator opt-in
		if err := client.StartTLS(tlsCfg); err != nil {
			return nil, c.wrap(ctx, "starttls", err)
		}
	}
	if c.cfg.Username != "" {
		auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return nil, c.wrap(ctx, "auth", err)
		}
	}

	if err := client.Mail(c.cfg.From); err != nil {
		return nil, c.wrap(ctx, "mail from", err)
	}
	for _, rcpt := range m.To {
		if err := client.Rcpt(rcpt); err != nil {
			return nil, c.wrap(ctx, "rcpt "+rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return nil, c.wrap(ctx, "data", err)
	}
	if _, err := w.Write(compose(c.cfg.From, m, c.now())); err != nil {
		return nil, c.wrap(ctx, "write body", err)
	}
	if err := w.Close(); err != nil {
		return nil, c.wrap(ctx, "end data", err)
	}
	if err := client.Quit(); err != nil {
		c.logger.Warn(ctx, "smtp quit failed", "err", err)
	}

	c.logger.Info(ctx, "email sent",
		"ticket_id", m.TicketID,
		"kind", string(m.Kind),
		"recipients", len(m.To),
	)
	return &notify.Delivery{
		Channel: c.Name(),
		Status:  notify.StatusSent,
		Detail:  fmt.Sprintf("email sent to %d recipient(s)", len(m.To)),
	}, nil
}

// wrap prefers the context error so callers can tell timeouts from relay
// failures.
func (c *Channel) wrap(ctx context.Context, step string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("smtp: %s: %w", step, ctxErr)
	}
	if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
		return fmt.Errorf("smtp: %s: %w", step, context.DeadlineExceeded)
	}
	return fmt.Errorf("smtp: %s: %w", step, err)
}

func compose(from string, m *notify.Message, now time.Time) []byte {
	var b bytes.Buffer
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	header("From", from)
	header("To", strings.Join(m.To, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", sanitizeHeader(m.Subject)))
	header("Date", now.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	if m.TicketID != "" {
		header("X-Ticket-ID", sanitizeHeader(m.TicketID))
	}
	b.WriteString("\r\n")
	b.WriteString(m.Body)
	if !strings.HasSuffix(m.Body, "\n") {
		b.WriteString("\r\n")
	}
	return b.Bytes()
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
