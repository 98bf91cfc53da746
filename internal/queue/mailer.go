package queue

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/echosecure-chat/internal/config"
	"github.com/iliyamo/echosecure-chat/internal/logging"
)

type Mail struct {
	To      string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// NewMailer returns an SMTP mailer, or a log-only mailer when no SMTP host
// is configured.
func NewMailer(cfg config.MailConfig, log logging.Logger) Mailer {
	if cfg.Host == "" {
		return &LogMailer{log: log.With("component", "mailer")}
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

// SMTPMailer relays plain-text mail through one SMTP server.
type SMTPMailer struct {
	cfg  config.MailConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (s *SMTPMailer) Send(_ context.Context, m Mail) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var a smtp.Auth
	if s.cfg.User != "" {
		a = smtp.PlainAuth("", s.cfg.User, s.cfg.Pass, s.cfg.Host)
	}
	if err := s.send(addr, a, s.cfg.From, []string{m.To}, s.render(m)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTPMailer) render(m Mail) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// LogMailer writes mail to the log instead of sending it. Meant for local
// development where the passcode is read from the console.
type LogMailer struct {
	log logging.Logger
}

func (l *LogMailer) Send(ctx context.Context, m Mail) error {
	l.log.Info(ctx, "mail not sent, no smtp host configured", "to", m.To, "subject", m.Subject, "body", m.Body)
	return nil
}

func otpMail(ev OTPIssuedEvent) Mail {
	name := ev.FullName
	if name == "" {
		name = "there"
	}
	expires := ev.ExpiresIn
	if d, err := time.ParseDuration(expires); err == nil {
		expires = fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	return Mail{
		To:      ev.Email,
		Subject: "Your login code",
		Body: fmt.Sprintf("Hi %s,\n\nYour one-time login code is %s.\nIt expires in %s.\n\nIf you did not try to sign in, ignore this email.\n",
			name, ev.OTP, expires),
	}
}

// InlineNotifier mails passcodes from the request goroutine. Used when no
// broker is available.
type InlineNotifier struct {
	mailer Mailer
	ttl    time.Duration
}

func NewInlineNotifier(mailer Mailer, ttl time.Duration) *InlineNotifier {
	return &InlineNotifier{mailer: mailer, ttl: ttl}
}

func (n *InlineNotifier) SendOTP(ctx context.Context, email, fullName, otp string) error {
	return n.mailer.Send(ctx, otpMail(OTPIssuedEvent{
		Email: email, FullName: fullName, OTP: otp, ExpiresIn: n.ttl.String(),
	}))
}
