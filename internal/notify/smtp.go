package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/dvloznov/donation-tracker/internal/logger"
)

// Mailer sends a Message.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// SMTPMailer delivers over SMTP with implicit TLS, the usual setup on port 465.
// When Archive is set every delivered message is also filed there.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
	Archive  Archiver

	now      func() time.Time
	transmit func(ctx context.Context, m Message, raw []byte) error
}

// NewSMTPMailer creates a mailer for host:port.
func NewSMTPMailer(host string, port int, username, password string) *SMTPMailer {
	return &SMTPMailer{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		Timeout:  60 * time.Second,
		now:      time.Now,
	}
}

// Send delivers m to every To and Cc recipient, then archives the sent
// copy. Archiving failures are logged only.
func (s *SMTPMailer) Send(ctx context.Context, m Message) error {
	log := logger.FromContext(ctx)

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	sentAt := now()
	raw, err := Build(m, sentAt)
	if err != nil {
		return fmt.Errorf("Send: %w", err)
	}

	transmit := s.deliver
	if s.transmit != nil {
		transmit = s.transmit
	}
	if err := transmit(ctx, m, raw); err != nil {
		return fmt.Errorf("Send: %w", err)
	}

	log.Info().
		Str("subject", m.Subject).
		Int("recipients", len(m.Recipients())).
		Int("attachments", len(m.Attachments)).
		Msg("Email sent")

	if s.Archive != nil {
		if err := s.Archive.Archive(ctx, raw, sentAt); err != nil {
			log.Warn().Err(err).Str("subject", m.Subject).Msg("Failed to archive sent email")
		} else {
			log.Debug().Str("subject", m.Subject).Msg("Sent email archived")
		}
	}
	return nil
}

func (s *SMTPMailer) deliver(ctx context.Context, m Message, raw []byte) error {
	log := logger.FromContext(ctx)

	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: s.Timeout},
		Config:    &tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("starting session: %w", err)
	}
	defer c.Close()

	if s.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.Username, s.Password, s.Host)); err != nil {
			return fmt.Errorf("authenticating: %w", err)
		}
	}
	if err := c.Mail(m.From); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range m.Recipients() {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing message: %w", err)
	}
	if err := c.Quit(); err != nil {
		log.Warn().Err(err).Msg("SMTP QUIT failed after delivery")
	}
	return nil
}
