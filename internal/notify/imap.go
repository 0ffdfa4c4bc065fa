package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// DefaultSentFolder is the mailbox delivered messages are filed into.
const DefaultSentFolder = "Sent"

// Archiver files a copy of a delivered message.
type Archiver interface {
	Archive(ctx context.Context, raw []byte, sentAt time.Time) error
}

// IMAPArchiver appends delivered messages to a mailbox over IMAPS,
// flagged as seen.
type IMAPArchiver struct {
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string
	Timeout  time.Duration
}

// NewIMAPArchiver creates an archiver filing into DefaultSentFolder.
func NewIMAPArchiver(host string, port int, username, password string) *IMAPArchiver {
	return &IMAPArchiver{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		Mailbox:  DefaultSentFolder,
		Timeout:  60 * time.Second,
	}
}

// Archive appends raw to the mailbox with sentAt as its internal date.
func (a *IMAPArchiver) Archive(ctx context.Context, raw []byte, sentAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("Archive: %w", err)
	}

	timeout := a.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); timeout <= 0 || left < timeout {
			timeout = left
		}
	}

	addr := net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
	dialer := &net.Dialer{Timeout: timeout}
	c, err := client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: a.Host, MinVersion: tls.VersionTLS12})
	if err != nil {
		return fmt.Errorf("Archive: dialing %s: %w", addr, err)
	}
	c.Timeout = timeout
	defer c.Logout()

	if err := c.Login(a.Username, a.Password); err != nil {
		return fmt.Errorf("Archive: login: %w", err)
	}
	if err := c.Append(a.Mailbox, []string{imap.SeenFlag}, sentAt, bytes.NewBuffer(raw)); err != nil {
		return fmt.Errorf("Archive: APPEND %s: %w", a.Mailbox, err)
	}
	return nil
}
