// Package notify delivers the digest and failure emails.
package notify

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Attachment is a file carried by a Message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is one HTML email.
type Message struct {
	Subject     string
	From        string
	To          []string
	Cc          []string
	ReplyTo     []string
	HTML        string
	Attachments []Attachment
}

// Recipients returns every envelope recipient, To first.
func (m Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc))
	out = append(out, m.To...)
	return append(out, m.Cc...)
}

func (m Message) validate() error {
	if m.From == "" {
		return errors.New("message has no sender")
	}
	if len(m.To) == 0 {
		return errors.New("message has no recipients")
	}
	for _, addr := range append(m.Recipients(), m.ReplyTo...) {
		if strings.ContainsAny(addr, "\r\n") {
			return fmt.Errorf("invalid address %q", addr)
		}
	}
	if strings.ContainsAny(m.Subject, "\r\n") {
		return errors.New("subject contains a line break")
	}
	return nil
}

// Build encodes the message as RFC 5322 bytes with a multipart/mixed body.
func Build(m Message, now time.Time) ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("Build: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }
	header("From", m.From)
	header("To", strings.Join(m.To, ", "))
	if len(m.Cc) > 0 {
		header("Cc", strings.Join(m.Cc, ", "))
	}
	if len(m.ReplyTo) > 0 {
		header("Reply-To", strings.Join(m.ReplyTo, ", "))
	}
	header("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(m.From)))
	header("MIME-Version", "1.0")
	header("Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", mw.Boundary()))
	buf.WriteString("\r\n")

	body, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=utf-8"},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, fmt.Errorf("Build: creating html part: %w", err)
	}
	if err := writeBase64(body, []byte(m.HTML)); err != nil {
		return nil, fmt.Errorf("Build: writing html part: %w", err)
	}

	for _, a := range m.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {ct},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename})},
		})
		if err != nil {
			return nil, fmt.Errorf("Build: creating attachment %s: %w", a.Filename, err)
		}
		if err := writeBase64(part, a.Data); err != nil {
			return nil, fmt.Errorf("Build: writing attachment %s: %w", a.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("Build: closing multipart writer: %w", err)
	}
	return buf.Bytes(), nil
}

// writeBase64 writes data base64 encoded in 76 character lines.
func writeBase64(w io.Writer, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 76 {
		if _, err := fmt.Fprintf(w, "%s\r\n", enc[:76]); err != nil {
			return err
		}
		enc = enc[76:]
	}
	_, err := fmt.Fprintf(w, "%s\r\n", enc)
	return err
}

func domainOf(addr string) string {
	addr = strings.TrimSuffix(strings.TrimSpace(addr), ">")
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
