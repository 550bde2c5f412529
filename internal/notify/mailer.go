// Package notify delivers operator email with workbook attachments over
// plain SMTP.
package notify

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Config holds SMTP delivery settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Mailer sends multipart mail through one SMTP relay.
type Mailer struct {
	config Config
	log    zerolog.Logger
}

// NewMailer creates a mailer.
func NewMailer(config Config, log zerolog.Logger) *Mailer {
	return &Mailer{config: config, log: log.With().Str("component", "mailer").Logger()}
}

// Send delivers one message with the given file attachments.
func (m *Mailer) Send(subject, body string, attachments []string) error {
	msg, err := m.build(subject, body, attachments)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)
	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	if err := smtp.SendMail(addr, auth, m.config.From, m.config.To, msg); err != nil {
		return fmt.Errorf("failed to send mail via %s: %w", addr, err)
	}

	m.log.Info().Str("subject", subject).Int("attachments", len(attachments)).Msg("Mail sent")
	return nil
}

func (m *Mailer) build(subject, body string, attachments []string) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", m.config.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(m.config.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", w.Boundary())

	textHeader := textproto.MIMEHeader{}
	textHeader.Set("Content-Type", "text/plain; charset=utf-8")
	part, err := w.CreatePart(textHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to build mail body: %w", err)
	}
	if _, err := part.Write([]byte(body)); err != nil {
		return nil, fmt.Errorf("failed to write mail body: %w", err)
	}

	for _, path := range attachments {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %s: %w", path, err)
		}

		name := filepath.Base(path)
		attHeader := textproto.MIMEHeader{}
		attHeader.Set("Content-Type", "application/octet-stream")
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		part, err := w.CreatePart(attHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to build attachment part: %w", err)
		}

		encoded := base64.StdEncoding.EncodeToString(data)
		// Wrap base64 lines per RFC 2045.
		for len(encoded) > 0 {
			n := 76
			if len(encoded) < n {
				n = len(encoded)
			}
			if _, err := part.Write([]byte(encoded[:n] + "\r\n")); err != nil {
				return nil, fmt.Errorf("failed to write attachment: %w", err)
			}
			encoded = encoded[n:]
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize mail: %w", err)
	}
	return buf.Bytes(), nil
}
