package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strings"

	"github.com/school-registry/registro/internal/config"
)

type sendFunc func(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends HTML e-mail through the configured SMTP server.
type SMTPMailer struct {
	cfg      config.SMTPConfig
	fromName string
	send     sendFunc
}

// NewSMTPMailer creates a mailer. fromName is shown as the sender display name.
func NewSMTPMailer(cfg config.SMTPConfig, fromName string) *SMTPMailer {
	m := &SMTPMailer{cfg: cfg, fromName: fromName}
	if cfg.UseTLS {
		m.send = sendMailTLS
	} else {
		m.send = func(addr, _ string, auth smtp.Auth, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, auth, from, to, msg)
		}
	}
	return m
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from := mail.Address{Name: m.fromName, Address: m.cfg.From}
	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=utf-8\r\n\r\n",
		from.String(), to, mime.QEncoding.Encode("utf-8", subject),
	)
	body := strings.ReplaceAll(htmlBody, "\n", "\r\n")
	msg := []byte(headers + body + "\r\n")

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := m.send(addr, m.cfg.Host, auth, m.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

// sendMailTLS connects with implicit TLS (port 465) and falls back to the
// STARTTLS upgrade done by smtp.SendMail (port 587) when the TLS dial fails.
func sendMailTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	defer conn.Close()

	hostname, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, hostname)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}
