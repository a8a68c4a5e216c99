// Package mailer submits guardian notifications over authenticated SMTP.
package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// ErrMissingCredentials means the SMTP user or app password is not
// configured. Callers must fail a notification batch before the first send
// rather than discover this mid-batch.
var ErrMissingCredentials = errors.New("mailer: GMAIL_USER and GMAIL_APP_PASSWORD must be set")

// SMTP sends one plain-text message per recipient over a TLS connection.
// Port 465 uses implicit TLS; any other port negotiates STARTTLS.
type SMTP struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string

	dialTimeout time.Duration
}

// NewSMTP creates a sender.
func NewSMTP(host string, port int, user, password, from string) *SMTP {
	if from == "" {
		from = user
	}
	return &SMTP{
		Host:        host,
		Port:        port,
		User:        user,
		Password:    password,
		From:        from,
		dialTimeout: 30 * time.Second,
	}
}

// Validate checks the credentials are present.
func (m *SMTP) Validate() error {
	if m.User == "" || m.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}

// Send delivers a single message.
func (m *SMTP) Send(ctx context.Context, to, subject, body string) error {
	if err := m.Validate(); err != nil {
		return err
	}

	client, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	auth := smtp.PlainAuth("", m.User, m.Password, m.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth failed: %w", err)
	}
	if err := client.Mail(m.From); err != nil {
		return fmt.Errorf("smtp sender rejected: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp recipient rejected: %w", err)
	}
	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data failed: %w", err)
	}
	if _, err := writer.Write([]byte(m.buildMessage(to, subject, body))); err != nil {
		return fmt.Errorf("smtp write failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("smtp close failed: %w", err)
	}
	// the message is already accepted at this point; a failed QUIT is not
	// a delivery failure
	_ = client.Quit()
	return nil
}

func (m *SMTP) connect(ctx context.Context) (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)
	dialer := &net.Dialer{Timeout: m.dialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("smtp connect failed: %w", err)
	}

	tlsConfig := &tls.Config{ServerName: m.Host, MinVersion: tls.VersionTLS12}

	if m.Port == 465 {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("smtp tls handshake failed: %w", err)
		}
		client, err := smtp.NewClient(tlsConn, m.Host)
		if err != nil {
			tlsConn.Close()
			return nil, fmt.Errorf("smtp client failed: %w", err)
		}
		return client, nil
	}

	client, err := smtp.NewClient(conn, m.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp client failed: %w", err)
	}
	if err := client.StartTLS(tlsConfig); err != nil {
		client.Close()
		return nil, fmt.Errorf("smtp starttls failed: %w", err)
	}
	return client, nil
}

func (m *SMTP) buildMessage(to, subject, body string) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", m.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")
	return msg.String()
}
