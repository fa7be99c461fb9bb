// Package mail sends job completion notifications through an SMTP relay.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/gtdb/ani-engine/pkg/config"
)

// Message is a plain-text e-mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// CompletionMessage builds the notification for a finished job.
func CompletionMessage(portalURL, to, jobName string, failed bool) Message {
	link := strings.TrimRight(portalURL, "/") + "/" + jobName
	if failed {
		return Message{
			To:      to,
			Subject: fmt.Sprintf("ANI job %s failed", jobName),
			Body: fmt.Sprintf("Your ANI job %s finished with errors.\r\n\r\n"+
				"The tool output is available at:\r\n%s\r\n", jobName, link),
		}
	}
	return Message{
		To:      to,
		Subject: fmt.Sprintf("ANI job %s is complete", jobName),
		Body: fmt.Sprintf("Your ANI job %s has completed.\r\n\r\n"+
			"The results are available at:\r\n%s\r\n", jobName, link),
	}
}

// SMTPSender sends mail through a relay, upgrading to TLS when the relay
// offers STARTTLS and authenticating when a username is configured.
type SMTPSender struct {
	host     string
	port     int
	from     string
	username string
	password string
	now      func() time.Time
}

var _ Sender = (*SMTPSender)(nil)

// NewSMTPSender creates a sender for cfg. It returns nil when no relay host
// is configured.
func NewSMTPSender(cfg *config.MailConfig) *SMTPSender {
	if cfg.Host == "" {
		return nil
	}
	return &SMTPSender{
		host:     cfg.Host,
		port:     cfg.Port,
		from:     cfg.From,
		username: cfg.Username,
		password: cfg.Password,
		now:      time.Now,
	}
}

// Send delivers msg. The whole exchange is bounded by ctx's deadline.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}

	addr := net.JoinHostPort(config.ResolveHostForDocker(s.host), strconv.Itoa(s.port))
	dialer := net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to mail relay: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to greet mail relay: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	if s.username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := c.Mail(s.from); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	if err := c.Rcpt(to.Address); err != nil {
		return fmt.Errorf("RCPT TO rejected: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(s.render(to, msg)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}
	return c.Quit()
}

func (s *SMTPSender) render(to *mail.Address, msg Message) []byte {
	var buf bytes.Buffer
	from := mail.Address{Address: s.from}
	fmt.Fprintf(&buf, "From: %s\r\n", from.String())
	fmt.Fprintf(&buf, "To: %s\r\n", to.String())
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(msg.Body)
	return buf.Bytes()
}
