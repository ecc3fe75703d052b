package bookauth

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"
)

// SendEmail interface allows applications to provide their own email sending implementation
type SendEmail interface {
	SendPasswordResetEmail(ctx context.Context, to string, resetLink string) error
}

// ConsoleEmailSender is a development implementation that logs emails instead
// of sending them. The link is part of the log line, so only use it where the
// log is not retained.
type ConsoleEmailSender struct {
	Logger *slog.Logger
}

func (c *ConsoleEmailSender) SendPasswordResetEmail(ctx context.Context, to string, resetLink string) error {
	loggerOr(c.Logger).InfoContext(ctx, "EMAIL: Reset your password",
		"to", to,
		"body", "Reset your password by clicking: "+resetLink)
	return nil
}

// SMTPEmailSender delivers mail through an SMTP relay. With Secure set it
// speaks TLS from the first byte (port 465), otherwise it requires STARTTLS.
type SMTPEmailSender struct {
	Host     string
	Port     int
	Secure   bool
	Username string
	Password string
	From     string

	// Timeout bounds dialing and each SMTP command. Defaults to 10s.
	Timeout time.Duration

	// InsecureSkipVerify is only meant for local test relays
	InsecureSkipVerify bool
}

func (s *SMTPEmailSender) SendPasswordResetEmail(ctx context.Context, to string, resetLink string) error {
	msg, err := s.resetMessage(to, resetLink)
	if err != nil {
		return err
	}
	client, err := s.client()
	if err != nil {
		return err
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send via %s: %w", s.Host, err)
	}
	return nil
}

func (s *SMTPEmailSender) resetMessage(to, resetLink string) (*mail.Msg, error) {
	from := s.From
	if from == "" {
		from = s.Username
	}
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject("Reset your password")
	msg.SetBodyString(mail.TypeTextPlain, "You asked to reset your password.\r\n\r\n"+
		"Open this link within the next hour to choose a new one:\r\n"+
		resetLink+"\r\n\r\n"+
		"If you did not ask for this, you can ignore this email.\r\n")
	return msg, nil
}

func (s *SMTPEmailSender) client() (*mail.Client, error) {
	if s.Host == "" {
		return nil, fmt.Errorf("smtp not configured")
	}
	port := s.Port
	if port == 0 {
		port = 587
		if s.Secure {
			port = 465
		}
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTimeout(timeout),
		mail.WithTLSConfig(&tls.Config{ServerName: s.Host, InsecureSkipVerify: s.InsecureSkipVerify}),
	}
	if s.Secure {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if s.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.Username),
			mail.WithPassword(s.Password))
	}
	client, err := mail.NewClient(s.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return client, nil
}
