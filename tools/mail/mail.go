package mail

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/gomail.v2"

	"github.com/mohammad-safakhou/newsletter/config"
)

// ErrNoCredentials is returned when the SMTP account is incomplete.
var ErrNoCredentials = errors.New("email credentials not configured")

// Message is one outgoing newsletter e-mail.
type Message struct {
	From        string
	To          []string
	Subject     string
	Body        string
	Attachments []string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender sends through an authenticated SMTP server; STARTTLS is used
// whenever the server offers it.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPSender(cfg config.EmailConfig) (*SMTPSender, error) {
	if !cfg.HasCredentials() {
		return nil, ErrNoCredentials
	}
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = s.from
	}
	m, err := Build(msg)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Build assembles the MIME message. Every attachment must exist.
func Build(msg Message) (*gomail.Message, error) {
	if len(msg.To) == 0 {
		return nil, errors.New("no recipients")
	}
	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	for _, path := range msg.Attachments {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("attachment not found at %s", path)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("attachment %s is a directory", path)
		}
		m.Attach(path, gomail.Rename(filepath.Base(path)))
	}
	return m, nil
}
