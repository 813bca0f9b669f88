// Package mail delivers plain-text account notifications.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"

	gomail "github.com/go-mail/mail"
	"go.uber.org/zap"

	"netcrew.io/internal/obs"
)

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	Text    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures the SMTP sender.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	TLSMode  string // "auto" | "ssl" | "none"
}

// SMTPSender sends through an SMTP relay with go-mail.
type SMTPSender struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	switch strings.ToLower(cfg.TLSMode) {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = nil
		d.StartTLSPolicy = gomail.NoStartTLS
	}
	return &SMTPSender{cfg: cfg, dialer: d}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	if err := s.dialer.DialAndSend(m); err != nil {
		obs.From(ctx).Error("smtp send failed", zap.String("host", s.cfg.Host), obs.Err(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	obs.From(ctx).Debug("email sent", zap.String("subject", msg.Subject))
	return nil
}

// LogSender writes messages to the log instead of delivering them. It is
// used when no SMTP host is configured. Only the most recent messages are kept.
type LogSender struct {
	mu   sync.Mutex
	sent []Message
}

const logSenderKeep = 100

func NewLogSender() *LogSender { return &LogSender{} }

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	if len(s.sent) > logSenderKeep {
		s.sent = s.sent[len(s.sent)-logSenderKeep:]
	}
	s.mu.Unlock()
	obs.From(ctx).Info("email not delivered (log mailer)",
		zap.String("to", msg.To), zap.String("subject", msg.Subject), zap.String("body", msg.Text))
	return nil
}

// Sent returns the messages recorded so far.
func (s *LogSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.sent))
	copy(out, s.sent)
	return out
}
