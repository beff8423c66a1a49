// Package email delivers the transactional mail the local auth flows
// depend on: verification, password reset and magic links.
package email

import (
	"crypto/tls"
	"sync"

	mail "github.com/go-mail/mail"

	"github.com/lockhaven/authcore/internal/autherr"
	"github.com/lockhaven/authcore/internal/observability/logger"
)

// Message is one outbound email.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// Sender delivers a message. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(msg Message) error
}

// SMTPConfig configures the SMTP transport.
type SMTPConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	FromEmail string `yaml:"from_email"`
	TLSMode   string `yaml:"tls_mode"` // "auto" | "ssl" | "none"
}

// SMTPSender sends mail through an SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
}

var _ Sender = (*SMTPSender)(nil)

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = "auto"
	}
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(msg Message) error {
	log := logger.L().With(
		logger.String("component", "SMTPSender"),
		logger.String("host", s.cfg.Host),
		logger.Email(msg.To),
	)

	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.FromEmail)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.TextBody != "" {
		m.SetBody("text/plain", msg.TextBody)
	}
	if msg.HTMLBody != "" {
		if msg.TextBody == "" {
			m.SetBody("text/html", msg.HTMLBody)
		} else {
			m.AddAlternative("text/html", msg.HTMLBody)
		}
	}

	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: s.cfg.Host}
	switch s.cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if err := d.DialAndSend(m); err != nil {
		log.Error("smtp send failed", logger.Err(err))
		return autherr.Wrap(autherr.KindInternal, "smtp send", err)
	}
	log.Info("email sent")
	return nil
}

// MemorySender collects messages for tests and development.
type MemorySender struct {
	mu       sync.Mutex
	messages []Message
}

var _ Sender = (*MemorySender)(nil)

func (s *MemorySender) Send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *MemorySender) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}
