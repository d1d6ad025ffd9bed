// Package mail delivers the rendered HTML report over SMTP.
package mail

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/smtp"
	"time"

	gomail "github.com/emersion/go-message/mail"
)

// Config holds SMTP delivery settings. Delivery is skipped entirely when no
// server is configured.
type Config struct {
	Server     string   `yaml:"server"`
	Port       int      `yaml:"port"`
	User       string   `yaml:"user"`
	Password   string   `yaml:"password"`
	From       string   `yaml:"from"`
	Recipients []string `yaml:"recipients"`
}

// Enabled reports whether delivery is configured.
func (c Config) Enabled() bool {
	return c.Server != "" && len(c.Recipients) > 0
}

// Sender builds and sends the report email.
type Sender struct {
	cfg    Config
	logger *log.Logger
	now    func() time.Time
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSender creates a sender for the given SMTP configuration.
func NewSender(cfg Config, logger *log.Logger) *Sender {
	if logger == nil {
		logger = log.Default()
	}
	return &Sender{cfg: cfg, logger: logger, now: time.Now, send: smtp.SendMail}
}

// BuildMessage assembles the MIME message with the HTML body inline.
func (s *Sender) BuildMessage(subject, htmlBody string) ([]byte, error) {
	var buf bytes.Buffer

	from := []*gomail.Address{{Address: s.cfg.From}}
	to := make([]*gomail.Address, 0, len(s.cfg.Recipients))
	for _, rcpt := range s.cfg.Recipients {
		to = append(to, &gomail.Address{Address: rcpt})
	}

	var header gomail.Header
	header.SetDate(s.now())
	header.SetAddressList("From", from)
	header.SetAddressList("To", to)
	header.SetSubject(subject)

	writer, err := gomail.CreateWriter(&buf, header)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}

	inline, err := writer.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("creating inline part: %w", err)
	}
	var partHeader gomail.InlineHeader
	partHeader.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	part, err := inline.CreatePart(partHeader)
	if err != nil {
		return nil, fmt.Errorf("creating html part: %w", err)
	}
	if _, err := io.WriteString(part, htmlBody); err != nil {
		return nil, fmt.Errorf("writing html body: %w", err)
	}
	if err := part.Close(); err != nil {
		return nil, err
	}
	if err := inline.Close(); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Send builds the message and delivers it to every configured recipient.
// net/smtp negotiates STARTTLS when the server offers it.
func (s *Sender) Send(subject, htmlBody string) error {
	if !s.cfg.Enabled() {
		s.logger.Printf("smtp not configured, skipping email delivery")
		return nil
	}
	msg, err := s.BuildMessage(subject, htmlBody)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.User != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Server)
	}
	if err := s.send(addr, auth, s.cfg.From, s.cfg.Recipients, msg); err != nil {
		return fmt.Errorf("sending report email: %w", err)
	}
	s.logger.Printf("report emailed to %d recipient(s)", len(s.cfg.Recipients))
	return nil
}
