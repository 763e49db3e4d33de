package email

import (
	"context"
	"fmt"
	"net/smtp"

	"homebid/internal/config"
	"homebid/internal/utils"
)

// Sender delivers a complete email message. The rawMessage contains the
// full message including headers, properly formatted.
type Sender interface {
	Send(ctx context.Context, to []string, subject string, rawMessage []byte) error
}

// SMTPSender implements the Sender interface using net/smtp.
type SMTPSender struct {
	cfg  *config.Config
	auth smtp.Auth
	addr string
}

// NewSMTPSender creates an SMTPSender, falling back to a logging sender
// when no SMTP host is configured.
func NewSMTPSender(cfg *config.Config) Sender {
	if cfg.SmtpHost == "" {
		utils.Warn("SMTP host not configured, using logging email sender", nil)
		return &LoggingSender{cfg: cfg}
	}

	auth := smtp.PlainAuth(
		"", // identity
		cfg.SmtpUsername,
		cfg.SmtpPassword,
		cfg.SmtpHost,
	)
	addr := fmt.Sprintf("%s:%d", cfg.SmtpHost, cfg.SmtpPort)

	return &SMTPSender{
		cfg:  cfg,
		auth: auth,
		addr: addr,
	}
}

// Send sends an email using SMTP.
func (s *SMTPSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	if err := smtp.SendMail(s.addr, s.auth, s.cfg.SmtpFromAddress, to, rawMessage); err != nil {
		return fmt.Errorf("smtp error: %w", err)
	}
	utils.Info("email sent via SMTP", map[string]any{"to": to, "subject": subject})
	return nil
}

// LoggingSender logs email details instead of sending. Used in development
// and when SMTP is not configured.
type LoggingSender struct {
	cfg *config.Config
}

// Send logs the email instead of sending it.
func (s *LoggingSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	utils.Info("email logged (not sent)", map[string]any{
		"to":      to,
		"from":    s.cfg.SmtpFromAddress,
		"subject": subject,
		"message": string(rawMessage),
	})
	return nil
}
