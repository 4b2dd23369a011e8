// Package mailer sends account verification email. The SMTP sender is
// used in production; LogMailer stands in when email is disabled so
// the verification flow stays exercisable in development.
package mailer

import (
	"fmt"
	"net/smtp"

	"github.com/riotcore/riot/internal/infrastructure/config"
	"github.com/riotcore/riot/internal/infrastructure/logging"
)

// Mailer delivers a verification code to an address.
type Mailer interface {
	SendVerification(to, username, code string) error
}

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	cfg config.Email
}

// NewSMTP creates an SMTP-backed mailer.
func NewSMTP(cfg config.Email) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// SendVerification emails the activation link for a one-time code.
func (m *SMTPMailer) SendVerification(to, username, code string) error {
	link := fmt.Sprintf("%s/api/v1/users/verify?code=%s", m.cfg.PublicURL, code)

	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: Verify your RIoT account\r\n"+
			"MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n"+
			"Hi %s,\r\n\r\n"+
			"Open the link below to activate your account. The link is valid for 12 hours and works once.\r\n\r\n"+
			"%s\r\n\r\n"+
			"If you did not register, ignore this message.\r\n",
		m.cfg.FromAddress, to, username, link,
	)

	addr := fmt.Sprintf("%s:%d", m.cfg.SMTPHost, m.cfg.SMTPPort)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.SMTPHost)
	}

	if err := smtp.SendMail(addr, auth, m.cfg.FromAddress, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("sending verification mail: %w", err)
	}
	return nil
}

// LogMailer logs instead of sending. The code appears in the log so a
// developer can complete the flow by hand.
type LogMailer struct {
	logger *logging.Logger
}

// NewLog creates a logging mailer.
func NewLog(logger *logging.Logger) *LogMailer {
	return &LogMailer{logger: logger.With("component", "mailer")}
}

// SendVerification logs the code that would have been mailed.
func (m *LogMailer) SendVerification(to, username, code string) error {
	m.logger.Info("verification mail suppressed (email disabled)",
		"to", to, "username", username, "code", code)
	return nil
}
