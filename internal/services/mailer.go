package services

import (
	"fmt"

	"github.com/docdrop/backend/internal/config"
	"github.com/docdrop/backend/pkg/logger"
	"github.com/wneessen/go-mail"
)

// Mailer is the outbound mail collaborator. Tests substitute a recorder.
type Mailer interface {
	SendVerification(to, verifyURL string) error
}

type SMTPMailer struct {
	cfg config.SMTPConfig
}

func NewSMTPMailer(cfg config.SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	return &SMTPMailer{cfg: cfg}, nil
}

func (m *SMTPMailer) SendVerification(to, verifyURL string) error {
	subject := "Verify your email address"
	body := fmt.Sprintf(
		"Welcome to DocDrop.\n\nPlease click the following link to verify your email address:\n\n%s\n\nThe link is valid for a limited time. If you did not sign up, ignore this message.\n",
		verifyURL,
	)

	if err := m.send(to, subject, body); err != nil {
		logger.Error("verification_email_failed", err, map[string]interface{}{
			"recipient": to,
		})
		return err
	}

	logger.Info("verification_email_sent", map[string]interface{}{
		"recipient": to,
	})
	return nil
}

func (m *SMTPMailer) send(to, subject, body string) error {
	msg := mail.NewMsg()

	if m.cfg.FromName != "" {
		if err := msg.FromFormat(m.cfg.FromName, m.cfg.From); err != nil {
			return fmt.Errorf("setting from address: %w", err)
		}
	} else {
		if err := msg.From(m.cfg.From); err != nil {
			return fmt.Errorf("setting from address: %w", err)
		}
	}

	if err := msg.To(to); err != nil {
		return fmt.Errorf("setting to address: %w", err)
	}

	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
	}

	if m.cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		// Implicit TLS for 465, STARTTLS otherwise.
		if m.cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if m.cfg.Username != "" && m.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating mail client: %w", err)
	}

	if err := client.DialAndSend(msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}

	return nil
}
