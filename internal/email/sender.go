package email

import (
	"context"
	"fmt"
	"net/smtp"

	"invoice-service/config"
	"invoice-service/internal/util"

	"go.uber.org/zap"
)

// Sender delivers a fully formatted message, headers included.
type Sender interface {
	Send(ctx context.Context, to []string, subject string, rawMessage []byte) error
}

// SMTPSender sends through an SMTP relay with PLAIN auth.
type SMTPSender struct {
	from   string
	auth   smtp.Auth
	addr   string
	logger *zap.Logger
}

// NewSMTPSender returns a LoggingSender when no SMTP host is configured.
func NewSMTPSender(cfg config.EmailConfig) Sender {
	logger := util.GetLogger()
	if cfg.SmtpHost == "" {
		logger.Warn("SMTP host not configured, using logging email sender")
		return &LoggingSender{from: cfg.FromAddress, logger: logger}
	}

	var auth smtp.Auth
	if cfg.SmtpUsername != "" {
		auth = smtp.PlainAuth("", cfg.SmtpUsername, cfg.SmtpPassword, cfg.SmtpHost)
	}

	return &SMTPSender{
		from:   cfg.FromAddress,
		auth:   auth,
		addr:   fmt.Sprintf("%s:%d", cfg.SmtpHost, cfg.SmtpPort),
		logger: logger,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := smtp.SendMail(s.addr, s.auth, s.from, to, rawMessage); err != nil {
		return fmt.Errorf("smtp error: %w", err)
	}
	s.logger.Info("Email sent via SMTP", zap.Strings("to", to), zap.String("subject", subject))
	return nil
}

// LoggingSender only logs the envelope. Used when SMTP is not configured.
type LoggingSender struct {
	from   string
	logger *zap.Logger
}

func NewLoggingSender(from string) *LoggingSender {
	return &LoggingSender{from: from, logger: util.GetLogger()}
}

func (s *LoggingSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	s.logger.Info("Email logged (not sent)",
		zap.String("from", s.from),
		zap.Strings("to", to),
		zap.String("subject", subject),
		zap.Int("bytes", len(rawMessage)),
	)
	return nil
}
