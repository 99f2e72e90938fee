package notify

import (
	"context"
	"fmt"

	"github.com/yourusername/grafana-reporter/pkg/model"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// EmailConfig configures SMTP delivery. Receivers are email addresses.
type EmailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Email sends the rendered artifact as an attachment over SMTP.
type Email struct {
	cfg EmailConfig
	log *zap.Logger
}

// NewEmail creates an email notifier.
func NewEmail(cfg EmailConfig, log *zap.Logger) *Email {
	return &Email{cfg: cfg, log: log.With(zap.String("notifier", "email"))}
}

// Send implements Notifier.
func (e *Email) Send(ctx context.Context, artifact *model.Artifact, receivers []string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", e.cfg.From)
	m.SetHeader("To", receivers...)
	m.SetHeader("Subject", artifact.Title)

	body := artifact.Description
	if body == "" {
		body = artifact.Title
	}
	m.SetBody("text/plain", fmt.Sprintf("%s\n\nSource: %s", body, artifact.ViewURL))
	m.Attach(artifact.FilePath)

	d := gomail.NewDialer(e.cfg.Host, e.cfg.Port, e.cfg.Username, e.cfg.Password)
	if err := d.DialAndSend(m); err != nil {
		e.log.Warn("email delivery failed", zap.Error(err))
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// Name implements Notifier.
func (e *Email) Name() string { return "email" }
