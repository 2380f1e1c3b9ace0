package email

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mailgun/mailgun-go/v5"

	"jms/internal/config"
	"jms/internal/logger"
	"jms/internal/reports"
)

const sendTimeout = 10 * time.Second

var ErrDisabled = errors.New("email service is not configured")

type Service struct {
	client    mailgun.Mailgun
	domain    string
	from      string
	recipient string
	enabled   bool

	// deliver is swapped out in tests.
	deliver func(ctx context.Context, subject, text, html string) error
}

func NewService(cfg *config.Config) *Service {
	enabled := cfg.EmailEnabled()

	var client mailgun.Mailgun
	if enabled {
		client = mailgun.NewMailgun(cfg.MailgunAPIKey)
	}

	from := cfg.MailgunFrom
	if from == "" {
		from = fmt.Sprintf("Jewelry Inventory <noreply@%s>", cfg.MailgunDomain)
	}

	s := &Service{
		client:    client,
		domain:    cfg.MailgunDomain,
		from:      from,
		recipient: cfg.AlertRecipient,
		enabled:   enabled,
	}
	s.deliver = s.sendMailgun
	return s
}

func (s *Service) IsEnabled() bool {
	return s.enabled
}

func (s *Service) sendMailgun(ctx context.Context, subject, text, html string) error {
	message := mailgun.NewMessage(s.domain, s.from, subject, text, s.recipient)
	message.SetHTML(html)

	resp, err := s.client.Send(ctx, message)
	if err != nil {
		return err
	}
	logger.Info("Alert email sent", "subject", subject, "response", resp)
	return nil
}

func (s *Service) send(subject, text, html string) error {
	if !s.enabled {
		return ErrDisabled
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := s.deliver(ctx, subject, text, html); err != nil {
		logger.Error("Failed to send alert email", "subject", subject, "error", err)
		return fmt.Errorf("failed to send %q to %s: %w", subject, s.recipient, err)
	}
	return nil
}

// SendRecoveryAlert reports that a master key reset the admin password.
func (s *Service) SendRecoveryAlert(keyCode string, remaining int, at time.Time) error {
	data := recoveryData{
		KeyPrefix: maskKey(keyCode),
		Remaining: remaining,
		At:        at.Format("02.01.2006 15:04:05"),
	}
	return s.send("Admin password reset with a master key", recoveryText(data), recoveryHTML(data))
}

// SendRestoreAlert reports that the database was replaced from a backup.
func (s *Service) SendRestoreAlert(backupName, restoredBy string, at time.Time) error {
	data := restoreData{
		Backup:     backupName,
		RestoredBy: restoredBy,
		At:         at.Format("02.01.2006 15:04:05"),
	}
	return s.send("Database restored from backup", restoreText(data), restoreHTML(data))
}

// SendLowStockDigest lists items at or below the threshold. An empty list
// sends nothing.
func (s *Service) SendLowStockDigest(threshold int, levels []reports.StockLevel) error {
	if len(levels) == 0 {
		return nil
	}
	subject := fmt.Sprintf("%d items at or below %d units", len(levels), threshold)
	return s.send(subject, lowStockText(threshold, levels), lowStockHTML(threshold, levels))
}

func maskKey(code string) string {
	if len(code) <= 8 {
		return code
	}
	return code[:8] + "****"
}
