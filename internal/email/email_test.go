package email

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jms/internal/config"
	"jms/internal/logger"
	"jms/internal/reports"
)

func TestMain(m *testing.M) {
	logger.Set(zap.NewNop())
	os.Exit(m.Run())
}

type sentMail struct {
	subject, text, html string
}

func newCapturingService(t *testing.T) (*Service, *[]sentMail) {
	t.Helper()
	svc := NewService(&config.Config{
		MailgunDomain:  "mg.example.com",
		MailgunAPIKey:  "key-test",
		AlertRecipient: "owner@example.com",
	})
	require.True(t, svc.IsEnabled())

	var sent []sentMail
	svc.deliver = func(ctx context.Context, subject, text, html string) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		sent = append(sent, sentMail{subject, text, html})
		return nil
	}
	return svc, &sent
}

func TestDisabledWithoutConfiguration(t *testing.T) {
	svc := NewService(&config.Config{MailgunDomain: "mg.example.com"})
	assert.False(t, svc.IsEnabled())
	assert.ErrorIs(t, svc.SendRestoreAlert("b.db", "admin", time.Now()), ErrDisabled)
}

func TestSendRecoveryAlertMasksKey(t *testing.T) {
	svc, sent := newCapturingService(t)
	at := time.Date(2024, 3, 7, 9, 5, 1, 0, time.Local)

	require.NoError(t, svc.SendRecoveryAlert("JWL-AB12-CD34-EF56", 4, at))
	require.Len(t, *sent, 1)
	mail := (*sent)[0]
	assert.Contains(t, mail.text, "JWL-AB12****")
	assert.NotContains(t, mail.text, "EF56")
	assert.Contains(t, mail.text, "07.03.2024 09:05:01")
	assert.Contains(t, mail.html, "4 unused master keys")
}

func TestSendRestoreAlertEscapesHTML(t *testing.T) {
	svc, sent := newCapturingService(t)

	require.NoError(t, svc.SendRestoreAlert("<b>.db", "admin", time.Now()))
	mail := (*sent)[0]
	assert.Contains(t, mail.html, "&lt;b&gt;.db")
	assert.Contains(t, mail.text, "<b>.db")
	assert.Contains(t, mail.html, "width: 100%;")
}

func TestSendLowStockDigest(t *testing.T) {
	svc, sent := newCapturingService(t)

	require.NoError(t, svc.SendLowStockDigest(5, nil))
	assert.Empty(t, *sent)

	levels := []reports.StockLevel{{Barcode: "222", Name: "Гривна", WarehouseUnits: 1, ShopUnits: 2}}
	require.NoError(t, svc.SendLowStockDigest(5, levels))
	require.Len(t, *sent, 1)
	assert.Equal(t, "1 items at or below 5 units", (*sent)[0].subject)
	assert.Contains(t, (*sent)[0].text, "- 222 Гривна: warehouse 1, shops 2")
}

func TestSendWrapsDeliveryErrors(t *testing.T) {
	svc, _ := newCapturingService(t)
	boom := errors.New("boom")
	svc.deliver = func(context.Context, string, string, string) error { return boom }

	err := svc.SendRestoreAlert("b.db", "admin", time.Now())
	assert.ErrorIs(t, err, boom)
}
