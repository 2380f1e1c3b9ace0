package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"jms/internal/logger"
	"jms/internal/models"
)

// AuditInput describes a finished stock count of one shop.
type AuditInput struct {
	ShopName string
	Start    time.Time
	End      time.Time
	Results  []models.AuditResult
}

// EvaluateAudit compares a shop's expected stock with scanned counts keyed
// by barcode. Short or absent counts are missing, exact counts are found and
// surplus or unexpected barcodes are extra. Results are ordered by barcode.
func EvaluateAudit(expected []models.ShopItem, scanned map[string]int) []models.AuditResult {
	results := make([]models.AuditResult, 0, len(expected)+len(scanned))
	seen := make(map[string]bool, len(expected))

	for _, item := range expected {
		itemID := item.ItemID
		count := scanned[item.Barcode]
		seen[item.Barcode] = true

		status := models.AuditFound
		switch {
		case count < item.Quantity:
			status = models.AuditMissing
		case count > item.Quantity:
			status = models.AuditExtra
		}

		results = append(results, models.AuditResult{
			ItemID:           &itemID,
			Barcode:          item.Barcode,
			ItemName:         item.Name,
			ExpectedQuantity: item.Quantity,
			ScannedQuantity:  count,
			Status:           status,
		})
	}

	for barcode, count := range scanned {
		if seen[barcode] || count <= 0 {
			continue
		}
		results = append(results, models.AuditResult{
			Barcode:         barcode,
			ScannedQuantity: count,
			Status:          models.AuditExtra,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Barcode < results[j].Barcode })
	return results
}

// SaveAuditSession writes a completed audit and its results in one
// transaction. Sessions are never modified afterwards.
func (s *Store) SaveAuditSession(ctx context.Context, in AuditInput) (*models.AuditSession, error) {
	if in.End.Before(in.Start) {
		return nil, validationError("audit ends before it starts")
	}

	session := models.AuditSession{
		SessionID:       uuid.NewString(),
		ShopName:        strings.TrimSpace(in.ShopName),
		StartTime:       in.Start.Format(models.TimestampLayout),
		EndTime:         in.End.Format(models.TimestampLayout),
		DurationMinutes: int(in.End.Sub(in.Start).Minutes()),
	}
	for _, r := range in.Results {
		switch r.Status {
		case models.AuditMissing:
			session.TotalMissing++
		case models.AuditFound, models.AuditExtra:
			session.TotalCompleted++
		default:
			return nil, validationError("unknown audit status %q", r.Status)
		}
		session.TotalExpected += r.ExpectedQuantity
		session.TotalScanned += r.ScannedQuantity
	}

	tx, err := s.DB().BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	session.ShopID, err = shopID(ctx, tx, session.ShopName)
	if err != nil {
		return nil, err
	}

	result, err := tx.NamedExecContext(ctx, `
		INSERT INTO audit_sessions (session_id, shop_id, shop_name, start_time, end_time, duration_minutes,
			total_expected, total_scanned, total_missing, total_completed)
		VALUES (:session_id, :shop_id, :shop_name, :start_time, :end_time, :duration_minutes,
			:total_expected, :total_scanned, :total_missing, :total_completed)`, session)
	if err != nil {
		return nil, fmt.Errorf("failed to save audit session: %w", err)
	}
	session.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get audit session ID: %w", err)
	}

	for _, r := range in.Results {
		r.AuditSessionID = session.ID
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO audit_results (audit_session_id, item_id, barcode, item_name, expected_quantity, scanned_quantity, status)
			VALUES (:audit_session_id, :item_id, :barcode, :item_name, :expected_quantity, :scanned_quantity, :status)`, r); err != nil {
			return nil, fmt.Errorf("failed to save audit result for %s: %w", r.Barcode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit audit session: %w", err)
	}

	logger.Info("Audit session saved", "shop", session.ShopName, "session", session.SessionID,
		"missing", session.TotalMissing, "completed", session.TotalCompleted)
	return &session, nil
}

// ListAuditSessions returns the sessions of one shop, or of all shops when
// shopName is empty, newest first.
func (s *Store) ListAuditSessions(ctx context.Context, shopName string) ([]models.AuditSession, error) {
	query := `
		SELECT id, session_id, shop_id, shop_name, start_time, end_time,
		       COALESCE(duration_minutes, 0) AS duration_minutes, COALESCE(total_expected, 0) AS total_expected,
		       COALESCE(total_scanned, 0) AS total_scanned, COALESCE(total_missing, 0) AS total_missing,
		       COALESCE(total_completed, 0) AS total_completed, COALESCE(created_at, '') AS created_at
		FROM audit_sessions`
	var args []interface{}
	if shopName = strings.TrimSpace(shopName); shopName != "" {
		query += " WHERE shop_name = ?"
		args = append(args, shopName)
	}
	query += " ORDER BY start_time DESC, id DESC"

	sessions := []models.AuditSession{}
	if err := s.DB().SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query audit sessions: %w", err)
	}
	return sessions, nil
}

func (s *Store) GetAuditResults(ctx context.Context, sessionID string) ([]models.AuditResult, error) {
	results := []models.AuditResult{}
	err := s.DB().SelectContext(ctx, &results, `
		SELECT r.id, r.audit_session_id, r.item_id, r.barcode, COALESCE(r.item_name, '') AS item_name,
		       COALESCE(r.expected_quantity, 0) AS expected_quantity, COALESCE(r.scanned_quantity, 0) AS scanned_quantity,
		       r.status, COALESCE(r.created_at, '') AS created_at
		FROM audit_results r
		JOIN audit_sessions a ON a.id = r.audit_session_id
		WHERE a.session_id = ?
		ORDER BY r.barcode`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit results: %w", err)
	}
	if len(results) == 0 {
		var exists int
		if err := s.DB().GetContext(ctx, &exists, "SELECT COUNT(*) FROM audit_sessions WHERE session_id = ?", sessionID); err != nil {
			return nil, fmt.Errorf("failed to get audit session: %w", err)
		}
		if exists == 0 {
			return nil, notFound("audit session", sessionID)
		}
	}
	return results, nil
}
