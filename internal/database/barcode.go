package database

import (
	"context"
	"fmt"
	"strconv"

	"jms/internal/logger"
)

// NextBarcode allocates the next value of the barcode sequence. Values that
// already label an item (entered by hand) are skipped, so the result is
// unique among items and strictly greater than every earlier allocation.
func (s *Store) NextBarcode(ctx context.Context) (string, error) {
	tx, err := s.DB().BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var barcode string
	for {
		var value int64
		err := tx.GetContext(ctx, &value,
			"UPDATE barcode_sequence SET next_val = next_val + 1 WHERE id = 1 RETURNING next_val - 1")
		if err != nil {
			logger.Error("Failed to allocate barcode", "error", err)
			return "", fmt.Errorf("failed to allocate barcode: %w", err)
		}

		barcode = strconv.FormatInt(value, 10)
		var used int
		if err := tx.GetContext(ctx, &used, "SELECT COUNT(*) FROM items WHERE barcode = ?", barcode); err != nil {
			return "", fmt.Errorf("failed to check barcode: %w", err)
		}
		if used == 0 {
			break
		}
		logger.Debug("Skipping barcode already in use", "barcode", barcode)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit barcode allocation: %w", err)
	}
	return barcode, nil
}

// PeekBarcode returns the value the next allocation will start from.
func (s *Store) PeekBarcode(ctx context.Context) (int64, error) {
	var next int64
	if err := s.DB().GetContext(ctx, &next, "SELECT next_val FROM barcode_sequence WHERE id = 1"); err != nil {
		return 0, fmt.Errorf("failed to read barcode sequence: %w", err)
	}
	return next, nil
}

// ResetBarcodeSequence sets the next value to allocate. Administrative use
// only; lowering it may hand out barcodes again.
func (s *Store) ResetBarcodeSequence(ctx context.Context, next int64) error {
	if next < 1 {
		return validationError("barcode sequence must start at a positive value")
	}

	if _, err := s.DB().ExecContext(ctx,
		"INSERT INTO barcode_sequence (id, next_val) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET next_val = excluded.next_val",
		next); err != nil {
		return fmt.Errorf("failed to reset barcode sequence: %w", err)
	}

	logger.Warn("Barcode sequence reset", "next_val", next)
	return nil
}
