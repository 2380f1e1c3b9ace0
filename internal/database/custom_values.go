package database

import (
	"context"
	"fmt"
	"strings"

	"jms/internal/logger"
	"jms/internal/models"
)

func validCustomType(kind string) bool {
	switch kind {
	case models.CustomCategory, models.CustomMetalType, models.CustomStoneType:
		return true
	}
	return false
}

// AddCustomValue remembers a user-entered category, metal or stone.
func (s *Store) AddCustomValue(ctx context.Context, kind, value string) error {
	value = strings.TrimSpace(value)
	if !validCustomType(kind) {
		return validationError("unknown custom value type %q", kind)
	}
	if value == "" {
		return validationError("custom value must not be empty")
	}

	if _, err := s.DB().ExecContext(ctx, "INSERT INTO custom_values (type, value) VALUES (?, ?)", kind, value); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: custom value %s", ErrConflict, value)
		}
		return fmt.Errorf("failed to add custom value: %w", err)
	}

	logger.Debug("Custom value added", "type", kind, "value", value)
	return nil
}

func (s *Store) ListCustomValues(ctx context.Context, kind string) ([]string, error) {
	values := []string{}
	if err := s.DB().SelectContext(ctx, &values,
		"SELECT value FROM custom_values WHERE type = ? ORDER BY value", kind); err != nil {
		return nil, fmt.Errorf("failed to query custom values: %w", err)
	}
	return values, nil
}

func (s *Store) DeleteCustomValue(ctx context.Context, kind, value string) error {
	result, err := s.DB().ExecContext(ctx, "DELETE FROM custom_values WHERE type = ? AND value = ?", kind, value)
	if err != nil {
		return fmt.Errorf("failed to delete custom value: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound("custom value", value)
	}
	return nil
}
