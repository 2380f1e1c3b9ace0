package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"jms/internal/logger"
	"jms/internal/models"
)

const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "0000"

	minPasswordLength = 4
	maxPasswordLength = 10
)

var passwordPattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// ValidatePassword enforces the PIN-style policy: 4 to 10 ASCII letters or
// digits.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return validationError("password must be %d to %d characters long", minPasswordLength, maxPasswordLength)
	}
	if !passwordPattern.MatchString(password) {
		return validationError("password may contain only letters and digits")
	}
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Store) AddUser(ctx context.Context, username, password, role string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, validationError("username must not be empty")
	}
	if role != models.RoleAdmin && role != models.RoleUser {
		return nil, validationError("unknown role %q", role)
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	result, err := s.DB().ExecContext(ctx,
		"INSERT INTO users (username, password_hash, role) VALUES (?, ?, ?)", username, hash, role)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: user %s", ErrConflict, username)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user ID: %w", err)
	}

	logger.Info("User created", "username", username, "role", role)
	return s.getUser(ctx, "id = ?", id)
}

func (s *Store) getUser(ctx context.Context, where string, arg interface{}) (*models.User, error) {
	var user models.User
	err := s.DB().GetContext(ctx, &user,
		"SELECT id, username, password_hash, role, created_at FROM users WHERE "+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, "username = ?", strings.TrimSpace(username))
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	if err := s.DB().SelectContext(ctx, &users,
		"SELECT id, username, password_hash, role, created_at FROM users ORDER BY username"); err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	return users, nil
}

// VerifyUser checks the credentials and returns the user. Unknown users and
// wrong passwords both yield ErrUnauthorized.
func (s *Store) VerifyUser(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.GetUser(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		logger.Warn("Failed login attempt", "username", username)
		return nil, ErrUnauthorized
	}
	return user, nil
}

// ChangePassword replaces the password after verifying the old one.
func (s *Store) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.VerifyUser(ctx, username, oldPassword)
	if err != nil {
		return err
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}

	if _, err := s.DB().ExecContext(ctx, "UPDATE users SET password_hash = ? WHERE id = ?", hash, user.ID); err != nil {
		logger.Error("Failed to update password", "username", username, "error", err)
		return fmt.Errorf("failed to update password: %w", err)
	}

	logger.Info("Password changed", "username", username)
	return nil
}

// EnsureDefaultUser makes sure an administrator exists. With force the
// admin account is reset to the default password as well.
func (s *Store) EnsureDefaultUser(ctx context.Context, force bool) error {
	db := s.DB()

	var admins int
	if err := db.GetContext(ctx, &admins, "SELECT COUNT(*) FROM users WHERE role = ?", models.RoleAdmin); err != nil {
		return fmt.Errorf("failed to count administrators: %w", err)
	}
	if admins > 0 && !force {
		return nil
	}

	hash, err := hashPassword(DefaultAdminPassword)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET password_hash = excluded.password_hash, role = excluded.role`,
		DefaultAdminUsername, hash, models.RoleAdmin)
	if err != nil {
		logger.Error("Failed to create default administrator", "error", err)
		return fmt.Errorf("failed to create default administrator: %w", err)
	}

	logger.Info("Default administrator ensured", "username", DefaultAdminUsername, "forced", force)
	return nil
}
