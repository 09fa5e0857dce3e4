// server/internal/users/seeder.go
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lab-booking-api-server/config"
	"lab-booking-api-server/internal/auth"
	"lab-booking-api-server/internal/models"
)

// EnsureAdmin creates the bootstrap administrator from configuration when no
// account owns its email yet. It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, cfg config.AdminConfig) (bool, error) {
	email := normalizeEmail(cfg.Email)
	if email == "" || cfg.Password == "" {
		s.log.Warn("bootstrap admin not configured; skipping")
		return false, nil
	}

	// Kiểm tra xem admin đã tồn tại chưa
	_, err := s.byEmail(ctx, email)
	if err == nil {
		s.log.Info("admin already exists, seeding skipped", "email", email)
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	s.log.Info("admin not found, seeding", "email", email)
	hash, err := auth.HashPassword(cfg.Password)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "Administrator"
	}
	admin := models.User{
		ID:           models.NewID("USR"),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		IsApproved:   true,
		CreatedAt:    s.now(),
	}
	if err := s.create(ctx, admin); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			// another instance seeded it first
			return false, nil
		}
		return false, fmt.Errorf("seed admin: %w", err)
	}
	s.log.Info("admin seeded successfully", "id", admin.ID)
	return true, nil
}
