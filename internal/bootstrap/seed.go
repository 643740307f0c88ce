package bootstrap

import (
	"context"
	"errors"

	"anoa.com/threadforum/internal/entity"
	userRepo "anoa.com/threadforum/internal/modules/user/repository"
	"anoa.com/threadforum/pkg/apperror"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	adminName     = "admin"
	adminEmail    = "admin@threadforum.local"
	adminPassword = "admin123"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&entity.User{},
	)
}

// Registrar creates users with a hashed password.
type Registrar interface {
	Register(ctx context.Context, name, email, password string, admin bool) (*entity.User, error)
}

// SeedAdminUser creates the development administrator unless it exists.
func SeedAdminUser(ctx context.Context, users userRepo.UserRepository, auth Registrar, logger *zap.Logger) error {
	_, err := users.FindByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists, skipping seed")
		return nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return err
	}

	if _, err := auth.Register(ctx, adminName, adminEmail, adminPassword, true); err != nil {
		return err
	}

	logger.Info("admin user seeded",
		zap.String("email", adminEmail),
		zap.String("password", adminPassword))
	return nil
}
