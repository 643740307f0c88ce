package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"anoa.com/threadforum/internal/entity"
	"anoa.com/threadforum/internal/modules/admin/dto"
	"anoa.com/threadforum/internal/modules/user/repository"
	"anoa.com/threadforum/pkg/apperror"
)

// Registrar creates a user with a hashed password.
type Registrar interface {
	Register(ctx context.Context, name, email, password string, admin bool) (*entity.User, error)
}

type AdminService interface {
	CreateUser(ctx context.Context, input dto.CreateUserInput) (*entity.User, error)
}

type adminService struct {
	userRepo  repository.UserRepository
	registrar Registrar
}

func NewAdminService(userRepo repository.UserRepository, registrar Registrar) AdminService {
	return &adminService{
		userRepo:  userRepo,
		registrar: registrar,
	}
}

func (s *adminService) CreateUser(ctx context.Context, input dto.CreateUserInput) (*entity.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	name := strings.TrimSpace(input.Name)

	if err := s.ensureFree(ctx, s.userRepo.FindByEmail, email, "email is already registered"); err != nil {
		return nil, err
	}
	if err := s.ensureFree(ctx, s.userRepo.FindByName, name, "name is already taken"); err != nil {
		return nil, err
	}

	return s.registrar.Register(ctx, name, email, input.Password, input.Admin)
}

func (s *adminService) ensureFree(ctx context.Context, find func(context.Context, string) (*entity.User, error), value, msg string) error {
	_, err := find(ctx, value)
	switch {
	case err == nil:
		return apperror.New(http.StatusConflict, msg, apperror.ErrBadRequest)
	case errors.Is(err, apperror.ErrNotFound):
		return nil
	default:
		return err
	}
}
