package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"anoa.com/threadforum/internal/entity"
	notifService "anoa.com/threadforum/internal/modules/notification/service"
	"anoa.com/threadforum/internal/modules/user/dto"
	"anoa.com/threadforum/internal/modules/user/repository"
	"anoa.com/threadforum/pkg/apperror"
	"anoa.com/threadforum/pkg/token"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = apperror.New(http.StatusUnauthorized, "invalid credentials", apperror.ErrUnauthorized)

// Revoker tracks logged-out token ids.
type Revoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type AuthService interface {
	Login(ctx context.Context, input dto.LoginInput) (*dto.AuthResponse, error)
	Authenticate(ctx context.Context, tokenString string) (*jwt.RegisteredClaims, error)
	Me(ctx context.Context, userID string) (*entity.User, error)
	Logout(ctx context.Context, claims *jwt.RegisteredClaims) error
	UpdateProfile(ctx context.Context, userID string, req dto.UpdateProfileRequest) (*entity.User, error)
	Register(ctx context.Context, name, email, password string, admin bool) (*entity.User, error)
}

type authService struct {
	repo     repository.UserRepository
	revoker  Revoker
	bus      notifService.Publisher
	secret   string
	tokenTTL time.Duration
	logger   *zap.Logger
}

func NewAuthService(repo repository.UserRepository, revoker Revoker, bus notifService.Publisher, secret string, ttl time.Duration, logger *zap.Logger) AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &authService{
		repo:     repo,
		revoker:  revoker,
		bus:      bus,
		secret:   secret,
		tokenTTL: ttl,
		logger:   logger,
	}
}

func (s *authService) Login(ctx context.Context, input dto.LoginInput) (*dto.AuthResponse, error) {
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(input.Email)))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !CheckPassword(user, input.Password) {
		return nil, ErrInvalidCredentials
	}

	signed, claims, err := token.Generate(user.ID, s.secret, s.tokenTTL)
	if err != nil {
		return nil, err
	}

	return &dto.AuthResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   claims.ExpiresAt.Unix(),
		User:        user,
	}, nil
}

// Authenticate verifies the token signature and that it has not been
// revoked by a logout.
func (s *authService) Authenticate(ctx context.Context, tokenString string) (*jwt.RegisteredClaims, error) {
	claims, err := token.Parse(tokenString, s.secret)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperror.ErrUnauthorized)
	}

	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, fmt.Errorf("session has ended: %w", apperror.ErrUnauthorized)
	}
	return claims, nil
}

func (s *authService) Me(ctx context.Context, userID string) (*entity.User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("user no longer exists: %w", apperror.ErrUnauthorized)
		}
		return nil, err
	}
	return user, nil
}

// Logout revokes the token and tells the user's live observers that their
// session is gone.
func (s *authService) Logout(ctx context.Context, claims *jwt.RegisteredClaims) error {
	ttl := time.Until(claims.ExpiresAt.Time)
	if err := s.revoker.Revoke(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}

	record, err := entity.NewChangeRecord(entity.ActionError, entity.EntityAuthentication,
		entity.ErrorPayload{Error: "session has ended"}, nil)
	if err != nil {
		return err
	}
	s.bus.PublishTo(claims.Subject, record)
	s.logger.Info("user logged out", zap.String("user_id", claims.Subject))
	return nil
}

// UpdateProfile changes display fields. Messages keep the author snapshot
// they were created with; observers refresh their copies from the
// edit/user record.
func (s *authService) UpdateProfile(ctx context.Context, userID string, req dto.UpdateProfileRequest) (*entity.User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name != user.Name {
		existing, err := s.repo.FindByName(ctx, name)
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		if existing != nil {
			return nil, apperror.New(http.StatusConflict, "name is already taken", apperror.ErrBadRequest)
		}
	}

	user.Name = name
	user.PictureRef = strings.TrimSpace(req.PictureRef)
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	record, err := entity.NewChangeRecord(entity.ActionEdit, entity.EntityUser, user.Snapshot(), nil)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(record)
	return user, nil
}

func (s *authService) Register(ctx context.Context, name, email, password string, admin bool) (*entity.User, error) {
	user := &entity.User{
		Name:  strings.TrimSpace(name),
		Email: strings.ToLower(strings.TrimSpace(email)),
		Admin: admin,
	}
	if err := SetPassword(user, password); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SetPassword stores bcrypt(salt + password) with a fresh random salt.
func SetPassword(user *entity.User, password string) error {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	salt := hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(salt+password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordSalt = salt
	user.PasswordHash = string(hash)
	return nil
}

func CheckPassword(user *entity.User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(user.PasswordSalt+password)) == nil
}
