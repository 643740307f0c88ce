package bootstrap

import (
	"context"
	"fmt"
	"testing"

	"anoa.com/threadforum/internal/entity"
	"anoa.com/threadforum/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type users struct {
	byEmail map[string]*entity.User
}

func (u *users) Create(ctx context.Context, user *entity.User) error {
	u.byEmail[user.Email] = user
	return nil
}

func (u *users) FindByID(ctx context.Context, id string) (*entity.User, error) {
	return nil, apperror.ErrNotFound
}

func (u *users) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	if user, ok := u.byEmail[email]; ok {
		return user, nil
	}
	return nil, fmt.Errorf("user not found: %w", apperror.ErrNotFound)
}

func (u *users) FindByName(ctx context.Context, name string) (*entity.User, error) {
	return nil, apperror.ErrNotFound
}

func (u *users) Update(ctx context.Context, user *entity.User) error { return nil }

func (u *users) Count(ctx context.Context) (int64, error) { return int64(len(u.byEmail)), nil }

type registrar struct {
	repo  *users
	calls int
}

func (r *registrar) Register(ctx context.Context, name, email, password string, admin bool) (*entity.User, error) {
	r.calls++
	user := &entity.User{Name: name, Email: email, Admin: admin}
	return user, r.repo.Create(ctx, user)
}

func TestSeedAdminUserIsIdempotent(t *testing.T) {
	repo := &users{byEmail: map[string]*entity.User{}}
	reg := &registrar{repo: repo}
	ctx := context.Background()

	require.NoError(t, SeedAdminUser(ctx, repo, reg, zap.NewNop()))
	require.NoError(t, SeedAdminUser(ctx, repo, reg, zap.NewNop()))

	assert.Equal(t, 1, reg.calls)
	require.Contains(t, repo.byEmail, adminEmail)
	assert.True(t, repo.byEmail[adminEmail].Admin)
}
