package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"anoa.com/threadforum/internal/entity"
	notifService "anoa.com/threadforum/internal/modules/notification/service"
	"anoa.com/threadforum/internal/modules/user/dto"
	"anoa.com/threadforum/pkg/apperror"
	"anoa.com/threadforum/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]*entity.User
	seq   int
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]*entity.User)}
}

func (r *memUsers) Create(ctx context.Context, user *entity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	user.ID = fmt.Sprintf("u%d", r.seq)
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUsers) find(match func(*entity.User) bool) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user not found: %w", apperror.ErrNotFound)
}

func (r *memUsers) FindByID(ctx context.Context, id string) (*entity.User, error) {
	return r.find(func(u *entity.User) bool { return u.ID == id })
}

func (r *memUsers) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.find(func(u *entity.User) bool { return u.Email == email })
}

func (r *memUsers) FindByName(ctx context.Context, name string) (*entity.User, error) {
	return r.find(func(u *entity.User) bool { return u.Name == name })
}

func (r *memUsers) Update(ctx context.Context, user *entity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUsers) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.users)), nil
}

func setup(t *testing.T) (AuthService, *notifService.Bus) {
	t.Helper()
	bus := notifService.NewBus(8, nil)
	svc := NewAuthService(newMemUsers(), session.NewRevoker(nil), bus, "secret", time.Hour, nil)
	return svc, bus
}

func TestPasswordIsSalted(t *testing.T) {
	a := &entity.User{}
	b := &entity.User{}
	require.NoError(t, SetPassword(a, "hunter2"))
	require.NoError(t, SetPassword(b, "hunter2"))

	assert.NotEqual(t, a.PasswordSalt, b.PasswordSalt)
	assert.True(t, CheckPassword(a, "hunter2"))
	assert.False(t, CheckPassword(a, "hunter3"))
}

func TestLoginAuthenticateLogout(t *testing.T) {
	svc, bus := setup(t)
	ctx := context.Background()
	user, err := svc.Register(ctx, "ana", "Ana@Example.com", "hunter2", false)
	require.NoError(t, err)

	_, err = svc.Login(ctx, dto.LoginInput{Email: "ana@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	_, err = svc.Login(ctx, dto.LoginInput{Email: "nobody@example.com", Password: "hunter2"})
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	resp, err := svc.Login(ctx, dto.LoginInput{Email: "ana@example.com", Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)

	claims, err := svc.Authenticate(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)

	mine := bus.Subscribe(user.ID)
	other := bus.Subscribe("someone-else")

	require.NoError(t, svc.Logout(ctx, claims))

	_, err = svc.Authenticate(ctx, resp.AccessToken)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	select {
	case r := <-mine.C:
		assert.Equal(t, entity.ActionError, r.Action)
		assert.Equal(t, entity.EntityAuthentication, r.EntityType)
	default:
		t.Fatal("logout was not pushed to the user's observer")
	}
	assert.Len(t, other.C, 0)
}

func TestUpdateProfilePublishesAuthorSnapshot(t *testing.T) {
	svc, bus := setup(t)
	ctx := context.Background()
	ana, err := svc.Register(ctx, "ana", "ana@example.com", "pw", false)
	require.NoError(t, err)
	_, err = svc.Register(ctx, "budi", "budi@example.com", "pw", false)
	require.NoError(t, err)
	sub := bus.Subscribe("watcher")

	_, err = svc.UpdateProfile(ctx, ana.ID, dto.UpdateProfileRequest{Name: "budi"})
	assert.Equal(t, 409, apperror.MapErrorToStatus(err))

	updated, err := svc.UpdateProfile(ctx, ana.ID, dto.UpdateProfileRequest{Name: "ana maria", PictureRef: "new.png"})
	require.NoError(t, err)
	assert.Equal(t, "ana maria", updated.Name)

	r := <-sub.C
	assert.Equal(t, entity.ActionEdit, r.Action)
	assert.Equal(t, entity.EntityUser, r.EntityType)
	assert.JSONEq(t, fmt.Sprintf(`{"id":%q,"name":"ana maria","pictureRef":"new.png"}`, ana.ID), string(r.Payload))

	me, err := svc.Me(ctx, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, "new.png", me.PictureRef)
}

func TestMeForDeletedUser(t *testing.T) {
	svc, _ := setup(t)
	_, err := svc.Me(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}
