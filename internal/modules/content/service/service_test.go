package content

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"anoa.com/threadforum/internal/entity"
	contentDto "anoa.com/threadforum/internal/modules/content/dto"
	"anoa.com/threadforum/internal/modules/content/repository"
	notifService "anoa.com/threadforum/internal/modules/notification/service"
	"anoa.com/threadforum/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	mu       sync.Mutex
	data     []byte
	writeErr error
	writes   int
}

func (b *memBackend) Read(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil, repository.ErrSnapshotNotFound
	}
	return b.data, nil
}

func (b *memBackend) Write(ctx context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return b.writeErr
	}
	b.data = append([]byte(nil), data...)
	b.writes++
	return nil
}

func (b *memBackend) failWrites(err error) {
	b.mu.Lock()
	b.writeErr = err
	b.mu.Unlock()
}

type fakeUsers map[string]*entity.User

func (u fakeUsers) FindByID(ctx context.Context, id string) (*entity.User, error) {
	if user, ok := u[id]; ok {
		return user, nil
	}
	return nil, fmt.Errorf("user %s: %w", id, apperror.ErrNotFound)
}

type fixture struct {
	svc     Service
	store   *repository.ContentStore
	backend *memBackend
	bus     *notifService.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := &memBackend{}
	store := repository.NewContentStore(backend, nil)
	require.NoError(t, store.Load(context.Background()))

	bus := notifService.NewBus(32, nil)
	users := fakeUsers{
		"u1": {ID: "u1", Name: "ana", PictureRef: "ana.png"},
		"u2": {ID: "u2", Name: "budi"},
	}
	return &fixture{
		svc:     NewService(store, users, bus, nil),
		store:   store,
		backend: backend,
		bus:     bus,
	}
}

// seed creates forum -> thread -> message and returns their ids.
func (fx *fixture) seed(t *testing.T) (forumID, threadID, messageID string) {
	t.Helper()
	ctx := context.Background()
	forum, err := fx.svc.CreateForum(ctx, contentDto.CreateForumRequest{Name: "General", Icon: "general.png"})
	require.NoError(t, err)
	thread, err := fx.svc.CreateThread(ctx, forum.ID, contentDto.CreateThreadRequest{Title: "Welcome"})
	require.NoError(t, err)
	msg, err := fx.svc.CreateMessage(ctx, thread.ID, "u1", contentDto.PostMessageRequest{Body: "Hello"})
	require.NoError(t, err)
	return forum.ID, thread.ID, msg.ID
}

func (fx *fixture) find(id string) *entity.Message {
	var out *entity.Message
	fx.store.View(func(f *repository.Forest) {
		if m := f.FindMessageOrReply(id); m != nil {
			out = m.Clone()
		}
	})
	return out
}

func drain(sub *notifService.Subscription) []entity.ChangeRecord {
	var out []entity.ChangeRecord
	for {
		select {
		case r, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, r)
		default:
			return out
		}
	}
}

func TestCreateThreadThenFind(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	forum, err := fx.svc.CreateForum(ctx, contentDto.CreateForumRequest{Name: "General"})
	require.NoError(t, err)

	thread, err := fx.svc.CreateThread(ctx, forum.ID, contentDto.CreateThreadRequest{Title: "Welcome"})
	require.NoError(t, err)
	assert.NotEmpty(t, thread.ID)
	assert.True(t, thread.Active)
	assert.False(t, thread.CreatedAt.IsZero())

	fx.store.View(func(f *repository.Forest) {
		found := f.FindThread(thread.ID)
		require.NotNil(t, found)
		assert.Equal(t, "Welcome", found.Title)
		assert.Empty(t, found.Messages)
	})

	_, err = fx.svc.CreateThread(ctx, "missing", contentDto.CreateThreadRequest{Title: "x"})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestCreateForumRequiresName(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.CreateForum(context.Background(), contentDto.CreateForumRequest{Name: "  "})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
	assert.Zero(t, fx.backend.writes)
}

func TestEndToEndConversation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	_, threadID, messageID := fx.seed(t)

	_, err := fx.svc.CreateReply(ctx, messageID, "u2", contentDto.PostMessageRequest{Body: "Hi back"})
	require.NoError(t, err)

	thread, err := fx.svc.GetThread(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, thread.Messages, 1)
	assert.Equal(t, "Hello", thread.Messages[0].Body)
	require.Len(t, thread.Messages[0].Replies, 1)
	assert.Equal(t, "Hi back", thread.Messages[0].Replies[0].Body)
	assert.Equal(t, "budi", thread.Messages[0].Replies[0].Author.Name)
}

func TestDeepRepliesAreReachable(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	_, _, messageID := fx.seed(t)

	ids := []string{messageID}
	parent := messageID
	for i := 0; i < 4; i++ {
		reply, err := fx.svc.CreateReply(ctx, parent, "u1", contentDto.PostMessageRequest{Body: fmt.Sprintf("depth %d", i+1)})
		require.NoError(t, err)
		ids = append(ids, reply.ID)
		parent = reply.ID
	}

	for depth, id := range ids {
		m := fx.find(id)
		require.NotNil(t, m, "depth %d", depth)
		assert.Equal(t, id, m.ID)
	}
	assert.Equal(t, "depth 4", fx.find(ids[4]).Body)
}

func TestCreateMessageUnknownAuthor(t *testing.T) {
	fx := newFixture(t)
	_, threadID, messageID := fx.seed(t)
	ctx := context.Background()

	_, err := fx.svc.CreateMessage(ctx, threadID, "ghost", contentDto.PostMessageRequest{Body: "boo"})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = fx.svc.CreateReply(ctx, messageID, "ghost", contentDto.PostMessageRequest{Body: "boo"})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = fx.svc.CreateMessage(ctx, "nope", "u1", contentDto.PostMessageRequest{Body: "boo"})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestBodyIsSanitized(t *testing.T) {
	fx := newFixture(t)
	_, threadID, _ := fx.seed(t)
	ctx := context.Background()

	msg, err := fx.svc.CreateMessage(ctx, threadID, "u1",
		contentDto.PostMessageRequest{Body: `<b>bold</b><script>alert(1)</script>`})
	require.NoError(t, err)
	assert.Equal(t, "<b>bold</b>", msg.Body)

	_, err = fx.svc.CreateMessage(ctx, threadID, "u1", contentDto.PostMessageRequest{Body: "<script>x</script>"})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
}

func TestLikeIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	_, _, messageID := fx.seed(t)
	ctx := context.Background()
	sub := fx.bus.Subscribe("observer")

	_, err := fx.svc.LikeMessage(ctx, messageID, "u2")
	require.NoError(t, err)
	writes := fx.backend.writes
	m, err := fx.svc.LikeMessage(ctx, messageID, "u2")
	require.NoError(t, err)

	assert.Equal(t, []string{"u2"}, m.Likes)
	assert.Equal(t, []string{"u2"}, fx.find(messageID).Likes)
	assert.Equal(t, writes, fx.backend.writes, "redundant like is not flushed")

	records := drain(sub)
	require.Len(t, records, 1)
	assert.Equal(t, entity.ActionLike, records[0].Action)
	assert.Equal(t, entity.EntityMessage, records[0].EntityType)
}

func TestLockedThreadRejectsNewContent(t *testing.T) {
	fx := newFixture(t)
	_, threadID, messageID := fx.seed(t)
	ctx := context.Background()

	reply, err := fx.svc.CreateReply(ctx, messageID, "u2", contentDto.PostMessageRequest{Body: "first"})
	require.NoError(t, err)

	inactive := false
	thread, err := fx.svc.EditThread(ctx, threadID, contentDto.UpdateThreadRequest{Title: "Closed", Active: &inactive})
	require.NoError(t, err)
	assert.False(t, thread.Active)

	_, err = fx.svc.CreateMessage(ctx, threadID, "u1", contentDto.PostMessageRequest{Body: "x"})
	assert.ErrorIs(t, err, apperror.ErrLocked)
	_, err = fx.svc.CreateReply(ctx, messageID, "u1", contentDto.PostMessageRequest{Body: "x"})
	assert.ErrorIs(t, err, apperror.ErrLocked)
	_, err = fx.svc.CreateReply(ctx, reply.ID, "u1", contentDto.PostMessageRequest{Body: "x"})
	assert.ErrorIs(t, err, apperror.ErrLocked)

	_, err = fx.svc.LikeMessage(ctx, reply.ID, "u1")
	assert.NoError(t, err, "likes are allowed on locked threads")
	_, err = fx.svc.GetThread(ctx, threadID)
	assert.NoError(t, err)
}

func TestSoftDeleteKeepsReplies(t *testing.T) {
	fx := newFixture(t)
	_, threadID, messageID := fx.seed(t)
	ctx := context.Background()

	reply, err := fx.svc.CreateReply(ctx, messageID, "u2", contentDto.PostMessageRequest{Body: "child"})
	require.NoError(t, err)

	deleted, err := fx.svc.DeleteMessage(ctx, messageID)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)

	m := fx.find(messageID)
	require.NotNil(t, m)
	assert.True(t, m.Deleted)
	assert.Equal(t, "Hello", m.Body, "content is retained")
	require.NotNil(t, fx.find(reply.ID))

	_, err = fx.svc.CreateReply(ctx, messageID, "u1", contentDto.PostMessageRequest{Body: "x"})
	assert.ErrorIs(t, err, apperror.ErrLocked)
	_, err = fx.svc.EditMessage(ctx, messageID, contentDto.PostMessageRequest{Body: "x"})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = fx.svc.LikeMessage(ctx, messageID, "u1")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = fx.svc.CreateReply(ctx, reply.ID, "u1", contentDto.PostMessageRequest{Body: "still open"})
	assert.NoError(t, err, "replies of a deleted message stay mutable")

	again, err := fx.svc.DeleteMessage(ctx, messageID)
	require.NoError(t, err)
	assert.True(t, again.Deleted)

	_, err = fx.svc.GetThread(ctx, threadID)
	assert.NoError(t, err)
}

func TestWriteFailureRollsBackReply(t *testing.T) {
	fx := newFixture(t)
	_, _, messageID := fx.seed(t)
	ctx := context.Background()
	sub := fx.bus.Subscribe("observer")

	fx.backend.failWrites(errors.New("disk full"))
	_, err := fx.svc.CreateReply(ctx, messageID, "u2", contentDto.PostMessageRequest{Body: "lost"})
	require.ErrorIs(t, err, apperror.ErrStorageUnavailable)

	assert.Empty(t, fx.find(messageID).Replies)
	assert.Empty(t, drain(sub), "nothing is emitted for a rejected mutation")

	fx.backend.failWrites(nil)
	reply, err := fx.svc.CreateReply(ctx, messageID, "u2", contentDto.PostMessageRequest{Body: "kept"})
	require.NoError(t, err)
	assert.NotNil(t, fx.find(reply.ID))
}

func TestCancelledContextStillCompletes(t *testing.T) {
	fx := newFixture(t)
	_, threadID, _ := fx.seed(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg, err := fx.svc.CreateMessage(ctx, threadID, "u1", contentDto.PostMessageRequest{Body: "late"})
	require.NoError(t, err)
	assert.NotNil(t, fx.find(msg.ID))
}

func TestReplyNotification(t *testing.T) {
	fx := newFixture(t)
	_, threadID, messageID := fx.seed(t)
	ctx := context.Background()

	connected := fx.bus.Subscribe("watcher")
	gone := fx.bus.Subscribe("leaver")
	fx.bus.Unsubscribe(gone)

	reply, err := fx.svc.CreateReply(ctx, messageID, "u1", contentDto.PostMessageRequest{Body: "x"})
	require.NoError(t, err)

	records := drain(connected)
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, entity.ActionAdd, r.Action)
	assert.Equal(t, entity.EntityReply, r.EntityType)
	require.NotNil(t, r.Source)
	assert.Equal(t, messageID, r.Source.ParentID)
	assert.Equal(t, threadID, r.Source.ThreadID)
	assert.Contains(t, string(r.Payload), reply.ID)

	assert.Empty(t, drain(gone))
}

func TestRecordsForNestedMessages(t *testing.T) {
	fx := newFixture(t)
	forumID, threadID, messageID := fx.seed(t)
	ctx := context.Background()
	reply, err := fx.svc.CreateReply(ctx, messageID, "u1", contentDto.PostMessageRequest{Body: "r"})
	require.NoError(t, err)

	sub := fx.bus.Subscribe("watcher")
	_, err = fx.svc.EditMessage(ctx, reply.ID, contentDto.PostMessageRequest{Body: "edited"})
	require.NoError(t, err)
	_, err = fx.svc.EditMessage(ctx, messageID, contentDto.PostMessageRequest{Body: "edited top"})
	require.NoError(t, err)
	_, err = fx.svc.DeleteMessage(ctx, reply.ID)
	require.NoError(t, err)
	_, err = fx.svc.DeleteThread(ctx, threadID)
	require.NoError(t, err)

	records := drain(sub)
	require.Len(t, records, 4)

	assert.Equal(t, entity.ActionEdit, records[0].Action)
	assert.Equal(t, entity.EntityReply, records[0].EntityType)
	assert.Equal(t, messageID, records[0].Source.ParentID)

	assert.Equal(t, entity.EntityMessage, records[1].EntityType)
	assert.Equal(t, threadID, records[1].Source.ParentID)

	assert.Equal(t, entity.ActionDelete, records[2].Action)
	assert.JSONEq(t, fmt.Sprintf(`{"id":%q}`, reply.ID), string(records[2].Payload))

	assert.Equal(t, entity.EntityThread, records[3].EntityType)
	assert.Equal(t, forumID, records[3].Source.ParentID)

	edited := fx.find(reply.ID)
	require.NotNil(t, edited.EditedAt)
}

func TestDeletedThreadIsHiddenAndLocked(t *testing.T) {
	fx := newFixture(t)
	forumID, threadID, messageID := fx.seed(t)
	ctx := context.Background()

	_, err := fx.svc.DeleteThread(ctx, threadID)
	require.NoError(t, err)

	forum, err := fx.svc.GetForum(ctx, forumID)
	require.NoError(t, err)
	assert.Empty(t, forum.Threads)
	assert.Empty(t, fx.svc.ListForums(ctx)[0].Threads)

	_, err = fx.svc.GetThread(ctx, threadID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = fx.svc.CreateMessage(ctx, threadID, "u1", contentDto.PostMessageRequest{Body: "x"})
	assert.ErrorIs(t, err, apperror.ErrLocked)
	_, err = fx.svc.CreateReply(ctx, messageID, "u1", contentDto.PostMessageRequest{Body: "x"})
	assert.ErrorIs(t, err, apperror.ErrLocked)

	sub := fx.bus.Subscribe("watcher")
	_, err = fx.svc.EditMessage(ctx, messageID, contentDto.PostMessageRequest{Body: "changed"})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = fx.svc.LikeMessage(ctx, messageID, "u2")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Empty(t, drain(sub))

	fx.store.View(func(f *repository.Forest) {
		assert.NotNil(t, f.FindThread(threadID), "data is retained")
		assert.Equal(t, "Hello", f.FindMessageOrReply(messageID).Body)
		assert.Empty(t, f.FindMessageOrReply(messageID).Likes)
	})

	_, err = fx.svc.DeleteThread(ctx, "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestReadsAreDetached(t *testing.T) {
	fx := newFixture(t)
	_, threadID, messageID := fx.seed(t)
	ctx := context.Background()

	thread, err := fx.svc.GetThread(ctx, threadID)
	require.NoError(t, err)
	thread.Messages[0].Body = "tampered"

	msg, err := fx.svc.GetMessage(ctx, messageID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", msg.Body)

	_, err = fx.svc.GetMessage(ctx, "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = fx.svc.GetForum(ctx, "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestMutationsSurviveReload(t *testing.T) {
	fx := newFixture(t)
	_, threadID, _ := fx.seed(t)

	reloaded := repository.NewContentStore(fx.backend, nil)
	require.NoError(t, reloaded.Load(context.Background()))
	reloaded.View(func(f *repository.Forest) {
		thread := f.FindThread(threadID)
		require.NotNil(t, thread)
		require.Len(t, thread.Messages, 1)
		assert.Equal(t, "ana", thread.Messages[0].Author.Name)
	})
}

func TestConcurrentLikesAreSerialized(t *testing.T) {
	fx := newFixture(t)
	_, _, messageID := fx.seed(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := fx.svc.LikeMessage(ctx, messageID, fmt.Sprintf("u%d", i%5))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, fx.find(messageID).Likes, 5)
}
