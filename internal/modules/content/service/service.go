package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"anoa.com/threadforum/internal/entity"
	"anoa.com/threadforum/internal/metrics"
	contentDto "anoa.com/threadforum/internal/modules/content/dto"
	"anoa.com/threadforum/internal/modules/content/repository"
	notifService "anoa.com/threadforum/internal/modules/notification/service"
	"anoa.com/threadforum/pkg/apperror"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// UserDirectory resolves the author of new messages. FindByID returns an
// error wrapping apperror.ErrNotFound for unknown ids.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (*entity.User, error)
}

type Service interface {
	CreateForum(ctx context.Context, req contentDto.CreateForumRequest) (*entity.Forum, error)
	CreateThread(ctx context.Context, forumID string, req contentDto.CreateThreadRequest) (*entity.Thread, error)
	CreateMessage(ctx context.Context, threadID, authorID string, req contentDto.PostMessageRequest) (*entity.Message, error)
	CreateReply(ctx context.Context, messageID, authorID string, req contentDto.PostMessageRequest) (*entity.Message, error)
	EditMessage(ctx context.Context, messageID string, req contentDto.PostMessageRequest) (*entity.Message, error)
	DeleteMessage(ctx context.Context, messageID string) (*entity.Message, error)
	LikeMessage(ctx context.Context, messageID, userID string) (*entity.Message, error)
	EditThread(ctx context.Context, threadID string, req contentDto.UpdateThreadRequest) (*entity.Thread, error)
	DeleteThread(ctx context.Context, threadID string) (*entity.Thread, error)

	ListForums(ctx context.Context) []*entity.Forum
	GetForum(ctx context.Context, forumID string) (*entity.Forum, error)
	GetThread(ctx context.Context, threadID string) (*entity.Thread, error)
	GetMessage(ctx context.Context, messageID string) (*entity.Message, error)
}

// errUnchanged aborts a mutation that would not change anything, so nothing
// is flushed or emitted.
var errUnchanged = errors.New("unchanged")

type service struct {
	// mu makes precondition check, flush and emission one atomic unit.
	mu     sync.Mutex
	store  *repository.ContentStore
	users  UserDirectory
	bus    notifService.Publisher
	policy *bluemonday.Policy
	logger *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewService(store *repository.ContentStore, users UserDirectory, bus notifService.Publisher, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{
		store:  store,
		users:  users,
		bus:    bus,
		policy: bluemonday.UGCPolicy(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  newID,
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// apply runs fn as one mutation and publishes the record it returns once the
// change is durable. The store call ignores cancellation of ctx: a mutation
// that has started always runs to completion.
func (s *service) apply(ctx context.Context, op string, fn func(*repository.Forest) (entity.ChangeRecord, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var record entity.ChangeRecord
	err := s.store.Mutate(context.WithoutCancel(ctx), func(f *repository.Forest) error {
		r, err := fn(f)
		if err != nil {
			return err
		}
		record = r
		return nil
	})
	if errors.Is(err, errUnchanged) {
		metrics.ObserveMutation(op, nil)
		return nil
	}
	metrics.ObserveMutation(op, err)
	if err != nil {
		if errors.Is(err, apperror.ErrStorageUnavailable) {
			s.logger.Error("mutation not persisted", zap.String("operation", op), zap.Error(err))
		}
		return err
	}

	s.bus.Publish(record)
	s.logger.Debug("mutation applied",
		zap.String("operation", op),
		zap.String("action", string(record.Action)),
		zap.String("entity_type", string(record.EntityType)))
	return nil
}

func (s *service) sanitize(body string) (string, error) {
	clean := strings.TrimSpace(s.policy.Sanitize(body))
	if clean == "" {
		return "", fmt.Errorf("message body is empty: %w", apperror.ErrInvalidInput)
	}
	return clean, nil
}

func (s *service) author(ctx context.Context, authorID string) (entity.Author, error) {
	user, err := s.users.FindByID(ctx, authorID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return entity.Author{}, fmt.Errorf("author not found: %w", apperror.ErrNotFound)
		}
		return entity.Author{}, fmt.Errorf("lookup author: %w", err)
	}
	return user.Snapshot(), nil
}

func messageEntityType(loc repository.Location) entity.EntityType {
	if loc.Depth0() {
		return entity.EntityMessage
	}
	return entity.EntityReply
}

func messageSource(loc repository.Location) *entity.Source {
	return &entity.Source{ParentID: loc.ParentID(), ThreadID: loc.Thread.ID}
}

func (s *service) CreateForum(ctx context.Context, req contentDto.CreateForumRequest) (*entity.Forum, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("forum name is required: %w", apperror.ErrInvalidInput)
	}

	forum := &entity.Forum{
		ID:      s.newID(),
		Name:    name,
		Icon:    strings.TrimSpace(req.Icon),
		Threads: []*entity.Thread{},
	}
	err := s.apply(ctx, "create_forum", func(f *repository.Forest) (entity.ChangeRecord, error) {
		f.Forums = append(f.Forums, forum)
		return entity.NewChangeRecord(entity.ActionAdd, entity.EntityForum, forum.Shallow(), nil)
	})
	if err != nil {
		return nil, err
	}
	return forum.Clone(), nil
}

func (s *service) CreateThread(ctx context.Context, forumID string, req contentDto.CreateThreadRequest) (*entity.Thread, error) {
	thread := &entity.Thread{
		ID:        s.newID(),
		Title:     strings.TrimSpace(req.Title),
		CreatedAt: s.now(),
		Active:    true,
		Messages:  []*entity.Message{},
	}
	err := s.apply(ctx, "create_thread", func(f *repository.Forest) (entity.ChangeRecord, error) {
		forum := f.FindForum(forumID)
		if forum == nil {
			return entity.ChangeRecord{}, fmt.Errorf("forum not found: %w", apperror.ErrNotFound)
		}
		forum.Threads = append(forum.Threads, thread)
		return entity.NewChangeRecord(entity.ActionAdd, entity.EntityThread, thread.Shallow(),
			&entity.Source{ParentID: forum.ID})
	})
	if err != nil {
		return nil, err
	}
	return thread.Clone(), nil
}

func (s *service) CreateMessage(ctx context.Context, threadID, authorID string, req contentDto.PostMessageRequest) (*entity.Message, error) {
	body, err := s.sanitize(req.Body)
	if err != nil {
		return nil, err
	}
	author, err := s.author(ctx, authorID)
	if err != nil {
		return nil, err
	}

	msg := s.newMessage(author, body)
	err = s.apply(ctx, "create_message", func(f *repository.Forest) (entity.ChangeRecord, error) {
		thread := f.FindThread(threadID)
		if thread == nil {
			return entity.ChangeRecord{}, fmt.Errorf("thread not found: %w", apperror.ErrNotFound)
		}
		if !thread.Active || thread.Deleted {
			return entity.ChangeRecord{}, fmt.Errorf("thread is locked: %w", apperror.ErrLocked)
		}
		thread.Messages = append(thread.Messages, msg)
		return entity.NewChangeRecord(entity.ActionAdd, entity.EntityMessage, msg.Shallow(),
			&entity.Source{ParentID: thread.ID, ThreadID: thread.ID})
	})
	if err != nil {
		return nil, err
	}
	return msg.Clone(), nil
}

func (s *service) CreateReply(ctx context.Context, messageID, authorID string, req contentDto.PostMessageRequest) (*entity.Message, error) {
	body, err := s.sanitize(req.Body)
	if err != nil {
		return nil, err
	}
	author, err := s.author(ctx, authorID)
	if err != nil {
		return nil, err
	}

	reply := s.newMessage(author, body)
	err = s.apply(ctx, "create_reply", func(f *repository.Forest) (entity.ChangeRecord, error) {
		loc, ok := f.Locate(messageID)
		if !ok {
			return entity.ChangeRecord{}, fmt.Errorf("message not found: %w", apperror.ErrNotFound)
		}
		if !loc.Thread.Active || loc.Thread.Deleted {
			return entity.ChangeRecord{}, fmt.Errorf("thread is locked: %w", apperror.ErrLocked)
		}
		if loc.Message.Deleted {
			return entity.ChangeRecord{}, fmt.Errorf("cannot reply to a deleted message: %w", apperror.ErrLocked)
		}
		loc.Message.Replies = append(loc.Message.Replies, reply)
		return entity.NewChangeRecord(entity.ActionAdd, entity.EntityReply, reply.Shallow(),
			&entity.Source{ParentID: loc.Message.ID, ThreadID: loc.Thread.ID})
	})
	if err != nil {
		return nil, err
	}
	return reply.Clone(), nil
}

func (s *service) newMessage(author entity.Author, body string) *entity.Message {
	return &entity.Message{
		ID:        s.newID(),
		Author:    author,
		Body:      body,
		CreatedAt: s.now(),
		Likes:     []string{},
		Replies:   []*entity.Message{},
	}
}

// liveMessage locates a message that can still be edited or liked. Messages
// of a deleted thread are as gone as deleted messages.
func liveMessage(f *repository.Forest, messageID string) (repository.Location, error) {
	loc, ok := f.Locate(messageID)
	if !ok || loc.Message.Deleted || loc.Thread.Deleted {
		return repository.Location{}, fmt.Errorf("message not found: %w", apperror.ErrNotFound)
	}
	return loc, nil
}

func (s *service) EditMessage(ctx context.Context, messageID string, req contentDto.PostMessageRequest) (*entity.Message, error) {
	body, err := s.sanitize(req.Body)
	if err != nil {
		return nil, err
	}

	var out *entity.Message
	err = s.apply(ctx, "edit_message", func(f *repository.Forest) (entity.ChangeRecord, error) {
		loc, err := liveMessage(f, messageID)
		if err != nil {
			return entity.ChangeRecord{}, err
		}
		edited := s.now()
		loc.Message.Body = body
		loc.Message.EditedAt = &edited
		out = loc.Message.Clone()
		return entity.NewChangeRecord(entity.ActionEdit, messageEntityType(loc), loc.Message.Shallow(), messageSource(loc))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) DeleteMessage(ctx context.Context, messageID string) (*entity.Message, error) {
	var out *entity.Message
	err := s.apply(ctx, "delete_message", func(f *repository.Forest) (entity.ChangeRecord, error) {
		loc, ok := f.Locate(messageID)
		if !ok {
			return entity.ChangeRecord{}, fmt.Errorf("message not found: %w", apperror.ErrNotFound)
		}
		out = loc.Message.Clone()
		if loc.Message.Deleted {
			return entity.ChangeRecord{}, errUnchanged
		}
		loc.Message.Deleted = true
		out.Deleted = true
		return entity.NewChangeRecord(entity.ActionDelete, messageEntityType(loc),
			entity.IDPayload{ID: loc.Message.ID}, messageSource(loc))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) LikeMessage(ctx context.Context, messageID, userID string) (*entity.Message, error) {
	var out *entity.Message
	err := s.apply(ctx, "like_message", func(f *repository.Forest) (entity.ChangeRecord, error) {
		loc, err := liveMessage(f, messageID)
		if err != nil {
			return entity.ChangeRecord{}, err
		}
		added := loc.Message.AddLike(userID)
		out = loc.Message.Clone()
		if !added {
			return entity.ChangeRecord{}, errUnchanged
		}
		return entity.NewChangeRecord(entity.ActionLike, messageEntityType(loc), loc.Message.Shallow(), messageSource(loc))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) EditThread(ctx context.Context, threadID string, req contentDto.UpdateThreadRequest) (*entity.Thread, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("thread title is required: %w", apperror.ErrInvalidInput)
	}

	var out *entity.Thread
	err := s.apply(ctx, "edit_thread", func(f *repository.Forest) (entity.ChangeRecord, error) {
		forum := f.ForumOf(threadID)
		thread := f.FindThread(threadID)
		if thread == nil || thread.Deleted {
			return entity.ChangeRecord{}, fmt.Errorf("thread not found: %w", apperror.ErrNotFound)
		}
		thread.Title = title
		if req.Active != nil {
			thread.Active = *req.Active
		}
		out = thread.Clone()
		return entity.NewChangeRecord(entity.ActionEdit, entity.EntityThread, thread.Shallow(),
			&entity.Source{ParentID: forum.ID})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) DeleteThread(ctx context.Context, threadID string) (*entity.Thread, error) {
	var out *entity.Thread
	err := s.apply(ctx, "delete_thread", func(f *repository.Forest) (entity.ChangeRecord, error) {
		forum := f.ForumOf(threadID)
		thread := f.FindThread(threadID)
		if thread == nil {
			return entity.ChangeRecord{}, fmt.Errorf("thread not found: %w", apperror.ErrNotFound)
		}
		out = thread.Shallow()
		if thread.Deleted {
			return entity.ChangeRecord{}, errUnchanged
		}
		thread.Deleted = true
		out.Deleted = true
		return entity.NewChangeRecord(entity.ActionDelete, entity.EntityThread,
			entity.IDPayload{ID: thread.ID}, &entity.Source{ParentID: forum.ID})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
