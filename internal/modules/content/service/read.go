package content

import (
	"context"
	"fmt"

	"anoa.com/threadforum/internal/entity"
	"anoa.com/threadforum/internal/modules/content/repository"
	"anoa.com/threadforum/pkg/apperror"
)

// Reads return detached copies and do not take the mutation lock.

func (s *service) ListForums(ctx context.Context) []*entity.Forum {
	forums := []*entity.Forum{}
	s.store.View(func(f *repository.Forest) {
		for _, forum := range f.Forums {
			forums = append(forums, withoutDeletedThreads(forum))
		}
	})
	return forums
}

func (s *service) GetForum(ctx context.Context, forumID string) (*entity.Forum, error) {
	var out *entity.Forum
	s.store.View(func(f *repository.Forest) {
		if forum := f.FindForum(forumID); forum != nil {
			out = withoutDeletedThreads(forum)
		}
	})
	if out == nil {
		return nil, fmt.Errorf("forum not found: %w", apperror.ErrNotFound)
	}
	return out, nil
}

func (s *service) GetThread(ctx context.Context, threadID string) (*entity.Thread, error) {
	var out *entity.Thread
	s.store.View(func(f *repository.Forest) {
		if thread := f.FindThread(threadID); thread != nil && !thread.Deleted {
			out = thread.Clone()
		}
	})
	if out == nil {
		return nil, fmt.Errorf("thread not found: %w", apperror.ErrNotFound)
	}
	return out, nil
}

func (s *service) GetMessage(ctx context.Context, messageID string) (*entity.Message, error) {
	var out *entity.Message
	s.store.View(func(f *repository.Forest) {
		if loc, ok := f.Locate(messageID); ok && !loc.Thread.Deleted {
			out = loc.Message.Clone()
		}
	})
	if out == nil {
		return nil, fmt.Errorf("message not found: %w", apperror.ErrNotFound)
	}
	return out, nil
}

func withoutDeletedThreads(forum *entity.Forum) *entity.Forum {
	out := forum.Shallow()
	for _, t := range forum.Threads {
		if !t.Deleted {
			out.Threads = append(out.Threads, t.Clone())
		}
	}
	return out
}
