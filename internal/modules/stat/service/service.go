package service

import (
	"context"

	"anoa.com/threadforum/internal/entity"
	"anoa.com/threadforum/internal/modules/content/repository"
)

type UserCounter interface {
	Count(ctx context.Context) (int64, error)
}

type ObserverCounter interface {
	Count() int
}

type Stats struct {
	Users     int64 `json:"users"`
	Forums    int   `json:"forums"`
	Threads   int   `json:"threads"`
	Messages  int   `json:"messages"`
	Observers int   `json:"observers"`
}

type StatService interface {
	GetStats(ctx context.Context) (*Stats, error)
}

type statService struct {
	users     UserCounter
	store     *repository.ContentStore
	observers ObserverCounter
}

func NewStatService(users UserCounter, store *repository.ContentStore, observers ObserverCounter) StatService {
	return &statService{
		users:     users,
		store:     store,
		observers: observers,
	}
}

// GetStats counts live content; deleted threads and messages are skipped,
// but replies under a deleted message still count.
func (s *statService) GetStats(ctx context.Context) (*Stats, error) {
	users, err := s.users.Count(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Users: users, Observers: s.observers.Count()}
	s.store.View(func(f *repository.Forest) {
		stats.Forums = len(f.Forums)
		for _, forum := range f.Forums {
			for _, t := range forum.Threads {
				if t.Deleted {
					continue
				}
				stats.Threads++
				stats.Messages += countLive(t.Messages)
			}
		}
	})
	return stats, nil
}

func countLive(msgs []*entity.Message) int {
	n := 0
	for _, m := range msgs {
		if !m.Deleted {
			n++
		}
		n += countLive(m.Replies)
	}
	return n
}
