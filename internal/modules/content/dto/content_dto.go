package dto

import (
	"time"

	"anoa.com/threadforum/internal/entity"
)

type CreateForumRequest struct {
	Name string `json:"name" binding:"required,max=80"`
	Icon string `json:"icon" binding:"max=255"`
}

type CreateThreadRequest struct {
	Title string `json:"title" binding:"required,max=120"`
}

type UpdateThreadRequest struct {
	Title  string `json:"title" binding:"required,max=120"`
	Active *bool  `json:"active" binding:"required"`
}

type PostMessageRequest struct {
	Body string `json:"body" binding:"required,max=10000"`
}

type ForumSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	ThreadCount int    `json:"threadCount"`
}

type ThreadSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	Active       bool      `json:"active"`
	MessageCount int       `json:"messageCount"`
}

type ForumResponse struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Icon    string          `json:"icon"`
	Threads []ThreadSummary `json:"threads"`
}

func NewForumSummary(f *entity.Forum) ForumSummary {
	n := 0
	for _, t := range f.Threads {
		if !t.Deleted {
			n++
		}
	}
	return ForumSummary{ID: f.ID, Name: f.Name, Icon: f.Icon, ThreadCount: n}
}

// NewForumResponse lists the forum's threads without their messages.
// Deleted threads are left out.
func NewForumResponse(f *entity.Forum) ForumResponse {
	resp := ForumResponse{ID: f.ID, Name: f.Name, Icon: f.Icon, Threads: []ThreadSummary{}}
	for _, t := range f.Threads {
		if t.Deleted {
			continue
		}
		resp.Threads = append(resp.Threads, ThreadSummary{
			ID:           t.ID,
			Title:        t.Title,
			CreatedAt:    t.CreatedAt,
			Active:       t.Active,
			MessageCount: len(t.Messages),
		})
	}
	return resp
}

// RenderThread blanks the bodies of deleted messages in place. t must be a
// detached copy.
func RenderThread(t *entity.Thread) *entity.Thread {
	for _, m := range t.Messages {
		RenderMessage(m)
	}
	return t
}

func RenderMessage(m *entity.Message) *entity.Message {
	if m.Deleted {
		m.Body = ""
	}
	for _, r := range m.Replies {
		RenderMessage(r)
	}
	return m
}
