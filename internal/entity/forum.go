package entity

import (
	"slices"
	"time"
)

type Forum struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Icon    string    `json:"icon"`
	Threads []*Thread `json:"threads"`
}

// Thread belongs to exactly one Forum. Active=false means locked.
type Thread struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"createdAt"`
	Active    bool       `json:"active"`
	Deleted   bool       `json:"deleted"`
	Messages  []*Message `json:"messages"`
}

// Author is the snapshot of a user taken when a message is created.
type Author struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PictureRef string `json:"pictureRef"`
}

// Message is either a top-level post of a thread or a reply to another
// message. Replies are owned by their parent; there are no back-pointers.
type Message struct {
	ID        string     `json:"id"`
	Author    Author     `json:"author"`
	Body      string     `json:"body"`
	Deleted   bool       `json:"deleted"`
	CreatedAt time.Time  `json:"createdAt"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	Likes     []string   `json:"likes"`
	Replies   []*Message `json:"replies"`
}

// HasLike reports whether userID is already in the likes set.
func (m *Message) HasLike(userID string) bool {
	return slices.Contains(m.Likes, userID)
}

// AddLike adds userID to the likes set and reports whether it was added.
func (m *Message) AddLike(userID string) bool {
	if m.HasLike(userID) {
		return false
	}
	m.Likes = append(m.Likes, userID)
	return true
}

// Clone returns a deep copy of the message and its whole reply tree.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.EditedAt != nil {
		t := *m.EditedAt
		c.EditedAt = &t
	}
	c.Likes = append(make([]string, 0, len(m.Likes)), m.Likes...)
	c.Replies = make([]*Message, 0, len(m.Replies))
	for _, r := range m.Replies {
		c.Replies = append(c.Replies, r.Clone())
	}
	return &c
}

// Shallow returns a copy without replies, used for change payloads.
func (m *Message) Shallow() *Message {
	c := *m
	c.Likes = append(make([]string, 0, len(m.Likes)), m.Likes...)
	c.Replies = []*Message{}
	return &c
}

func (t *Thread) Clone() *Thread {
	if t == nil {
		return nil
	}
	c := *t
	c.Messages = make([]*Message, 0, len(t.Messages))
	for _, m := range t.Messages {
		c.Messages = append(c.Messages, m.Clone())
	}
	return &c
}

// Shallow returns a copy without messages.
func (t *Thread) Shallow() *Thread {
	c := *t
	c.Messages = []*Message{}
	return &c
}

func (f *Forum) Clone() *Forum {
	if f == nil {
		return nil
	}
	c := *f
	c.Threads = make([]*Thread, 0, len(f.Threads))
	for _, t := range f.Threads {
		c.Threads = append(c.Threads, t.Clone())
	}
	return &c
}

// Shallow returns a copy without threads.
func (f *Forum) Shallow() *Forum {
	c := *f
	c.Threads = []*Thread{}
	return &c
}
