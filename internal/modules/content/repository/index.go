package repository

import "anoa.com/threadforum/internal/entity"

// Location is where a message sits in the forest. Parent is nil for a
// top-level message of Thread.
type Location struct {
	Forum   *entity.Forum
	Thread  *entity.Thread
	Parent  *entity.Message
	Message *entity.Message
}

// Depth0 reports whether the message is a top-level post.
func (l Location) Depth0() bool {
	return l.Parent == nil
}

// ParentID is the id of the thread or message that owns the located message.
func (l Location) ParentID() string {
	if l.Parent != nil {
		return l.Parent.ID
	}
	return l.Thread.ID
}

func (f *Forest) FindForum(id string) *entity.Forum {
	for _, forum := range f.Forums {
		if forum.ID == id {
			return forum
		}
	}
	return nil
}

// FindThread searches every forum's thread list.
func (f *Forest) FindThread(id string) *entity.Thread {
	_, t := f.findThread(id)
	return t
}

func (f *Forest) findThread(id string) (*entity.Forum, *entity.Thread) {
	for _, forum := range f.Forums {
		for _, t := range forum.Threads {
			if t.ID == id {
				return forum, t
			}
		}
	}
	return nil, nil
}

func (f *Forest) FindMessageOrReply(id string) *entity.Message {
	if loc, ok := f.Locate(id); ok {
		return loc.Message
	}
	return nil
}

func (f *Forest) FindOwningThread(messageID string) *entity.Thread {
	if loc, ok := f.Locate(messageID); ok {
		return loc.Thread
	}
	return nil
}

// ForumOf returns the forum owning thread id.
func (f *Forest) ForumOf(threadID string) *entity.Forum {
	forum, _ := f.findThread(threadID)
	return forum
}

// Locate walks the forest depth-first until messageID is found.
func (f *Forest) Locate(messageID string) (Location, bool) {
	for _, forum := range f.Forums {
		for _, t := range forum.Threads {
			for _, m := range t.Messages {
				if parent, found, ok := search(nil, m, messageID); ok {
					return Location{Forum: forum, Thread: t, Parent: parent, Message: found}, true
				}
			}
		}
	}
	return Location{}, false
}

func search(parent, node *entity.Message, id string) (*entity.Message, *entity.Message, bool) {
	if node.ID == id {
		return parent, node, true
	}
	for _, r := range node.Replies {
		if p, found, ok := search(node, r, id); ok {
			return p, found, true
		}
	}
	return nil, nil, false
}
