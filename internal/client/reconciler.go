package client

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"anoa.com/threadforum/internal/entity"
)

// Focus is what the observer is looking at. Empty fields mean the level
// above is focused; a zero Focus is the root forum listing.
type Focus struct {
	ForumID   string
	ThreadID  string
	MessageID string
}

// Effect reports what applying a record did to the local view.
type Effect struct {
	Applied bool
	// Navigate is set when the focused entity went away.
	Navigate *Focus
	// SessionEnded means the live connection is no longer authenticated.
	SessionEnded bool
}

// Reconciler keeps the locally materialized part of the forest in step with
// change records. Records about anything not materialized are ignored, and
// applying the same record twice has no further effect.
type Reconciler struct {
	mu sync.Mutex

	rootLoaded bool
	forums     []*entity.Forum
	// loadedForums holds forums whose thread listing is materialized.
	loadedForums map[string]bool
	// threads are fully materialized threads with their message trees.
	threads     map[string]*entity.Thread
	threadForum map[string]string

	focus         Focus
	authenticated bool
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		loadedForums: make(map[string]bool),
		threads:      make(map[string]*entity.Thread),
		threadForum:  make(map[string]string),
	}
}

// LoadRoot materializes the forum listing.
func (r *Reconciler) LoadRoot(forums []*entity.Forum) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rootLoaded = true
	r.forums = r.forums[:0]
	// listings are shallow; thread listings must be loaded again
	clear(r.loadedForums)
	for _, f := range forums {
		r.forums = append(r.forums, f.Shallow())
	}
}

// LoadForum materializes one forum's thread listing.
func (r *Reconciler) LoadForum(forum *entity.Forum) {
	r.mu.Lock()
	defer r.mu.Unlock()
	local := r.forum(forum.ID)
	if local == nil {
		local = forum.Shallow()
		r.forums = append(r.forums, local)
	}
	local.Name, local.Icon = forum.Name, forum.Icon
	local.Threads = local.Threads[:0]
	for _, t := range forum.Threads {
		local.Threads = append(local.Threads, t.Shallow())
		r.threadForum[t.ID] = forum.ID
	}
	r.loadedForums[forum.ID] = true
}

// LoadThread materializes a thread and its whole message tree.
func (r *Reconciler) LoadThread(forumID string, thread *entity.Thread) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[thread.ID] = thread.Clone()
	r.threadForum[thread.ID] = forumID
}

func (r *Reconciler) SetFocus(f Focus) {
	r.mu.Lock()
	r.focus = f
	r.mu.Unlock()
}

func (r *Reconciler) Focus() Focus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.focus
}

func (r *Reconciler) SetAuthenticated(ok bool) {
	r.mu.Lock()
	r.authenticated = ok
	r.mu.Unlock()
}

func (r *Reconciler) Authenticated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authenticated
}

// Forums returns a copy of the materialized listing.
func (r *Reconciler) Forums() []*entity.Forum {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.Forum, 0, len(r.forums))
	for _, f := range r.forums {
		out = append(out, f.Clone())
	}
	return out
}

// Thread returns a copy of a materialized thread.
func (r *Reconciler) Thread(id string) (*entity.Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

func (r *Reconciler) Apply(record entity.ChangeRecord) (Effect, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch record.Action {
	case entity.ActionAdd:
		return r.applyAdd(record)
	case entity.ActionEdit, entity.ActionLike:
		return r.applyUpdate(record)
	case entity.ActionDelete:
		return r.applyDelete(record)
	case entity.ActionError:
		if record.EntityType == entity.EntityAuthentication {
			r.authenticated = false
			return Effect{Applied: true, SessionEnded: true}, nil
		}
		return Effect{}, nil
	}
	return Effect{}, fmt.Errorf("unknown action %q", record.Action)
}

func (r *Reconciler) applyAdd(record entity.ChangeRecord) (Effect, error) {
	switch record.EntityType {
	case entity.EntityForum:
		var f entity.Forum
		if err := json.Unmarshal(record.Payload, &f); err != nil {
			return Effect{}, err
		}
		if !r.rootLoaded || r.forum(f.ID) != nil {
			return Effect{}, nil
		}
		r.forums = append(r.forums, f.Shallow())
		return Effect{Applied: true}, nil

	case entity.EntityThread:
		var t entity.Thread
		if err := json.Unmarshal(record.Payload, &t); err != nil {
			return Effect{}, err
		}
		if record.Source == nil || !r.loadedForums[record.Source.ParentID] {
			return Effect{}, nil
		}
		forum := r.forum(record.Source.ParentID)
		if forum == nil || slices.ContainsFunc(forum.Threads, func(x *entity.Thread) bool { return x.ID == t.ID }) {
			return Effect{}, nil
		}
		forum.Threads = append(forum.Threads, t.Shallow())
		r.threadForum[t.ID] = forum.ID
		return Effect{Applied: true}, nil

	case entity.EntityMessage, entity.EntityReply:
		var m entity.Message
		if err := json.Unmarshal(record.Payload, &m); err != nil {
			return Effect{}, err
		}
		if record.Source == nil {
			return Effect{}, nil
		}
		return r.insertMessage(record.EntityType, record.Source, &m), nil
	}
	return Effect{}, nil
}

func (r *Reconciler) insertMessage(et entity.EntityType, src *entity.Source, m *entity.Message) Effect {
	threadID := src.ThreadID
	if et == entity.EntityMessage && threadID == "" {
		threadID = src.ParentID
	}

	for id, thread := range r.threads {
		if threadID != "" && id != threadID {
			continue
		}
		if findMessage(thread.Messages, m.ID) != nil {
			return Effect{}
		}
		if et == entity.EntityMessage {
			thread.Messages = append(thread.Messages, m.Clone())
			return Effect{Applied: true}
		}
		if parent := findMessage(thread.Messages, src.ParentID); parent != nil {
			parent.Replies = append(parent.Replies, m.Clone())
			return Effect{Applied: true}
		}
	}
	return Effect{}
}

func (r *Reconciler) applyUpdate(record entity.ChangeRecord) (Effect, error) {
	switch record.EntityType {
	case entity.EntityThread:
		var t entity.Thread
		if err := json.Unmarshal(record.Payload, &t); err != nil {
			return Effect{}, err
		}
		applied := false
		for _, forum := range r.forums {
			for _, local := range forum.Threads {
				if local.ID == t.ID {
					local.Title, local.Active = t.Title, t.Active
					applied = true
				}
			}
		}
		if local, ok := r.threads[t.ID]; ok {
			local.Title, local.Active = t.Title, t.Active
			applied = true
		}
		return Effect{Applied: applied}, nil

	case entity.EntityMessage, entity.EntityReply:
		var m entity.Message
		if err := json.Unmarshal(record.Payload, &m); err != nil {
			return Effect{}, err
		}
		applied := false
		r.eachMessage(func(local *entity.Message) {
			if local.ID != m.ID {
				return
			}
			local.Body = m.Body
			local.EditedAt = m.EditedAt
			local.Likes = append([]string{}, m.Likes...)
			local.Deleted = m.Deleted
			applied = true
		})
		return Effect{Applied: applied}, nil

	case entity.EntityUser:
		var a entity.Author
		if err := json.Unmarshal(record.Payload, &a); err != nil {
			return Effect{}, err
		}
		applied := false
		r.eachMessage(func(local *entity.Message) {
			if local.Author.ID == a.ID {
				local.Author = a
				applied = true
			}
		})
		return Effect{Applied: applied}, nil
	}
	return Effect{}, nil
}

func (r *Reconciler) applyDelete(record entity.ChangeRecord) (Effect, error) {
	var p entity.IDPayload
	if err := json.Unmarshal(record.Payload, &p); err != nil {
		return Effect{}, err
	}

	var effect Effect
	switch record.EntityType {
	case entity.EntityForum:
		for i, f := range r.forums {
			if f.ID == p.ID {
				r.forums = slices.Delete(r.forums, i, i+1)
				effect.Applied = true
				break
			}
		}
		delete(r.loadedForums, p.ID)
		if r.focus.ForumID == p.ID {
			effect.Navigate = r.navigate(Focus{})
		}

	case entity.EntityThread:
		for _, forum := range r.forums {
			n := len(forum.Threads)
			forum.Threads = slices.DeleteFunc(forum.Threads, func(t *entity.Thread) bool { return t.ID == p.ID })
			effect.Applied = effect.Applied || len(forum.Threads) != n
		}
		if _, ok := r.threads[p.ID]; ok {
			delete(r.threads, p.ID)
			effect.Applied = true
		}
		if r.focus.ThreadID == p.ID {
			forumID := r.focus.ForumID
			if forumID == "" {
				forumID = r.threadForum[p.ID]
			}
			effect.Navigate = r.navigate(Focus{ForumID: forumID})
		}

	case entity.EntityMessage, entity.EntityReply:
		r.eachMessage(func(local *entity.Message) {
			if local.ID == p.ID {
				local.Deleted = true
				local.Body = ""
				effect.Applied = true
			}
		})
		if r.focus.MessageID == p.ID {
			effect.Navigate = r.navigate(Focus{ForumID: r.focus.ForumID, ThreadID: r.focus.ThreadID})
		}
	}
	return effect, nil
}

func (r *Reconciler) navigate(to Focus) *Focus {
	r.focus = to
	return &to
}

func (r *Reconciler) forum(id string) *entity.Forum {
	for _, f := range r.forums {
		if f.ID == id {
			return f
		}
	}
	return nil
}

func (r *Reconciler) eachMessage(fn func(*entity.Message)) {
	var walk func([]*entity.Message)
	walk = func(msgs []*entity.Message) {
		for _, m := range msgs {
			fn(m)
			walk(m.Replies)
		}
	}
	for _, t := range r.threads {
		walk(t.Messages)
	}
}

func findMessage(msgs []*entity.Message, id string) *entity.Message {
	for _, m := range msgs {
		if m.ID == id {
			return m
		}
		if found := findMessage(m.Replies, id); found != nil {
			return found
		}
	}
	return nil
}
