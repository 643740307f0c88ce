package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"anoa.com/threadforum/internal/entity"
	"anoa.com/threadforum/pkg/apperror"
)

// ErrSnapshotNotFound is returned by a Backend that has never been written.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Backend is the persistence contract consumed by ContentStore.
type Backend interface {
	// Read returns the last written snapshot, or ErrSnapshotNotFound.
	Read(ctx context.Context) ([]byte, error)
	// Write replaces the stored snapshot.
	Write(ctx context.Context, data []byte) error
}

// Forest is the whole content tree held by the store.
type Forest struct {
	Forums []*entity.Forum
}

func NewForest() *Forest {
	return &Forest{Forums: []*entity.Forum{}}
}

// Clone returns a deep copy sharing no nodes with f.
func (f *Forest) Clone() *Forest {
	c := &Forest{Forums: make([]*entity.Forum, 0, len(f.Forums))}
	for _, forum := range f.Forums {
		c.Forums = append(c.Forums, forum.Clone())
	}
	return c
}

// EncodeSnapshot serializes the forest as a JSON array of forum records.
func EncodeSnapshot(f *Forest) ([]byte, error) {
	normalize(f)
	return json.Marshal(f.Forums)
}

// DecodeSnapshot validates raw against the snapshot schema and decodes it.
// Every failure wraps apperror.ErrCorruptData.
func DecodeSnapshot(raw []byte) (*Forest, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return NewForest(), nil
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %v: %w", err, apperror.ErrCorruptData)
	}

	v := &schemaValidator{seen: map[string]string{}}
	if err := v.forest(doc); err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperror.ErrCorruptData)
	}

	var forums []*entity.Forum
	if err := json.Unmarshal(raw, &forums); err != nil {
		return nil, fmt.Errorf("decode snapshot: %v: %w", err, apperror.ErrCorruptData)
	}
	f := &Forest{Forums: forums}
	normalize(f)
	return f, nil
}

// normalize replaces nil slices so they serialize as [] rather than null.
func normalize(f *Forest) {
	if f.Forums == nil {
		f.Forums = []*entity.Forum{}
	}
	for _, forum := range f.Forums {
		if forum.Threads == nil {
			forum.Threads = []*entity.Thread{}
		}
		for _, t := range forum.Threads {
			if t.Messages == nil {
				t.Messages = []*entity.Message{}
			}
			for _, m := range t.Messages {
				normalizeMessage(m)
			}
		}
	}
}

func normalizeMessage(m *entity.Message) {
	if m.Likes == nil {
		m.Likes = []string{}
	}
	if m.Replies == nil {
		m.Replies = []*entity.Message{}
	}
	for _, r := range m.Replies {
		normalizeMessage(r)
	}
}

type schemaValidator struct {
	seen map[string]string
}

func (v *schemaValidator) forest(doc any) error {
	forums, ok := doc.([]any)
	if !ok {
		return errors.New("snapshot root is not an array")
	}
	for i, raw := range forums {
		if err := v.forum(raw); err != nil {
			return fmt.Errorf("forum[%d]: %w", i, err)
		}
	}
	return nil
}

func (v *schemaValidator) forum(raw any) error {
	obj, ok := raw.(map[string]any)
	if !ok {
		return errors.New("not an object")
	}
	id, err := v.id(obj, "forum")
	if err != nil {
		return err
	}
	if _, err := requireString(obj, "name", false); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	if err := optionalString(obj, "icon"); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	threads, err := requireArray(obj, "threads")
	if err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	for i, t := range threads {
		if err := v.thread(t); err != nil {
			return fmt.Errorf("%s: thread[%d]: %w", id, i, err)
		}
	}
	return nil
}

func (v *schemaValidator) thread(raw any) error {
	obj, ok := raw.(map[string]any)
	if !ok {
		return errors.New("not an object")
	}
	id, err := v.id(obj, "thread")
	if err != nil {
		return err
	}
	if _, err := requireString(obj, "title", false); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	if err := requireTime(obj, "createdAt"); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	if err := requireBool(obj, "active", true); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	if err := requireBool(obj, "deleted", false); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	messages, err := requireArray(obj, "messages")
	if err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	for i, m := range messages {
		if err := v.message(m); err != nil {
			return fmt.Errorf("%s: message[%d]: %w", id, i, err)
		}
	}
	return nil
}

func (v *schemaValidator) message(raw any) error {
	obj, ok := raw.(map[string]any)
	if !ok {
		return errors.New("not an object")
	}
	id, err := v.id(obj, "message")
	if err != nil {
		return err
	}
	author, ok := obj["author"].(map[string]any)
	if !ok {
		return fmt.Errorf("%s: missing author", id)
	}
	if _, err := requireString(author, "id", false); err != nil {
		return fmt.Errorf("%s: author: %w", id, err)
	}
	if err := optionalString(author, "name"); err != nil {
		return fmt.Errorf("%s: author: %w", id, err)
	}
	if err := optionalString(author, "pictureRef"); err != nil {
		return fmt.Errorf("%s: author: %w", id, err)
	}
	if _, err := requireString(obj, "body", true); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	if err := requireTime(obj, "createdAt"); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	if err := requireBool(obj, "deleted", false); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	if likes, present := obj["likes"]; present {
		arr, ok := likes.([]any)
		if !ok {
			return fmt.Errorf("%s: likes is not an array", id)
		}
		seen := make(map[string]bool, len(arr))
		for _, l := range arr {
			userID, ok := l.(string)
			if !ok {
				return fmt.Errorf("%s: likes contains a non-string", id)
			}
			if seen[userID] {
				return fmt.Errorf("%s: user %q liked twice", id, userID)
			}
			seen[userID] = true
		}
	}
	replies, err := requireArray(obj, "replies")
	if err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	for i, r := range replies {
		if err := v.message(r); err != nil {
			return fmt.Errorf("%s: reply[%d]: %w", id, i, err)
		}
	}
	return nil
}

func (v *schemaValidator) id(obj map[string]any, kind string) (string, error) {
	id, err := requireString(obj, "id", false)
	if err != nil {
		return "", fmt.Errorf("%s: %w", kind, err)
	}
	if prev, dup := v.seen[id]; dup {
		return "", fmt.Errorf("duplicate id %q (%s and %s)", id, prev, kind)
	}
	v.seen[id] = kind
	return id, nil
}

func requireString(obj map[string]any, key string, allowEmpty bool) (string, error) {
	raw, present := obj[key]
	if !present {
		return "", fmt.Errorf("missing field %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("field %q is not a string", key)
	}
	if s == "" && !allowEmpty {
		return "", fmt.Errorf("field %q is empty", key)
	}
	return s, nil
}

func optionalString(obj map[string]any, key string) error {
	raw, present := obj[key]
	if !present {
		return nil
	}
	if _, ok := raw.(string); !ok {
		return fmt.Errorf("field %q is not a string", key)
	}
	return nil
}

func requireBool(obj map[string]any, key string, required bool) error {
	raw, present := obj[key]
	if !present {
		if required {
			return fmt.Errorf("missing field %q", key)
		}
		return nil
	}
	if _, ok := raw.(bool); !ok {
		return fmt.Errorf("field %q is not a boolean", key)
	}
	return nil
}

func requireTime(obj map[string]any, key string) error {
	s, err := requireString(obj, key, false)
	if err != nil {
		return err
	}
	if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
		return fmt.Errorf("field %q is not a timestamp", key)
	}
	return nil
}

func requireArray(obj map[string]any, key string) ([]any, error) {
	raw, present := obj[key]
	if !present {
		return nil, fmt.Errorf("missing field %q", key)
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q is not an array", key)
	}
	return arr, nil
}
