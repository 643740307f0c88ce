package service

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"anoa.com/threadforum/internal/entity"
	notifService "anoa.com/threadforum/internal/modules/notification/service"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

const subscriberID = "search-indexer"

type Subscriber interface {
	Subscribe(userID string) *notifService.Subscription
	Unsubscribe(sub *notifService.Subscription)
}

type messageDoc struct {
	ID         string `json:"id"`
	Body       string `json:"body"`
	ThreadID   string `json:"thread_id"`
	ParentID   string `json:"parent_id"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	CreatedAt  int64  `json:"created_at"`
}

type threadDoc struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	ForumID   string `json:"forum_id"`
	Active    bool   `json:"active"`
	CreatedAt int64  `json:"created_at"`
}

// Indexer mirrors message and thread changes from the bus into the search
// engine. It sees the same records observers do.
type Indexer struct {
	bus       Subscriber
	index     DocumentIndex
	sanitizer *bluemonday.Policy
	logger    *zap.Logger
}

func NewIndexer(bus Subscriber, index DocumentIndex, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		bus:       bus,
		index:     index,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
	}
}

// Run consumes records until ctx is done. If the bus drops the indexer for
// falling behind it subscribes again; records missed meanwhile stay missing.
func (ix *Indexer) Run(ctx context.Context) error {
	sub := ix.bus.Subscribe(subscriberID)
	defer func() { ix.bus.Unsubscribe(sub) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case record, ok := <-sub.C:
			if !ok {
				ix.logger.Warn("search indexer fell behind, resubscribing")
				sub = ix.bus.Subscribe(subscriberID)
				continue
			}
			if err := ix.Apply(record); err != nil {
				ix.logger.Warn("search index update failed",
					zap.String("action", string(record.Action)),
					zap.String("entity_type", string(record.EntityType)),
					zap.Error(err))
			}
		}
	}
}

// Apply indexes a single change record. Records that carry nothing
// searchable are ignored.
func (ix *Indexer) Apply(record entity.ChangeRecord) error {
	switch record.EntityType {
	case entity.EntityMessage, entity.EntityReply:
		return ix.applyMessage(record)
	case entity.EntityThread:
		return ix.applyThread(record)
	}
	return nil
}

func (ix *Indexer) applyMessage(record entity.ChangeRecord) error {
	switch record.Action {
	case entity.ActionDelete:
		var p entity.IDPayload
		if err := json.Unmarshal(record.Payload, &p); err != nil {
			return fmt.Errorf("decode delete payload: %w", err)
		}
		return ix.index.DeleteDocument(IndexMessages, p.ID)
	case entity.ActionAdd, entity.ActionEdit:
		var m entity.Message
		if err := json.Unmarshal(record.Payload, &m); err != nil {
			return fmt.Errorf("decode message payload: %w", err)
		}
		doc := messageDoc{
			ID:         m.ID,
			Body:       ix.plainText(m.Body),
			AuthorID:   m.Author.ID,
			AuthorName: m.Author.Name,
			CreatedAt:  m.CreatedAt.Unix(),
		}
		if record.Source != nil {
			doc.ThreadID = record.Source.ThreadID
			doc.ParentID = record.Source.ParentID
		}
		return ix.index.AddDocuments(IndexMessages, []messageDoc{doc})
	}
	return nil
}

func (ix *Indexer) applyThread(record entity.ChangeRecord) error {
	switch record.Action {
	case entity.ActionDelete:
		var p entity.IDPayload
		if err := json.Unmarshal(record.Payload, &p); err != nil {
			return fmt.Errorf("decode delete payload: %w", err)
		}
		return ix.index.DeleteDocument(IndexThreads, p.ID)
	case entity.ActionAdd, entity.ActionEdit:
		var t entity.Thread
		if err := json.Unmarshal(record.Payload, &t); err != nil {
			return fmt.Errorf("decode thread payload: %w", err)
		}
		doc := threadDoc{
			ID:        t.ID,
			Title:     t.Title,
			Active:    t.Active,
			CreatedAt: t.CreatedAt.Unix(),
		}
		if record.Source != nil {
			doc.ForumID = record.Source.ParentID
		}
		return ix.index.AddDocuments(IndexThreads, []threadDoc{doc})
	}
	return nil
}

// plainText strips markup so block boundaries become spaces.
func (ix *Indexer) plainText(body string) string {
	body = strings.ReplaceAll(body, "</p>", " ")
	body = strings.ReplaceAll(body, "<br>", " ")
	body = strings.ReplaceAll(body, "</div>", " ")
	text := html.UnescapeString(ix.sanitizer.Sanitize(body))
	return strings.Join(strings.Fields(text), " ")
}
