package service

import (
	"github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const (
	IndexMessages = "messages"
	IndexThreads  = "threads"
)

// DocumentIndex is the part of the search engine the indexer writes to.
type DocumentIndex interface {
	AddDocuments(index string, docs any) error
	DeleteDocument(index, id string) error
}

type meiliIndex struct {
	client meilisearch.ServiceManager
	logger *zap.Logger
}

// NewMeiliIndex wraps a meilisearch client and sets up sorting on both
// indexes. Setup failures are logged; indexing is best effort.
func NewMeiliIndex(client meilisearch.ServiceManager, logger *zap.Logger) DocumentIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &meiliIndex{client: client, logger: logger}
	m.initIndexes()
	return m
}

func (m *meiliIndex) initIndexes() {
	sortable := []string{"created_at"}
	for _, index := range []string{IndexMessages, IndexThreads} {
		if _, err := m.client.Index(index).UpdateSortableAttributes(&sortable); err != nil {
			m.logger.Warn("failed to update sortable attributes", zap.String("index", index), zap.Error(err))
		}
	}
	m.logger.Info("meilisearch indexes initialized")
}

func (m *meiliIndex) AddDocuments(index string, docs any) error {
	task, err := m.client.Index(index).AddDocuments(docs, strPtr("id"))
	if err != nil {
		return err
	}
	m.logger.Debug("documents queued", zap.String("index", index), zap.Int64("task_uid", task.TaskUID))
	return nil
}

func (m *meiliIndex) DeleteDocument(index, id string) error {
	_, err := m.client.Index(index).DeleteDocument(id)
	return err
}

func strPtr(s string) *string {
	return &s
}
