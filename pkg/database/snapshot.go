package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"anoa.com/threadforum/internal/modules/content/repository"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const snapshotRowID = 1

// ForumSnapshot holds the whole forest as a single JSONB row.
type ForumSnapshot struct {
	ID        uint           `gorm:"primaryKey;autoIncrement:false"`
	Data      datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time
}

// SnapshotStorage is a snapshot backend stored in postgres.
type SnapshotStorage struct {
	db *gorm.DB
}

func NewSnapshotStorage(db *gorm.DB) (*SnapshotStorage, error) {
	if err := db.AutoMigrate(&ForumSnapshot{}); err != nil {
		return nil, fmt.Errorf("migrate forum_snapshots: %w", err)
	}
	return &SnapshotStorage{db: db}, nil
}

func (s *SnapshotStorage) Read(ctx context.Context) ([]byte, error) {
	var row ForumSnapshot
	err := s.db.WithContext(ctx).First(&row, snapshotRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(row.Data), nil
}

func (s *SnapshotStorage) Write(ctx context.Context, data []byte) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := ForumSnapshot{ID: snapshotRowID, Data: datatypes.JSON(data), UpdatedAt: time.Now()}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).Create(&row).Error
	})
}
