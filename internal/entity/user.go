package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name         string    `gorm:"size:50;uniqueIndex;not null" json:"name"`
	Email        string    `gorm:"size:100;uniqueIndex;not null" json:"email"`
	PictureRef   string    `gorm:"type:text" json:"pictureRef"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	PasswordSalt string    `gorm:"size:64;not null" json:"-"`
	Admin        bool      `gorm:"default:false" json:"admin"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		u.ID = id.String()
	}
	return nil
}

// Snapshot captures the author fields copied onto a new message.
func (u *User) Snapshot() Author {
	return Author{
		ID:         u.ID,
		Name:       u.Name,
		PictureRef: u.PictureRef,
	}
}
