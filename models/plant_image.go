package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PlantImage 代表植物的一張照片
// StoragePath 是物件儲存中的key，刪除後不會被重複使用
type PlantImage struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PlantID      uuid.UUID `gorm:"type:uuid;not null;index:idx_plant_images_plant_id_display_order,priority:1;<-:create" json:"plant_id"`
	UserID       string    `gorm:"type:varchar(255);not null;index;<-:create" json:"user_id"`
	StoragePath  string    `gorm:"type:text;not null;uniqueIndex;<-:create" json:"storage_path"`
	ImageURL     string    `gorm:"type:text;not null;<-:create" json:"image_url"`
	Caption      *string   `gorm:"type:varchar(200)" json:"caption"`
	IsPrimary    bool      `gorm:"not null" json:"is_primary"`
	DisplayOrder int       `gorm:"not null;index:idx_plant_images_plant_id_display_order,priority:2" json:"display_order"`
	CreatedAt    time.Time `json:"created_at"`
}

func (i *PlantImage) BeforeCreate(tx *gorm.DB) error {
	if i.ID != uuid.Nil {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	i.ID = id
	return nil
}
