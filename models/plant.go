package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Plant 代表使用者收藏的一株植物
// 所有的讀寫都必須以 (ID, UserID) 作為條件
type Plant struct {
	ID                   uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID               string       `gorm:"type:varchar(255);not null;index:idx_plants_user_id_created_at,priority:1;<-:create" json:"user_id"`
	PlantName            string       `gorm:"type:varchar(200);not null" json:"plant_name"`
	ScientificName       *string      `gorm:"type:varchar(200)" json:"scientific_name"`
	PlantType            PlantType    `gorm:"type:varchar(20);not null" json:"plant_type"`
	Status               PlantStatus  `gorm:"type:varchar(20);not null" json:"status"`
	Location             *string      `gorm:"type:varchar(200)" json:"location"`
	AcquisitionDate      *time.Time   `gorm:"type:date" json:"acquisition_date"`
	Description          *string      `gorm:"type:text" json:"description"`
	CareInstructions     *string      `gorm:"type:text" json:"care_instructions"`
	PreferredLighting    *Lighting    `gorm:"type:varchar(20)" json:"preferred_lighting"`
	PreferredHumidity    *Humidity    `gorm:"type:varchar(20)" json:"preferred_humidity"`
	PreferredTemperature *Temperature `gorm:"type:varchar(20)" json:"preferred_temperature"`
	CreatedAt            time.Time    `gorm:"index:idx_plants_user_id_created_at,priority:2" json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`

	// 外鍵關聯
	Images []PlantImage `gorm:"foreignKey:PlantID" json:"images,omitempty"`
}

func (p *Plant) BeforeCreate(tx *gorm.DB) error {
	if p.ID != uuid.Nil {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}
