package database

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"verdant/models"
)

// Models 回傳需要遷移的所有資料表，atlas loader 也使用同一份清單
func Models() []any {
	return []any{&models.Plant{}, &models.PlantImage{}}
}

// Migrate 建立或更新資料表結構
func Migrate(db *gorm.DB) error {
	const op = "Migrate"
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("[%s] Fail to migrate schema, err=%w", op, err)
	}

	// 列表查詢常用的篩選欄位
	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_plants_user_id_plant_type ON plants(user_id, plant_type)",
		"CREATE INDEX IF NOT EXISTS idx_plants_user_id_status ON plants(user_id, status)",
	}
	for _, idx := range indices {
		if err := db.Exec(idx).Error; err != nil {
			slog.Warn("Fail to create index", slog.String("op", op), slog.String("statement", idx), slog.Any("error", err))
		}
	}
	return nil
}
