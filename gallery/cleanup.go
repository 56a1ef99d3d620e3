package gallery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"verdant/models"
)

// CleanupJob 檔案已刪除但資料列仍存在的圖片
type CleanupJob struct {
	ImageID     uuid.UUID `msgpack:"image_id"`
	OwnerID     string    `msgpack:"owner_id"`
	StoragePath string    `msgpack:"storage_path"`
}

// CompleteCleanup 刪除殘留的資料列，資料列已不存在時視為成功
func (m *Manager) CompleteCleanup(ctx context.Context, job CleanupJob) error {
	const op = "CompleteCleanup"
	result := m.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND storage_path = ?", job.ImageID, job.OwnerID, job.StoragePath).
		Delete(&models.PlantImage{})
	if result.Error != nil {
		return fmt.Errorf("[%s] %w: Fail to delete orphaned row, image=%s, err=%w", op, models.ErrPersistenceFailure, job.ImageID, result.Error)
	}
	m.logger.Info("Orphaned image row cleaned",
		slog.String("op", op),
		slog.String("imageID", job.ImageID.String()),
		slog.Int64("rows", result.RowsAffected),
	)
	return nil
}
