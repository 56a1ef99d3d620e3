package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"verdant/models"
)

// File 已經過大小與類型檢查的上傳檔案
type File struct {
	Content     []byte
	ContentType string
	Extension   string
}

// ImageFields 圖片的部分更新，nil 代表不修改
type ImageFields struct {
	Caption      *string
	DisplayOrder *int
}

// OrderAssignment 重新排序時單張圖片的新順序
type OrderAssignment struct {
	ImageID      uuid.UUID
	DisplayOrder int
}

type managerOptions struct {
	logger *slog.Logger
	locker Locker
	queue  CleanupQueue
	now    func() time.Time
}

type ManagerOption func(*managerOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(o *managerOptions) {
		o.logger = logger
	}
}

// WithLocker 設置上傳時使用的植物鎖
func WithLocker(locker Locker) ManagerOption {
	return func(o *managerOptions) {
		o.locker = locker
	}
}

// WithCleanupQueue 設置殘留資料列的清理佇列
func WithCleanupQueue(queue CleanupQueue) ManagerOption {
	return func(o *managerOptions) {
		o.queue = queue
	}
}

// WithClock 設置時間來源 (主要用於測試)
func WithClock(now func() time.Time) ManagerOption {
	return func(o *managerOptions) {
		o.now = now
	}
}

// Manager 維護每株植物的圖片順序與唯一主圖，並協調檔案與資料列的生命週期
type Manager struct {
	db      *gorm.DB
	store   ObjectStore
	logger  *slog.Logger
	options managerOptions
}

func NewManager(db *gorm.DB, store ObjectStore, opts ...ManagerOption) (*Manager, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if store == nil {
		return nil, errors.New("object store cannot be nil")
	}
	options := managerOptions{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Manager{
		db:      db,
		store:   store,
		logger:  options.logger.With(slog.String("caller", "gallery.Manager")),
		options: options,
	}, nil
}

func (m *Manager) images(ctx context.Context, ownerID string) *gorm.DB {
	return m.db.WithContext(ctx).Model(&models.PlantImage{}).Where("user_id = ?", ownerID)
}

func (m *Manager) plantExists(ctx context.Context, ownerID string, plantID uuid.UUID) (bool, error) {
	var count int64
	result := m.db.WithContext(ctx).Model(&models.Plant{}).Where("id = ? AND user_id = ?", plantID, ownerID).Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

func (m *Manager) find(ctx context.Context, ownerID string, imageID uuid.UUID) (*models.PlantImage, error) {
	var image models.PlantImage
	if result := m.images(ctx, ownerID).Where("id = ?", imageID).First(&image); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &image, nil
}

// Upload 依序儲存每個檔案並建立資料列
// 新圖片排在既有圖片之後；只有植物原本沒有圖片時，第一張才可能成為主圖
// 中途失敗時已完成的圖片會保留，並與錯誤一起回傳
func (m *Manager) Upload(ctx context.Context, ownerID string, plantID uuid.UUID, files []File, caption *string, makePrimary bool) ([]models.PlantImage, error) {
	const op = "Upload"
	if len(files) == 0 {
		return nil, fmt.Errorf("[%s] %w: no files in upload batch", op, models.ErrInvalidInput)
	}
	exists, err := m.plantExists(ctx, ownerID, plantID)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w: Fail to check plant, err=%w", op, models.ErrPersistenceFailure, err)
	}
	if !exists {
		return nil, fmt.Errorf("[%s] %w: plant %s", op, models.ErrNotFound, plantID)
	}

	// 同一株植物的上傳需要序列化，否則兩個批次可能同時認為自己是第一批
	if m.options.locker != nil {
		lockCtx, unlock, err := m.options.locker.Acquire(ctx, "plant:"+plantID.String()+":images:lock")
		if err != nil {
			return nil, fmt.Errorf("[%s] %w: Fail to acquire plant lock, err=%w", op, models.ErrPersistenceFailure, err)
		}
		defer func() {
			if err := unlock(); err != nil {
				m.logger.Warn("Fail to release plant lock", slog.String("op", op), slog.String("plantID", plantID.String()), slog.Any("error", err))
			}
		}()
		ctx = lockCtx
	}

	// 批次開始前的圖片數量與最大順序
	var existing struct {
		Count    int64
		MaxOrder int
	}
	result := m.images(ctx, ownerID).
		Select("COUNT(*) AS count, COALESCE(MAX(display_order), -1) AS max_order").
		Where("plant_id = ?", plantID).
		Scan(&existing)
	if result.Error != nil {
		return nil, fmt.Errorf("[%s] %w: Fail to read existing images, err=%w", op, models.ErrPersistenceFailure, result.Error)
	}

	created := make([]models.PlantImage, 0, len(files))
	for i, file := range files {
		path, err := StoragePath(ownerID, plantID, file.Extension, m.options.now())
		if err != nil {
			return created, fmt.Errorf("[%s] %w: %w", op, models.ErrStorageFailure, err)
		}
		if err := m.store.Put(ctx, path, file.Content, file.ContentType); err != nil {
			return created, fmt.Errorf("[%s] %w: Fail to store file %d, err=%w", op, models.ErrStorageFailure, i, err)
		}
		image := models.PlantImage{
			PlantID:      plantID,
			UserID:       ownerID,
			StoragePath:  path,
			ImageURL:     m.store.PublicURL(path),
			Caption:      caption,
			IsPrimary:    i == 0 && makePrimary && existing.Count == 0,
			DisplayOrder: existing.MaxOrder + 1 + i,
		}
		if result := m.db.WithContext(ctx).Create(&image); result.Error != nil {
			m.logger.Error("Blob stored but row insert failed", slog.String("op", op), slog.String("path", path), slog.Any("error", result.Error))
			return created, fmt.Errorf("[%s] %w: Fail to create image %d, err=%w", op, models.ErrPersistenceFailure, i, result.Error)
		}
		created = append(created, image)
	}
	return created, nil
}

// ListByPlant 回傳植物的所有圖片，依照 display_order 排序
func (m *Manager) ListByPlant(ctx context.Context, ownerID string, plantID uuid.UUID) ([]models.PlantImage, error) {
	const op = "ListByPlant"
	images := []models.PlantImage{}
	result := m.images(ctx, ownerID).
		Where("plant_id = ?", plantID).
		Order("display_order ASC").
		Order("id ASC").
		Find(&images)
	if result.Error != nil {
		return nil, fmt.Errorf("[%s] %w: Fail to list images, err=%w", op, models.ErrPersistenceFailure, result.Error)
	}
	return images, nil
}

// SetPrimary 在同一個交易中先清除植物所有圖片的主圖標記，再設定目標圖片
func (m *Manager) SetPrimary(ctx context.Context, ownerID string, imageID uuid.UUID) (*models.PlantImage, error) {
	const op = "SetPrimary"
	var image models.PlantImage
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if result := tx.Where("id = ? AND user_id = ?", imageID, ownerID).First(&image); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: image %s", models.ErrNotFound, imageID)
			}
			return fmt.Errorf("%w: Fail to find image, err=%w", models.ErrPersistenceFailure, result.Error)
		}
		// 先清除再設定，任何時刻都不會出現兩張主圖
		result := tx.Model(&models.PlantImage{}).
			Where("plant_id = ? AND user_id = ?", image.PlantID, ownerID).
			Update("is_primary", false)
		if result.Error != nil {
			return fmt.Errorf("%w: Fail to clear primary, err=%w", models.ErrPersistenceFailure, result.Error)
		}
		if result := tx.Model(&image).Update("is_primary", true); result.Error != nil {
			return fmt.Errorf("%w: Fail to set primary, err=%w", models.ErrPersistenceFailure, result.Error)
		}
		image.IsPrimary = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	return &image, nil
}

// UpdateMetadata 只更新說明與順序，主圖只能透過 SetPrimary 修改
// 圖片不存在或不屬於使用者時回傳 nil
func (m *Manager) UpdateMetadata(ctx context.Context, ownerID string, imageID uuid.UUID, fields ImageFields) (*models.PlantImage, error) {
	const op = "UpdateMetadata"
	image, err := m.find(ctx, ownerID, imageID)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w: Fail to find image, err=%w", op, models.ErrPersistenceFailure, err)
	}
	if image == nil {
		return nil, nil
	}
	columns := make(map[string]any, 2)
	if fields.Caption != nil {
		columns["caption"] = *fields.Caption
	}
	if fields.DisplayOrder != nil {
		columns["display_order"] = *fields.DisplayOrder
	}
	if len(columns) == 0 {
		return image, nil
	}
	if result := m.images(ctx, ownerID).Where("id = ?", imageID).Updates(columns); result.Error != nil {
		return nil, fmt.Errorf("[%s] %w: Fail to update image, err=%w", op, models.ErrPersistenceFailure, result.Error)
	}
	if fields.Caption != nil {
		image.Caption = fields.Caption
	}
	if fields.DisplayOrder != nil {
		image.DisplayOrder = *fields.DisplayOrder
	}
	return image, nil
}

// Reorder 逐筆套用新的順序，不屬於該植物或使用者的圖片會被略過
// 資料庫錯誤會中止後續的指派，已套用的部分不會回滾
func (m *Manager) Reorder(ctx context.Context, ownerID string, plantID uuid.UUID, assignments []OrderAssignment) ([]models.PlantImage, error) {
	const op = "Reorder"
	if len(assignments) == 0 {
		return nil, fmt.Errorf("[%s] %w: no order assignments", op, models.ErrInvalidInput)
	}
	exists, err := m.plantExists(ctx, ownerID, plantID)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w: Fail to check plant, err=%w", op, models.ErrPersistenceFailure, err)
	}
	if !exists {
		return nil, fmt.Errorf("[%s] %w: plant %s", op, models.ErrNotFound, plantID)
	}
	for _, assignment := range assignments {
		result := m.images(ctx, ownerID).
			Where("id = ? AND plant_id = ?", assignment.ImageID, plantID).
			Update("display_order", assignment.DisplayOrder)
		if result.Error != nil {
			return nil, fmt.Errorf("[%s] %w: Fail to reorder image %s, err=%w", op, models.ErrPersistenceFailure, assignment.ImageID, result.Error)
		}
		if result.RowsAffected == 0 {
			m.logger.Warn("Skip reorder of unknown image", slog.String("op", op), slog.String("imageID", assignment.ImageID.String()), slog.String("plantID", plantID.String()))
		}
	}
	images, err := m.ListByPlant(ctx, ownerID, plantID)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	return images, nil
}

// Delete 先刪除檔案，成功後才刪除資料列
func (m *Manager) Delete(ctx context.Context, ownerID string, imageID uuid.UUID) error {
	const op = "Delete"
	image, err := m.find(ctx, ownerID, imageID)
	if err != nil {
		return fmt.Errorf("[%s] %w: Fail to find image, err=%w", op, models.ErrPersistenceFailure, err)
	}
	if image == nil {
		return fmt.Errorf("[%s] %w: image %s", op, models.ErrNotFound, imageID)
	}
	return m.delete(ctx, image)
}

// DeleteAllForPlant 刪除植物的所有圖片，遇到第一個錯誤就停止
func (m *Manager) DeleteAllForPlant(ctx context.Context, ownerID string, plantID uuid.UUID) error {
	const op = "DeleteAllForPlant"
	images, err := m.ListByPlant(ctx, ownerID, plantID)
	if err != nil {
		return fmt.Errorf("[%s] %w", op, err)
	}
	for i := range images {
		if err := m.delete(ctx, &images[i]); err != nil {
			return fmt.Errorf("[%s] %w", op, err)
		}
	}
	return nil
}

func (m *Manager) delete(ctx context.Context, image *models.PlantImage) error {
	const op = "delete"
	if err := m.store.Delete(ctx, image.StoragePath); err != nil {
		return fmt.Errorf("[%s] %w: Fail to delete blob %s, err=%w", op, models.ErrStorageFailure, image.StoragePath, err)
	}
	result := m.db.WithContext(ctx).Where("id = ? AND user_id = ?", image.ID, image.UserID).Delete(&models.PlantImage{})
	if result.Error == nil {
		return nil
	}
	// 資料列仍然存在，刪除不算完成；清理工作只負責之後補刪
	deleteErr := fmt.Errorf("[%s] %w: blob removed but row delete failed, image=%s, err=%w", op, models.ErrPersistenceFailure, image.ID, result.Error)
	if m.options.queue == nil {
		return deleteErr
	}
	job := CleanupJob{ImageID: image.ID, OwnerID: image.UserID, StoragePath: image.StoragePath}
	if err := m.options.queue.Publish(ctx, job); err != nil {
		m.logger.Error("Fail to queue cleanup job", slog.String("op", op), slog.String("imageID", image.ID.String()), slog.Any("error", err))
		return deleteErr
	}
	m.logger.Warn("Row delete failed after blob removal, cleanup queued",
		slog.String("op", op),
		slog.String("imageID", image.ID.String()),
		slog.Any("error", result.Error),
	)
	return deleteErr
}

// CountUploadedSince 計算使用者在指定時間後上傳的圖片數量
func (m *Manager) CountUploadedSince(ctx context.Context, ownerID string, since time.Time) (int64, error) {
	const op = "CountUploadedSince"
	var count int64
	if result := m.images(ctx, ownerID).Where("created_at > ?", since).Count(&count); result.Error != nil {
		return 0, fmt.Errorf("[%s] %w: Fail to count uploaded images, err=%w", op, models.ErrPersistenceFailure, result.Error)
	}
	return count, nil
}
