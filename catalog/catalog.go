package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"verdant/models"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
)

// 可以排序的欄位
var sortableColumns = map[string]struct{}{
	"created_at":       {},
	"updated_at":       {},
	"plant_name":       {},
	"scientific_name":  {},
	"acquisition_date": {},
	"plant_type":       {},
	"status":           {},
}

// PlantFields 建立或部分更新植物時使用，nil 代表不修改
type PlantFields struct {
	PlantName            *string
	ScientificName       *string
	PlantType            *models.PlantType
	Status               *models.PlantStatus
	Location             *string
	AcquisitionDate      *time.Time
	Description          *string
	CareInstructions     *string
	PreferredLighting    *models.Lighting
	PreferredHumidity    *models.Humidity
	PreferredTemperature *models.Temperature
}

func (f PlantFields) columns() map[string]any {
	columns := make(map[string]any)
	if f.PlantName != nil {
		columns["plant_name"] = *f.PlantName
	}
	if f.ScientificName != nil {
		columns["scientific_name"] = *f.ScientificName
	}
	if f.PlantType != nil {
		columns["plant_type"] = *f.PlantType
	}
	if f.Status != nil {
		columns["status"] = *f.Status
	}
	if f.Location != nil {
		columns["location"] = *f.Location
	}
	if f.AcquisitionDate != nil {
		columns["acquisition_date"] = *f.AcquisitionDate
	}
	if f.Description != nil {
		columns["description"] = *f.Description
	}
	if f.CareInstructions != nil {
		columns["care_instructions"] = *f.CareInstructions
	}
	if f.PreferredLighting != nil {
		columns["preferred_lighting"] = *f.PreferredLighting
	}
	if f.PreferredHumidity != nil {
		columns["preferred_humidity"] = *f.PreferredHumidity
	}
	if f.PreferredTemperature != nil {
		columns["preferred_temperature"] = *f.PreferredTemperature
	}
	return columns
}

// ListFilter 列表查詢的條件，零值代表使用預設
type ListFilter struct {
	PlantType *models.PlantType
	Status    *models.PlantStatus
	Search    string
	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// ImageThumb 列表中每株植物附帶的精簡圖片資訊
type ImageThumb struct {
	ID        uuid.UUID `json:"id"`
	PlantID   uuid.UUID `json:"-"`
	ImageURL  string    `json:"image_url"`
	IsPrimary bool      `json:"is_primary"`
}

type ListedPlant struct {
	models.Plant
	Images []ImageThumb `json:"images"`
}

type ListResult struct {
	Data       []ListedPlant `json:"data"`
	Pagination Pagination    `json:"pagination"`
}

type Statistics struct {
	Total    int64            `json:"total"`
	ByType   map[string]int64 `json:"by_type"`
	ByStatus map[string]int64 `json:"by_status"`
}

// Catalog 管理使用者的植物資料
type Catalog struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

// owned 所有查詢的起點，強制加上擁有者條件
func (c *Catalog) owned(ctx context.Context, ownerID string) *gorm.DB {
	return c.db.WithContext(ctx).Model(&models.Plant{}).Where("plants.user_id = ?", ownerID)
}

func (c *Catalog) Create(ctx context.Context, ownerID string, fields PlantFields) (*models.Plant, error) {
	const op = "Catalog.Create"
	plant := models.Plant{
		UserID:               ownerID,
		ScientificName:       fields.ScientificName,
		Location:             fields.Location,
		AcquisitionDate:      fields.AcquisitionDate,
		Description:          fields.Description,
		CareInstructions:     fields.CareInstructions,
		PreferredLighting:    fields.PreferredLighting,
		PreferredHumidity:    fields.PreferredHumidity,
		PreferredTemperature: fields.PreferredTemperature,
		Status:               models.PlantStatusAlive,
	}
	if fields.PlantName != nil {
		plant.PlantName = *fields.PlantName
	}
	if fields.PlantType != nil {
		plant.PlantType = *fields.PlantType
	}
	if fields.Status != nil {
		plant.Status = *fields.Status
	}
	if result := c.db.WithContext(ctx).Create(&plant); result.Error != nil {
		return nil, fmt.Errorf("[%s] %w: Fail to create plant, err=%w", op, models.ErrPersistenceFailure, result.Error)
	}
	return &plant, nil
}

// GetByID 取得植物及其完整的圖片清單，不存在或不屬於使用者時回傳 nil
func (c *Catalog) GetByID(ctx context.Context, ownerID string, plantID uuid.UUID) (*models.Plant, error) {
	const op = "Catalog.GetByID"
	var plant models.Plant
	result := c.owned(ctx, ownerID).
		Preload("Images", func(db *gorm.DB) *gorm.DB {
			return db.Where("user_id = ?", ownerID).Order("display_order ASC").Order("id ASC")
		}).
		Where("plants.id = ?", plantID).
		First(&plant)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("[%s] %w: Fail to find plant, err=%w", op, models.ErrPersistenceFailure, result.Error)
	}
	if plant.Images == nil {
		plant.Images = []models.PlantImage{}
	}
	return &plant, nil
}

// Exists 只確認植物是否存在且屬於使用者
func (c *Catalog) Exists(ctx context.Context, ownerID string, plantID uuid.UUID) (bool, error) {
	const op = "Catalog.Exists"
	var count int64
	if result := c.owned(ctx, ownerID).Where("plants.id = ?", plantID).Count(&count); result.Error != nil {
		return false, fmt.Errorf("[%s] %w: Fail to count plant, err=%w", op, models.ErrPersistenceFailure, result.Error)
	}
	return count > 0, nil
}

func (c *Catalog) List(ctx context.Context, ownerID string, filter ListFilter) (*ListResult, error) {
	const op = "Catalog.List"
	// 建立查詢
	query := c.owned(ctx, ownerID)
	//  - plant_type
	if filter.PlantType != nil {
		query = query.Where("plant_type = ?", *filter.PlantType)
	}
	//  - status
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	//  - search，不分大小寫比對名稱或學名
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		query = query.Where(searchCondition(c.db.Dialector.Name()), pattern, pattern)
	}

	// 先計算符合條件的總數
	var total int64
	if result := query.Session(&gorm.Session{}).Count(&total); result.Error != nil {
		return nil, fmt.Errorf("[%s] %w: Fail to count plants, err=%w", op, models.ErrPersistenceFailure, result.Error)
	}

	//  - sort
	sortKey, desc := "created_at", true
	if filter.SortBy != "" {
		if _, ok := sortableColumns[filter.SortBy]; !ok {
			return nil, fmt.Errorf("[%s] %w: unknown sort key %q", op, models.ErrInvalidInput, filter.SortBy)
		}
		sortKey = filter.SortBy
	}
	switch strings.ToLower(filter.SortOrder) {
	case "":
	case "asc":
		desc = false
	case "desc":
		desc = true
	default:
		return nil, fmt.Errorf("[%s] %w: unknown sort order %q", op, models.ErrInvalidInput, filter.SortOrder)
	}
	query = query.Order(clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: sortKey}, Desc: desc},
		{Column: clause.Column{Name: "id"}, Desc: false},
	}})

	//  - page / limit
	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	query = query.Offset((page - 1) * limit).Limit(limit)

	var plants []models.Plant
	if result := query.Find(&plants); result.Error != nil {
		return nil, fmt.Errorf("[%s] %w: Fail to list plants, err=%w", op, models.ErrPersistenceFailure, result.Error)
	}

	thumbs, err := c.thumbs(ctx, ownerID, plants)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	listed := make([]ListedPlant, len(plants))
	for i, plant := range plants {
		listed[i] = ListedPlant{Plant: plant, Images: thumbs[plant.ID]}
		if listed[i].Images == nil {
			listed[i].Images = []ImageThumb{}
		}
	}

	return &ListResult{
		Data: listed,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: int(math.Ceil(float64(total) / float64(limit))),
		},
	}, nil
}

// thumbs 一次取出整頁植物的精簡圖片資訊
func (c *Catalog) thumbs(ctx context.Context, ownerID string, plants []models.Plant) (map[uuid.UUID][]ImageThumb, error) {
	out := make(map[uuid.UUID][]ImageThumb, len(plants))
	if len(plants) == 0 {
		return out, nil
	}
	ids := make([]uuid.UUID, len(plants))
	for i, plant := range plants {
		ids[i] = plant.ID
	}
	var rows []ImageThumb
	result := c.db.WithContext(ctx).
		Model(&models.PlantImage{}).
		Select("id", "plant_id", "image_url", "is_primary").
		Where("plant_id IN ? AND user_id = ?", ids, ownerID).
		Order("display_order ASC").
		Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("%w: Fail to list image thumbs, err=%w", models.ErrPersistenceFailure, result.Error)
	}
	for _, row := range rows {
		out[row.PlantID] = append(out[row.PlantID], row)
	}
	return out, nil
}

// Update 部分更新植物，不存在或不屬於使用者時回傳 nil
func (c *Catalog) Update(ctx context.Context, ownerID string, plantID uuid.UUID, fields PlantFields) (*models.Plant, error) {
	const op = "Catalog.Update"
	var plant models.Plant
	if result := c.owned(ctx, ownerID).Where("plants.id = ?", plantID).First(&plant); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("[%s] %w: Fail to find plant, err=%w", op, models.ErrPersistenceFailure, result.Error)
	}
	columns := fields.columns()
	if len(columns) == 0 {
		return &plant, nil
	}
	if result := c.db.WithContext(ctx).Model(&plant).Where("user_id = ?", ownerID).Updates(columns); result.Error != nil {
		return nil, fmt.Errorf("[%s] %w: Fail to update plant, err=%w", op, models.ErrPersistenceFailure, result.Error)
	}
	if result := c.owned(ctx, ownerID).Where("plants.id = ?", plantID).First(&plant); result.Error != nil {
		return nil, fmt.Errorf("[%s] %w: Fail to reload plant, err=%w", op, models.ErrPersistenceFailure, result.Error)
	}
	return &plant, nil
}

// Delete 只刪除植物本身，圖片需要由呼叫端先透過 gallery 清除
func (c *Catalog) Delete(ctx context.Context, ownerID string, plantID uuid.UUID) error {
	const op = "Catalog.Delete"
	result := c.db.WithContext(ctx).Where("id = ? AND user_id = ?", plantID, ownerID).Delete(&models.Plant{})
	if result.Error != nil {
		return fmt.Errorf("[%s] %w: Fail to delete plant, err=%w", op, models.ErrPersistenceFailure, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("[%s] %w: plant %s", op, models.ErrNotFound, plantID)
	}
	return nil
}

func (c *Catalog) Statistics(ctx context.Context, ownerID string) (*Statistics, error) {
	const op = "Catalog.Statistics"
	var rows []struct {
		PlantType string
		Status    string
		Count     int64
	}
	result := c.owned(ctx, ownerID).
		Select("plant_type, status, COUNT(*) AS count").
		Group("plant_type, status").
		Scan(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("[%s] %w: Fail to aggregate plants, err=%w", op, models.ErrPersistenceFailure, result.Error)
	}
	stats := &Statistics{
		ByType:   make(map[string]int64),
		ByStatus: make(map[string]int64),
	}
	for _, row := range rows {
		stats.Total += row.Count
		stats.ByType[row.PlantType] += row.Count
		stats.ByStatus[row.Status] += row.Count
	}
	return stats, nil
}

// searchCondition postgres 使用 ILIKE 處理非 ASCII 字元的大小寫；
// sqlite 的 LOWER 只轉換 ASCII
func searchCondition(dialect string) string {
	if dialect == "postgres" {
		return `(plant_name ILIKE ? ESCAPE '\' OR scientific_name ILIKE ? ESCAPE '\')`
	}
	return `(LOWER(plant_name) LIKE ? ESCAPE '\' OR LOWER(scientific_name) LIKE ? ESCAPE '\')`
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
