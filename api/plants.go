package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"verdant/catalog"
	"verdant/models"
)

const dateLayout = "2006-01-02"

// PlantAttributes 建立與更新共用的選填欄位
type PlantAttributes struct {
	ScientificName       *string `json:"scientific_name" binding:"omitempty,max=200"`
	Status               *string `json:"status" binding:"omitempty,oneof=alive dead sick flowering"`
	Location             *string `json:"location" binding:"omitempty,max=200"`
	AcquisitionDate      *string `json:"acquisition_date" binding:"omitempty,datetime=2006-01-02"`
	Description          *string `json:"description" binding:"omitempty,max=1000"`
	CareInstructions     *string `json:"care_instructions" binding:"omitempty,max=1000"`
	PreferredLighting    *string `json:"preferred_lighting" binding:"omitempty,oneof=full_sun partial_sun indirect_light low_light"`
	PreferredHumidity    *string `json:"preferred_humidity" binding:"omitempty,oneof=dry normal humid"`
	PreferredTemperature *string `json:"preferred_temperature" binding:"omitempty,oneof=cool moderate warm"`
}

type CreatePlantRequest struct {
	PlantName string `json:"plant_name" binding:"required,min=2,max=200"`
	PlantType string `json:"plant_type" binding:"required,oneof=herb shrub tree climber creeper"`
	PlantAttributes
}

type UpdatePlantRequest struct {
	PlantName *string `json:"plant_name" binding:"omitempty,min=2,max=200"`
	PlantType *string `json:"plant_type" binding:"omitempty,oneof=herb shrub tree climber creeper"`
	PlantAttributes
}

type ListPlantsQuery struct {
	Page      int    `form:"page" binding:"omitempty,min=1"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=100"`
	PlantType string `form:"plant_type" binding:"omitempty,oneof=herb shrub tree climber creeper"`
	Status    string `form:"status" binding:"omitempty,oneof=alive dead sick flowering"`
	Search    string `form:"search" binding:"omitempty,max=200"`
	SortBy    string `form:"sort_by" binding:"omitempty,oneof=created_at updated_at plant_name scientific_name acquisition_date plant_type status"`
	SortOrder string `form:"sort_order" binding:"omitempty,oneof=asc desc"`
}

type idURI struct {
	ID string `uri:"id" binding:"required,uuid"`
}

type plantIDURI struct {
	PlantID string `uri:"plantId" binding:"required,uuid"`
}

// bindID 解析路徑中的 id，格式錯誤時直接回應 400
func bindID(c *gin.Context) (uuid.UUID, bool) {
	var uri idURI
	if err := c.ShouldBindUri(&uri); err != nil {
		abort(c, http.StatusBadRequest, bindingMessage(err))
		return uuid.Nil, false
	}
	return uuid.MustParse(uri.ID), true
}

func bindPlantID(c *gin.Context) (uuid.UUID, bool) {
	var uri plantIDURI
	if err := c.ShouldBindUri(&uri); err != nil {
		abort(c, http.StatusBadRequest, bindingMessage(err))
		return uuid.Nil, false
	}
	return uuid.MustParse(uri.PlantID), true
}

func (impl *ServerImpl) sanitize(s *string) *string {
	if s == nil {
		return nil
	}
	return lo.ToPtr(impl.htmlChecker.Sanitize(*s))
}

func (impl *ServerImpl) attributeFields(attrs PlantAttributes) (catalog.PlantFields, error) {
	fields := catalog.PlantFields{
		ScientificName:       attrs.ScientificName,
		Status:               (*models.PlantStatus)(attrs.Status),
		Location:             attrs.Location,
		Description:          impl.sanitize(attrs.Description),
		CareInstructions:     impl.sanitize(attrs.CareInstructions),
		PreferredLighting:    (*models.Lighting)(attrs.PreferredLighting),
		PreferredHumidity:    (*models.Humidity)(attrs.PreferredHumidity),
		PreferredTemperature: (*models.Temperature)(attrs.PreferredTemperature),
	}
	if attrs.AcquisitionDate != nil {
		date, err := time.Parse(dateLayout, *attrs.AcquisitionDate)
		if err != nil {
			return fields, fmt.Errorf("%w: acquisition_date, err=%w", models.ErrInvalidInput, err)
		}
		fields.AcquisitionDate = &date
	}
	return fields, nil
}

// List plants of the current owner
// (GET /api/v1/plants)
func (impl *ServerImpl) ListPlants(c *gin.Context) {
	const op = "ListPlants"
	var query ListPlantsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		abort(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	filter := catalog.ListFilter{
		Search:    query.Search,
		SortBy:    query.SortBy,
		SortOrder: query.SortOrder,
		Page:      query.Page,
		Limit:     query.Limit,
	}
	if query.PlantType != "" {
		filter.PlantType = lo.ToPtr(models.PlantType(query.PlantType))
	}
	if query.Status != "" {
		filter.Status = lo.ToPtr(models.PlantStatus(query.Status))
	}
	result, err := impl.catalog.List(c.Request.Context(), ownerID(c), filter)
	if err != nil {
		abortWithError(c, op, err, nil)
		return
	}
	respond(c, http.StatusOK, "Plants retrieved", result)
}

// Count plants by type and status
// (GET /api/v1/plants/statistics)
func (impl *ServerImpl) GetStatistics(c *gin.Context) {
	const op = "GetStatistics"
	stats, err := impl.catalog.Statistics(c.Request.Context(), ownerID(c))
	if err != nil {
		abortWithError(c, op, err, nil)
		return
	}
	respond(c, http.StatusOK, "Statistics retrieved", gin.H{"stats": stats})
}

// Get a plant with its images
// (GET /api/v1/plants/{id})
func (impl *ServerImpl) GetPlant(c *gin.Context) {
	const op = "GetPlant"
	plantID, ok := bindID(c)
	if !ok {
		return
	}
	plant, err := impl.catalog.GetByID(c.Request.Context(), ownerID(c), plantID)
	if err != nil {
		abortWithError(c, op, err, nil)
		return
	}
	if plant == nil {
		abort(c, http.StatusNotFound, "Plant not found")
		return
	}
	respond(c, http.StatusOK, "Plant retrieved", gin.H{"plant": plant})
}

// Add a plant
// (POST /api/v1/plants)
func (impl *ServerImpl) CreatePlant(c *gin.Context) {
	const op = "CreatePlant"
	var request CreatePlantRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		abort(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	fields, err := impl.attributeFields(request.PlantAttributes)
	if err != nil {
		abortWithError(c, op, err, nil)
		return
	}
	fields.PlantName = &request.PlantName
	fields.PlantType = lo.ToPtr(models.PlantType(request.PlantType))

	plant, err := impl.catalog.Create(c.Request.Context(), ownerID(c), fields)
	if err != nil {
		abortWithError(c, op, err, nil)
		return
	}
	c.Header("Location", "/api/v1/plants/"+plant.ID.String())
	respond(c, http.StatusCreated, "Plant created", gin.H{"plant": plant})
}

// Update some fields of a plant
// (PUT /api/v1/plants/{id})
func (impl *ServerImpl) UpdatePlant(c *gin.Context) {
	const op = "UpdatePlant"
	plantID, ok := bindID(c)
	if !ok {
		return
	}
	var request UpdatePlantRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		abort(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	fields, err := impl.attributeFields(request.PlantAttributes)
	if err != nil {
		abortWithError(c, op, err, nil)
		return
	}
	fields.PlantName = request.PlantName
	fields.PlantType = (*models.PlantType)(request.PlantType)

	plant, err := impl.catalog.Update(c.Request.Context(), ownerID(c), plantID, fields)
	if err != nil {
		abortWithError(c, op, err, nil)
		return
	}
	if plant == nil {
		abort(c, http.StatusNotFound, "Plant not found")
		return
	}
	respond(c, http.StatusOK, "Plant updated", gin.H{"plant": plant})
}

// Delete a plant together with all of its images
// (DELETE /api/v1/plants/{id})
func (impl *ServerImpl) DeletePlant(c *gin.Context) {
	const op = "DeletePlant"
	plantID, ok := bindID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	owner := ownerID(c)
	exists, err := impl.catalog.Exists(ctx, owner, plantID)
	if err != nil {
		abortWithError(c, op, err, nil)
		return
	}
	if !exists {
		abort(c, http.StatusNotFound, "Plant not found")
		return
	}
	// 先刪除圖片 (檔案再資料列)，任何一張失敗都不會刪除植物
	if err := impl.gallery.DeleteAllForPlant(ctx, owner, plantID); err != nil {
		abortWithError(c, op, err, nil)
		return
	}
	if err := impl.catalog.Delete(ctx, owner, plantID); err != nil {
		abortWithError(c, op, err, nil)
		return
	}
	respond(c, http.StatusOK, "Plant deleted", nil)
}
