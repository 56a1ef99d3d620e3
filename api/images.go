package api

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	internalS3 "verdant/adapters/s3"
	"verdant/gallery"
)

type UploadImagesForm struct {
	Images    []*multipart.FileHeader `form:"images" binding:"required"`
	Caption   *string                 `form:"caption" binding:"omitempty,max=200"`
	IsPrimary bool                    `form:"is_primary"`
}

type ImageOrder struct {
	ID           string `json:"id" binding:"required,uuid"`
	DisplayOrder *int   `json:"display_order" binding:"required,min=0"`
}

type ReorderImagesRequest struct {
	ImageOrders []ImageOrder `json:"image_orders" binding:"required,min=1,dive"`
}

type UpdateImageRequest struct {
	Caption      *string `json:"caption" binding:"omitempty,max=200"`
	DisplayOrder *int    `json:"display_order" binding:"omitempty,min=0"`
}

// readUpload 讀取單一檔案並檢查大小與實際的圖片類型
func (impl *ServerImpl) readUpload(header *multipart.FileHeader) (gallery.File, error) {
	const op = "readUpload"
	file, err := header.Open()
	if err != nil {
		return gallery.File{}, fmt.Errorf("[%s] Fail to open file, err=%w", op, err)
	}
	defer file.Close()

	// 限制圖片
	// 	1. 小於設定的大小
	// 	2. MIME類型為不包含腳本的圖片檔案
	content, err := internalS3.ReadAllLimited(file, impl.config.Upload.MaxFileSize)
	if err != nil {
		return gallery.File{}, err
	}
	info, err := internalS3.InspectImage(content, impl.config.Upload.MaxPixels)
	if err != nil {
		return gallery.File{}, err
	}
	return gallery.File{
		Content:     content,
		ContentType: info.ContentType,
		Extension:   info.Extension,
	}, nil
}

func isUploadRejection(err error) bool {
	var limitErr *internalS3.ReachLimitError
	return errors.As(err, &limitErr) ||
		errors.Is(err, internalS3.ErrUnsupportedImage) ||
		errors.Is(err, internalS3.ErrCorruptImage) ||
		errors.Is(err, internalS3.ErrImageTooLarge)
}

// Upload images of a plant
// (POST /api/v1/images/plants/{plantId})
func (impl *ServerImpl) UploadImages(c *gin.Context) {
	const op = "UploadImages"
	plantID, ok := bindPlantID(c)
	if !ok {
		return
	}
	// 整個請求的大小上限，避免在解析 multipart 時就耗盡記憶體或磁碟
	maxBody := impl.config.Upload.MaxFileSize*int64(impl.config.Upload.MaxFiles) + 1<<20
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)

	var form UploadImagesForm
	if err := c.ShouldBind(&form); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abort(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds %s", internalS3.FormatBytes(maxBody)))
			return
		}
		abort(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	if len(form.Images) == 0 {
		abort(c, http.StatusBadRequest, "No files uploaded")
		return
	}
	if len(form.Images) > impl.config.Upload.MaxFiles {
		abort(c, http.StatusBadRequest, fmt.Sprintf("Too many files, at most %d per upload", impl.config.Upload.MaxFiles))
		return
	}

	ctx := c.Request.Context()
	owner := ownerID(c)
	//  - 檢查是否達到上傳限制
	if limit := impl.config.Upload.RateLimitPerHour; limit > 0 {
		uploaded, err := impl.gallery.CountUploadedSince(ctx, owner, time.Now().Add(-time.Hour))
		if err != nil {
			abortWithError(c, op, err, nil)
			return
		}
		if uploaded+int64(len(form.Images)) > limit {
			abort(c, http.StatusTooManyRequests, fmt.Sprintf("Upload limit of %d images per hour reached", limit))
			return
		}
	}

	files := make([]gallery.File, 0, len(form.Images))
	for _, header := range form.Images {
		file, err := impl.readUpload(header)
		if isUploadRejection(err) {
			abort(c, http.StatusBadRequest, fmt.Sprintf("Rejected %s: %s", header.Filename, err.Error()))
			return
		}
		if err != nil {
			abortWithError(c, op, err, nil)
			return
		}
		files = append(files, file)
	}

	images, err := impl.gallery.Upload(ctx, owner, plantID, files, impl.sanitize(form.Caption), form.IsPrimary)
	impl.metrics.imagesUploaded.Add(float64(len(images)))
	if err != nil {
		// 部分完成的圖片一併回傳，呼叫端可以決定是否刪除
		var data any
		if len(images) > 0 {
			data = gin.H{"images": images}
		}
		abortWithError(c, op, err, data)
		return
	}
	respond(c, http.StatusCreated, fmt.Sprintf("%d images uploaded", len(images)), gin.H{"images": images})
}

// List images of a plant
// (GET /api/v1/images/plants/{plantId})
func (impl *ServerImpl) ListImages(c *gin.Context) {
	const op = "ListImages"
	plantID, ok := bindPlantID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	exists, err := impl.catalog.Exists(ctx, ownerID(c), plantID)
	if err != nil {
		abortWithError(c, op, err, nil)
		return
	}
	if !exists {
		abort(c, http.StatusNotFound, "Plant not found")
		return
	}
	images, err := impl.gallery.ListByPlant(ctx, ownerID(c), plantID)
	if err != nil {
		abortWithError(c, op, err, nil)
		return
	}
	respond(c, http.StatusOK, "Images retrieved", gin.H{"images": images})
}

// Make an image the primary image of its plant
// (PATCH /api/v1/images/{id}/primary)
func (impl *ServerImpl) SetPrimaryImage(c *gin.Context) {
	const op = "SetPrimaryImage"
	imageID, ok := bindID(c)
	if !ok {
		return
	}
	image, err := impl.gallery.SetPrimary(c.Request.Context(), ownerID(c), imageID)
	if err != nil {
		abortWithError(c, op, err, nil)
		return
	}
	respond(c, http.StatusOK, "Primary image set", gin.H{"image": image})
}

// Assign new display orders to images of a plant
// (PATCH /api/v1/images/plants/{plantId}/reorder)
func (impl *ServerImpl) ReorderImages(c *gin.Context) {
	const op = "ReorderImages"
	plantID, ok := bindPlantID(c)
	if !ok {
		return
	}
	var request ReorderImagesRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		abort(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	assignments := lo.Map(request.ImageOrders, func(order ImageOrder, _ int) gallery.OrderAssignment {
		return gallery.OrderAssignment{
			ImageID:      uuid.MustParse(order.ID),
			DisplayOrder: *order.DisplayOrder,
		}
	})
	images, err := impl.gallery.Reorder(c.Request.Context(), ownerID(c), plantID, assignments)
	if err != nil {
		abortWithError(c, op, err, nil)
		return
	}
	respond(c, http.StatusOK, "Image order updated", gin.H{"images": images})
}

// Update caption or display order of an image
// (PUT /api/v1/images/{id})
func (impl *ServerImpl) UpdateImage(c *gin.Context) {
	const op = "UpdateImage"
	imageID, ok := bindID(c)
	if !ok {
		return
	}
	var request UpdateImageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		abort(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	image, err := impl.gallery.UpdateMetadata(c.Request.Context(), ownerID(c), imageID, gallery.ImageFields{
		Caption:      impl.sanitize(request.Caption),
		DisplayOrder: request.DisplayOrder,
	})
	if err != nil {
		abortWithError(c, op, err, nil)
		return
	}
	if image == nil {
		abort(c, http.StatusNotFound, "Image not found")
		return
	}
	respond(c, http.StatusOK, "Image updated", gin.H{"image": image})
}

// Delete an image, the stored file first and then its record
// (DELETE /api/v1/images/{id})
func (impl *ServerImpl) DeleteImage(c *gin.Context) {
	const op = "DeleteImage"
	imageID, ok := bindID(c)
	if !ok {
		return
	}
	if err := impl.gallery.Delete(c.Request.Context(), ownerID(c), imageID); err != nil {
		abortWithError(c, op, err, nil)
		return
	}
	impl.metrics.imagesDeleted.Inc()
	impl.logger.Info("Image deleted", slog.String("op", op), slog.String("imageID", imageID.String()))
	respond(c, http.StatusOK, "Image deleted", nil)
}
