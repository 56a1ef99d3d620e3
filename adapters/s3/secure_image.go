package s3

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"

	_ "golang.org/x/image/webp"
)

var (
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrCorruptImage     = errors.New("file is not a valid image")
	ErrImageTooLarge    = errors.New("image dimensions exceed limit")
)

// SecureMIMETypesExtension 定義了允許上傳的圖片類型及其對應的副檔名
var SecureMIMETypesExtension = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// CheckSecureImageAndGetExtension 檢查給定的 MIME 類型是否為允許的圖片類型，並返回對應的副檔名
func CheckSecureImageAndGetExtension(mimeType string) (bool, string) {
	ext, ok := SecureMIMETypesExtension[mimeType]
	return ok, ext
}

type ImageInfo struct {
	ContentType string
	Extension   string
	Width       int
	Height      int
}

// InspectImage 由檔案內容判斷圖片類型，並確認圖檔標頭可以被解析
// 客戶端提供的 Content-Type 不被採用；maxPixels <= 0 代表不限制像素數
func InspectImage(content []byte, maxPixels int64) (*ImageInfo, error) {
	const op = "InspectImage"
	mimeType := http.DetectContentType(content)
	secure, ext := CheckSecureImageAndGetExtension(mimeType)
	if !secure {
		return nil, fmt.Errorf("[%s] %w: %s", op, ErrUnsupportedImage, mimeType)
	}
	config, _, err := image.DecodeConfig(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("[%s] %w, err=%w", op, ErrCorruptImage, err)
	}
	if maxPixels > 0 && int64(config.Width)*int64(config.Height) > maxPixels {
		return nil, fmt.Errorf("[%s] %w: %dx%d", op, ErrImageTooLarge, config.Width, config.Height)
	}
	return &ImageInfo{
		ContentType: mimeType,
		Extension:   ext,
		Width:       config.Width,
		Height:      config.Height,
	}, nil
}
