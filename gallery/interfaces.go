//go:generate mockgen -package=gallery -destination=mock.go -source=interfaces.go

package gallery

import (
	"context"
)

// ObjectStore 定義了圖片檔案的儲存介面
type ObjectStore interface {
	Put(ctx context.Context, path string, content []byte, contentType string) error
	Delete(ctx context.Context, path string) error
	// PublicURL 只根據 path 推導公開網址，不做任何 I/O
	PublicURL(path string) string
}

// Locker 定義了跨實例的互斥鎖，用於序列化同一株植物的上傳
type Locker interface {
	Acquire(ctx context.Context, key string) (context.Context, func() error, error)
}

// CleanupQueue 接收刪除檔案後殘留的資料列，交給背景工作重試
// Publish 回傳 nil 時工作必須已經持久化
type CleanupQueue interface {
	Publish(ctx context.Context, job CleanupJob) error
}
