package gallery

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// StoragePath 產生 {ownerID}/{plantID}/{毫秒時間戳}-{隨機字串}.{副檔名}
func StoragePath(ownerID string, plantID uuid.UUID, ext string, now time.Time) (string, error) {
	const op = "StoragePath"
	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("[%s] Fail to generate random suffix, err=%w", op, err)
	}
	return fmt.Sprintf("%s/%s/%d-%s.%s", url.PathEscape(ownerID), plantID, now.UnixMilli(), hex.EncodeToString(suffix), ext), nil
}
