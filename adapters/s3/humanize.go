package s3

import (
	"fmt"
	"math"
)

var byteUnits = []string{"KB", "MB", "GB", "TB"}

// FormatBytes 將位元組數轉換成易讀的格式，最大單位為 TB
func FormatBytes(n int64) string {
	if n > -1024 && n < 1024 {
		return fmt.Sprintf("%d bytes", n)
	}
	value := float64(n) / 1024
	unit := 0
	for math.Abs(value) >= 1024 && unit < len(byteUnits)-1 {
		value /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", value, byteUnits[unit])
}
