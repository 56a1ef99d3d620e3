package s3_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"verdant/adapters/s3"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want string
	}{
		{"空檔案", 0, "0 bytes"},
		{"未滿 1 KB", 1023, "1023 bytes"},
		{"剛好 1 KB", 1024, "1.00 KB"},
		{"小數位", 1536, "1.50 KB"},
		{"預設單檔上限", 5 << 20, "5.00 MB"},
		{"單張圖片像素量級", 50_000_000, "47.68 MB"},
		{"GB", 3 << 30, "3.00 GB"},
		{"超過 TB 仍以 TB 表示", 1 << 50, "1024.00 TB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s3.FormatBytes(tt.in))
		})
	}
}
