package s3

import (
	"fmt"
	"io"
)

// ReachLimitError 讀取的內容超過 MaxBytes
type ReachLimitError struct {
	MaxBytes int64
}

func (e *ReachLimitError) Error() string {
	return fmt.Sprintf("reach limit of %s", FormatBytes(e.MaxBytes))
}

// NewMaxSizeReader 包裝 r，累計讀取超過 maxSize 時回傳 ReachLimitError，
// 超過的部分不會交給呼叫端
func NewMaxSizeReader(r io.Reader, maxSize int64) io.Reader {
	return &limitedReader{src: r, limit: maxSize}
}

// ReadAllLimited 讀取上傳檔案的全部內容，超過 maxSize 時回傳 ReachLimitError
func ReadAllLimited(r io.Reader, maxSize int64) ([]byte, error) {
	return io.ReadAll(NewMaxSizeReader(r, maxSize))
}

type limitedReader struct {
	src   io.Reader
	limit int64
	read  int64
}

func (r *limitedReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	// 最多多讀一個位元組，用來判斷是否超過上限
	if budget := r.limit - r.read + 1; int64(len(p)) > budget {
		p = p[:budget]
	}
	n, err := r.src.Read(p)
	r.read += int64(n)
	if r.read <= r.limit {
		return n, err
	}
	n -= int(r.read - r.limit)
	r.read = r.limit
	return n, &ReachLimitError{MaxBytes: r.limit}
}
