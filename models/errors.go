package models

import "errors"

// 核心操作回傳的錯誤種類，呼叫端透過 errors.Is 判斷
var (
	// ErrNotFound 資料不存在，或不屬於目前的使用者
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput 請求的結構不正確
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorageFailure 物件儲存拒絕了寫入或刪除
	ErrStorageFailure = errors.New("storage failure")
	// ErrPersistenceFailure 資料庫拒絕了新增、更新或刪除
	ErrPersistenceFailure = errors.New("persistence failure")
)
