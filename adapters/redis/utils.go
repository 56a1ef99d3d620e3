package redis

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrPointerType  = errors.New("pointer type is not allowed")
	ErrMissingField = errors.New("data field not found or invalid type")
)

// stream 中的消息只有一個 data 欄位，內容是 msgpack 後再 base64 的 payload
const messageField = "data"

func isPointer[T any]() bool {
	return reflect.TypeFor[T]().Kind() == reflect.Pointer
}

// DefaultParseToMessage 將 struct 轉換為 stream 消息
func DefaultParseToMessage[T any](data T) (map[string]any, error) {
	const op = "DefaultParseToMessage"
	if isPointer[T]() {
		return nil, fmt.Errorf("[%s] %w", op, ErrPointerType)
	}
	payload, err := encodePayload(data)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to encode payload, err=%w", op, err)
	}
	return map[string]any{messageField: payload}, nil
}

// DefaultParseFromMessage 將 stream 消息轉換為 struct，空消息回傳零值
func DefaultParseFromMessage[T any](message map[string]any) (T, error) {
	const op = "DefaultParseFromMessage"
	var result T
	if isPointer[T]() {
		return result, fmt.Errorf("[%s] %w", op, ErrPointerType)
	}
	if len(message) == 0 {
		return result, nil
	}
	payload, ok := message[messageField].(string)
	if !ok {
		return result, fmt.Errorf("[%s] %w", op, ErrMissingField)
	}
	if err := decodePayload(payload, &result); err != nil {
		return result, fmt.Errorf("[%s] Fail to decode payload, err=%w", op, err)
	}
	return result, nil
}

func encodePayload(v any) (string, error) {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("msgpack marshal: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodePayload(payload string, v any) error {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("base64 decode: %w", err)
	}
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("msgpack unmarshal: %w", err)
	}
	return nil
}
