package api

import (
	"time"

	"verdant/adapters/database"
)

type ServerConfig struct {
	OIDC      OIDCConfig
	S3        S3Config
	DB        database.Config
	Redis     RedisConfig
	Upload    UploadConfig
	RateLimit RateLimitConfig

	// CORSOrigins 允許的來源，"*" 代表全部
	CORSOrigins []string
	// InstanceID 作為 consumer group 中的 consumer 名稱
	InstanceID string
}

type OIDCConfig struct {
	IssuerURL         string
	ClientID          string
	SkipClientIDCheck bool
	UserInfoFallback  bool
}

type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string
	Bucket          string
	PublicBaseURL   string
	UsePathStyle    bool
}

// RedisConfig Addr 為空時不啟用上傳鎖與清理佇列
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	KeyPrefix     string
	LockTimeout   time.Duration
	ConsumerGroup string

	StreamKeys RedisStreamKeys
}

type RedisStreamKeys struct {
	Cleanup string
}

type UploadConfig struct {
	MaxFileSize int64
	MaxFiles    int
	// MaxPixels 單張圖片的像素上限，0 代表不限制
	MaxPixels int64
	// RateLimitPerHour 每位使用者一小時內可上傳的圖片數，0 代表不限制
	RateLimitPerHour int64
}

// RateLimitConfig 每位使用者的請求速率，RequestsPerSecond 為 0 時停用
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Upload.MaxFileSize <= 0 {
		c.Upload.MaxFileSize = 5 << 20
	}
	if c.Upload.MaxFiles <= 0 {
		c.Upload.MaxFiles = 10
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
	if c.Redis.LockTimeout <= 0 {
		c.Redis.LockTimeout = 10 * time.Second
	}
	return c
}
