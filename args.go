package main

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	gormLogger "gorm.io/gorm/logger"

	"verdant/adapters/database"
	"verdant/api"
)

// bindFlags 宣告所有參數並綁定到 viper，環境變數以 VERDANT_ 為前綴
func bindFlags(flags *pflag.FlagSet, v *viper.Viper) error {
	// server config
	flags.String("server-url", "0.0.0.0:8080", "")
	flags.String("config", "", "config file (yaml, json or toml)")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.String("instance-id", "", "consumer name in the cleanup group, defaults to hostname")
	flags.StringSlice("cors-origin", []string{"*"}, "")
	flags.Float64("rate-limit-rps", 0, "requests per second per user, 0 disables")
	flags.Int("rate-limit-burst", 0, "")

	// oidc config
	flags.String("oidc-issuer-url", "", "")
	flags.String("oidc-client-id", "", "")
	flags.Bool("oidc-skip-client-id-check", false, "")
	flags.Bool("oidc-userinfo-fallback", false, "verify opaque access tokens through the userinfo endpoint")

	// s3 config
	flags.String("s3-endpoint", "", "")
	flags.String("s3-region", "auto", "")
	flags.String("s3-bucket", "", "")
	flags.String("s3-public-base-url", "", "")
	flags.String("s3-access-key-id", "", "")
	flags.String("s3-secret-access-key", "", "")
	flags.Bool("s3-use-path-style", false, "")

	// db config
	flags.String("db-driver", database.DriverPostgres, "postgres or sqlite")
	flags.String("db-user", "", "")
	flags.String("db-password", "", "")
	flags.String("db-host", "", "")
	flags.Int("db-port", 5432, "")
	flags.String("db-database", "", "")
	flags.String("db-schema", "", "")
	flags.String("db-sqlite-path", "verdant.db", "")
	flags.Bool("db-auto-migrate", false, "")

	// redis config
	flags.String("redis-addr", "", "empty disables the upload lock and cleanup queue")
	flags.String("redis-password", "", "")
	flags.Int("redis-db", 15, "")
	flags.String("redis-key-prefix", "verdant:", "")
	flags.Duration("redis-lock-timeout", 10*time.Second, "")
	flags.String("redis-consumer-group", "verdant-cleanup", "")

	// redis stream keys
	flags.String("redis-stream-key-for-cleanup", "verdant-image-cleanup-stream", "")

	// upload config
	flags.Int64("upload-max-file-size", 5<<20, "")
	flags.Int("upload-max-files", 10, "")
	flags.Int64("upload-max-pixels", 50_000_000, "")
	flags.Int64("upload-rate-limit-per-hour", 0, "0 disables")

	// bind pflag to viper
	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	v.SetEnvPrefix("VERDANT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return nil
}

// loadArgs 讀取設定檔 (若有指定) 並組出 Args
func loadArgs(v *viper.Viper) (Args, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Args{}, err
		}
	}

	instanceID := v.GetString("instance-id")
	if instanceID == "" {
		instanceID, _ = os.Hostname()
	}

	// initial arguments
	return Args{
		ServerURL: v.GetString("server-url"),
		LogLevel:  v.GetString("log-level"),
		ServerConfig: api.ServerConfig{
			OIDC: api.OIDCConfig{
				IssuerURL:         v.GetString("oidc-issuer-url"),
				ClientID:          v.GetString("oidc-client-id"),
				SkipClientIDCheck: v.GetBool("oidc-skip-client-id-check"),
				UserInfoFallback:  v.GetBool("oidc-userinfo-fallback"),
			},
			S3: api.S3Config{
				Endpoint:        v.GetString("s3-endpoint"),
				Region:          v.GetString("s3-region"),
				Bucket:          v.GetString("s3-bucket"),
				PublicBaseURL:   v.GetString("s3-public-base-url"),
				AccessKeyID:     v.GetString("s3-access-key-id"),
				SecretAccessKey: v.GetString("s3-secret-access-key"),
				UsePathStyle:    v.GetBool("s3-use-path-style"),
			},
			DB: database.Config{
				Driver:      v.GetString("db-driver"),
				User:        v.GetString("db-user"),
				Password:    v.GetString("db-password"),
				Host:        v.GetString("db-host"),
				Port:        v.GetInt("db-port"),
				Database:    v.GetString("db-database"),
				Schema:      v.GetString("db-schema"),
				SQLitePath:  v.GetString("db-sqlite-path"),
				AutoMigrate: v.GetBool("db-auto-migrate"),
				LogLevel:    gormLogger.Warn,
			},
			Redis: api.RedisConfig{
				Addr:          v.GetString("redis-addr"),
				Password:      v.GetString("redis-password"),
				DB:            v.GetInt("redis-db"),
				KeyPrefix:     v.GetString("redis-key-prefix"),
				LockTimeout:   v.GetDuration("redis-lock-timeout"),
				ConsumerGroup: v.GetString("redis-consumer-group"),
				StreamKeys: api.RedisStreamKeys{
					Cleanup: v.GetString("redis-stream-key-for-cleanup"),
				},
			},
			Upload: api.UploadConfig{
				MaxFileSize:      v.GetInt64("upload-max-file-size"),
				MaxFiles:         v.GetInt("upload-max-files"),
				MaxPixels:        v.GetInt64("upload-max-pixels"),
				RateLimitPerHour: v.GetInt64("upload-rate-limit-per-hour"),
			},
			RateLimit: api.RateLimitConfig{
				RequestsPerSecond: v.GetFloat64("rate-limit-rps"),
				Burst:             v.GetInt("rate-limit-burst"),
			},
			CORSOrigins: v.GetStringSlice("cors-origin"),
			InstanceID:  instanceID,
		},
	}, nil
}

type Args struct {
	ServerURL    string
	LogLevel     string
	ServerConfig api.ServerConfig
}

// Validate 回傳缺少的參數名稱
func (args Args) Validate() []string {
	var missing []string
	check := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}
	check("server-url", args.ServerURL)
	check("oidc-issuer-url", args.ServerConfig.OIDC.IssuerURL)
	if !args.ServerConfig.OIDC.SkipClientIDCheck {
		check("oidc-client-id", args.ServerConfig.OIDC.ClientID)
	}
	check("s3-bucket", args.ServerConfig.S3.Bucket)
	check("s3-public-base-url", args.ServerConfig.S3.PublicBaseURL)
	if !args.ServerConfig.DB.Validate() {
		missing = append(missing, "db-* ("+args.ServerConfig.DB.Driver+")")
	}
	if args.ServerConfig.Redis.Addr != "" {
		check("redis-stream-key-for-cleanup", args.ServerConfig.Redis.StreamKeys.Cleanup)
		check("redis-consumer-group", args.ServerConfig.Redis.ConsumerGroup)
		check("instance-id", args.ServerConfig.InstanceID)
	}
	return missing
}

// validateDB 只檢查資料庫設定，給 migrate 指令使用
func (args Args) validateDB() []string {
	if !args.ServerConfig.DB.Validate() {
		return []string{"db-* (" + args.ServerConfig.DB.Driver + ")"}
	}
	return nil
}
