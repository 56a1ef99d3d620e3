package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var ErrUnsupportedDriver = errors.New("unsupported database driver")

type Config struct {
	Driver   string
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string

	// SQLitePath 只在 Driver 為 sqlite 時使用，":memory:" 代表記憶體資料庫
	SQLitePath string
	// LogLevel 對應 gorm logger 的等級，預設為 Warn
	LogLevel gormLogger.LogLevel
	// AutoMigrate 啟動時是否自動建立資料表與索引
	AutoMigrate bool
}

// Validate 檢查選定的驅動所需要的欄位是否齊全
func (c Config) Validate() bool {
	switch c.Driver {
	case DriverPostgres:
		return c.User != "" && c.Host != "" && c.Port > 0 && c.Database != ""
	case DriverSQLite:
		return c.SQLitePath != ""
	default:
		return false
	}
}

// PostgresDSN 組出 postgres 的連線字串
func (c Config) PostgresDSN() string {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Database)
	if c.Schema != "" {
		dsn += "&search_path=" + c.Schema
	}
	return dsn
}

// SQLiteDSN 組出 sqlite 的連線字串，檔案資料庫會開啟 WAL 模式
func (c Config) SQLiteDSN() string {
	if c.SQLitePath == ":memory:" || strings.HasPrefix(c.SQLitePath, "file::memory:") {
		return c.SQLitePath
	}
	return fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=on", c.SQLitePath)
}

// Open 依照設定的驅動建立資料庫連線
func Open(config Config) (*gorm.DB, error) {
	const op = "Open"
	logLevel := config.LogLevel
	if logLevel == 0 {
		logLevel = gormLogger.Warn
	}
	gormConfig := &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger.Default.LogMode(logLevel),
	}

	var dialector gorm.Dialector
	switch config.Driver {
	case DriverPostgres:
		if config.Schema != "" {
			gormConfig.NamingStrategy = schema.NamingStrategy{
				TablePrefix: config.Schema + ".",
			}
		}
		dialector = postgres.Open(config.PostgresDSN())
	case DriverSQLite:
		if err := ensureDir(config.SQLitePath); err != nil {
			return nil, fmt.Errorf("[%s] Fail to ensure database directory, err=%w", op, err)
		}
		dialector = sqlite.Open(config.SQLiteDSN())
	default:
		return nil, fmt.Errorf("[%s] %w: %q", op, ErrUnsupportedDriver, config.Driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, driver=%s, err=%w", op, config.Driver, err)
	}
	if err := configurePool(db, config.Driver); err != nil {
		return nil, fmt.Errorf("[%s] Fail to configure connection pool, err=%w", op, err)
	}
	return db, nil
}

func configurePool(db *gorm.DB, driver string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if driver == DriverSQLite {
		// sqlite 只有單一寫入者，記憶體資料庫每條連線也是各自獨立的
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		return nil
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return nil
}

func ensureDir(path string) error {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0750)
	}
	return nil
}
