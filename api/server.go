package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"verdant/adapters/database"
	"verdant/adapters/oidc"
	redisAdapter "verdant/adapters/redis"
	internalS3 "verdant/adapters/s3"
	"verdant/catalog"
	"verdant/gallery"
)

// Dependencies 建立 ServerImpl 所需的外部元件，Redis 相關的元件皆為可選
type Dependencies struct {
	DB       *gorm.DB
	Store    gallery.ObjectStore
	Verifier TokenVerifier

	Locker          gallery.Locker
	CleanupProducer redisAdapter.IProducer[gallery.CleanupJob]
	CleanupConsumer redisAdapter.IGroupConsumer[gallery.CleanupJob]
	// RedisClient 由 ServerImpl 在 Close 時關閉
	RedisClient *redis.Client

	Registry *prometheus.Registry
	Logger   *slog.Logger
}

type ServerImpl struct {
	catalog       *catalog.Catalog
	gallery       *gallery.Manager
	verifier      TokenVerifier
	htmlChecker   *bluemonday.Policy
	db            *gorm.DB
	redisClient   *redis.Client
	producer      redisAdapter.IProducer[gallery.CleanupJob]
	groupConsumer redisAdapter.IGroupConsumer[gallery.CleanupJob]
	limiter       *ownerLimiter
	cors          gin.HandlerFunc
	metrics       *metrics
	wg            sync.WaitGroup
	cancelFunc    context.CancelFunc
	logger        *slog.Logger

	cleanupAttempts   int
	cleanupRetryDelay time.Duration

	config ServerConfig
}

// NewServer 依照設定連線到所有外部服務
func NewServer(ctx context.Context, config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"

	// 初始化OIDC提供者
	provider, err := oidc.NewProvider(ctx, oidc.Config{
		IssuerURL:         config.OIDC.IssuerURL,
		ClientID:          config.OIDC.ClientID,
		SkipClientIDCheck: config.OIDC.SkipClientIDCheck,
		UserInfoFallback:  config.OIDC.UserInfoFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to initial OIDC provider, err=%w", op, err)
	}

	// 初始化S3客戶端
	region := config.S3.Region
	if region == "" {
		region = "auto"
	}
	s3Options := []func(*awsCfg.LoadOptions) error{awsCfg.WithRegion(region)}
	if config.S3.Endpoint != "" {
		s3Options = append(s3Options, awsCfg.WithBaseEndpoint(config.S3.Endpoint))
	}
	if config.S3.AccessKeyID != "" {
		s3Options = append(s3Options, awsCfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.S3.AccessKeyID, config.S3.SecretAccessKey, ""),
		))
	}
	s3Cfg, err := awsCfg.LoadDefaultConfig(ctx, s3Options...)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load AWS config, err=%w", op, err)
	}
	s3Client := s3.NewFromConfig(s3Cfg, func(o *s3.Options) {
		o.UsePathStyle = config.S3.UsePathStyle
	})
	s3Operator, err := internalS3.NewS3Operator(s3Client, config.S3.Bucket, config.S3.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create S3 operator, err=%w", op, err)
	}

	// 初始化資料庫連線
	db, err := database.Open(config.DB)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	if config.DB.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			return nil, fmt.Errorf("[%s] Fail to migrate database, err=%w", op, err)
		}
	}

	deps := Dependencies{
		DB:       db,
		Store:    s3Operator,
		Verifier: provider,
	}

	// 初始化Redis連線，未設定時以單機模式運作
	if config.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("[%s] Fail to connect to redis, err=%w", op, err)
		}
		locker, err := redisAdapter.NewLocker(redisClient, config.Redis.KeyPrefix, config.Redis.LockTimeout)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create locker, err=%w", op, err)
		}
		producer, err := redisAdapter.NewProducer[gallery.CleanupJob](
			redisClient,
			config.Redis.StreamKeys.Cleanup,
			redisAdapter.WithProducerLogger[gallery.CleanupJob](slog.Default()),
			redisAdapter.WithProducerMaxLen[gallery.CleanupJob](10000),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create producer, err=%w", op, err)
		}
		groupConsumer, err := redisAdapter.NewGroupConsumer[gallery.CleanupJob](
			redisClient,
			config.Redis.StreamKeys.Cleanup,
			config.Redis.ConsumerGroup,
			config.InstanceID,
			redisAdapter.WithGroupConsumerLogger[gallery.CleanupJob](slog.Default()),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create group consumer, err=%w", op, err)
		}
		deps.RedisClient = redisClient
		deps.Locker = locker
		deps.CleanupProducer = producer
		deps.CleanupConsumer = groupConsumer
	}

	return New(config, deps)
}

// New 以已經建立好的元件組裝 ServerImpl
func New(config ServerConfig, deps Dependencies) (*ServerImpl, error) {
	const op = "New"
	if deps.Verifier == nil {
		return nil, fmt.Errorf("[%s] token verifier cannot be nil", op)
	}
	config = config.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	options := []gallery.ManagerOption{gallery.WithLogger(logger)}
	if deps.Locker != nil {
		options = append(options, gallery.WithLocker(deps.Locker))
	}
	if deps.CleanupProducer != nil {
		options = append(options, gallery.WithCleanupQueue(deps.CleanupProducer))
	}
	manager, err := gallery.NewManager(deps.DB, deps.Store, options...)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create image manager, err=%w", op, err)
	}
	corsHandler, err := corsMiddleware(config.CORSOrigins)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}

	return &ServerImpl{
		catalog:           catalog.New(deps.DB),
		gallery:           manager,
		verifier:          deps.Verifier,
		htmlChecker:       bluemonday.UGCPolicy(),
		db:                deps.DB,
		redisClient:       deps.RedisClient,
		producer:          deps.CleanupProducer,
		groupConsumer:     deps.CleanupConsumer,
		limiter:           newOwnerLimiter(config.RateLimit),
		cors:              corsHandler,
		metrics:           newMetrics(deps.Registry),
		logger:            logger.With(slog.String("caller", "ServerImpl")),
		cleanupAttempts:   3,
		cleanupRetryDelay: time.Second,
		config:            config,
	}, nil
}

func (impl *ServerImpl) Start() error {
	const op = "Start"
	ctx, cancel := context.WithCancel(context.Background())
	impl.cancelFunc = cancel

	if impl.producer != nil {
		impl.producer.Start()
	}
	if impl.limiter != nil {
		impl.limiter.Start()
	}
	if impl.groupConsumer != nil {
		if err := impl.groupConsumer.Start(); err != nil {
			return fmt.Errorf("[%s] Fail to start cleanup consumer, err=%w", op, err)
		}
		// 啟動一個worker用於清理刪除檔案後殘留的資料列
		impl.startCleanupWorker(ctx)
	}
	return nil
}

func (impl *ServerImpl) Close() {
	// 關閉group consumer
	if impl.groupConsumer != nil {
		impl.groupConsumer.Close()
	}
	// 關閉worker
	if impl.cancelFunc != nil {
		impl.cancelFunc()
	}
	impl.wg.Wait()
	// 關閉producer，緩衝中的工作會先寫入redis
	if impl.producer != nil {
		impl.producer.Close()
	}
	if impl.limiter != nil {
		impl.limiter.Close()
	}
	if impl.redisClient != nil {
		if err := impl.redisClient.Close(); err != nil {
			impl.logger.Warn("Fail to close redis client", slog.Any("error", err))
		}
	}
}

var registerValidatorOnce sync.Once

// registerValidator 讓驗證錯誤使用 json / form 的欄位名稱
func registerValidator() {
	registerValidatorOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			for _, tag := range []string{"json", "form", "uri"} {
				name, _, _ := strings.Cut(field.Tag.Get(tag), ",")
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return field.Name
		})
	})
}

// Router 建立所有的路由
func (impl *ServerImpl) Router() *gin.Engine {
	registerValidator()

	router := gin.New()
	router.MaxMultipartMemory = impl.config.Upload.MaxFileSize
	router.Use(gin.Logger(), gin.Recovery(), impl.metrics.middleware(), securityHeaders(), impl.cors)
	router.NoRoute(func(c *gin.Context) {
		abort(c, http.StatusNotFound, "Route not found")
	})

	router.GET("/health", impl.Health)
	router.GET("/metrics", impl.metrics.handler())

	v1 := router.Group("/api/v1", authMiddleware(impl.verifier))
	if impl.limiter != nil {
		v1.Use(impl.limiter.middleware())
	}

	plants := v1.Group("/plants")
	plants.GET("", impl.ListPlants)
	plants.GET("/statistics", impl.GetStatistics)
	plants.GET("/:id", impl.GetPlant)
	plants.POST("", impl.CreatePlant)
	plants.PUT("/:id", impl.UpdatePlant)
	plants.DELETE("/:id", impl.DeletePlant)

	images := v1.Group("/images")
	images.POST("/plants/:plantId", impl.UploadImages)
	images.GET("/plants/:plantId", impl.ListImages)
	images.PATCH("/plants/:plantId/reorder", impl.ReorderImages)
	images.PATCH("/:id/primary", impl.SetPrimaryImage)
	images.PUT("/:id", impl.UpdateImage)
	images.DELETE("/:id", impl.DeleteImage)

	return router
}

// Health 檢查資料庫連線
// (GET /health)
func (impl *ServerImpl) Health(c *gin.Context) {
	const op = "Health"
	data := gin.H{"timestamp": time.Now().UTC().Format(time.RFC3339)}
	sqlDB, err := impl.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		impl.logger.Error("Database is unreachable", slog.String("op", op), slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, envelope{Status: statusError, Message: "Database is unreachable", Data: data})
		return
	}
	respond(c, http.StatusOK, "Server is running", data)
}
