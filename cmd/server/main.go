package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/charlesh97/bomhelper/internal/archive"
	"github.com/charlesh97/bomhelper/internal/bom"
	"github.com/charlesh97/bomhelper/internal/cache"
	"github.com/charlesh97/bomhelper/internal/config"
	"github.com/charlesh97/bomhelper/internal/handler"
	"github.com/charlesh97/bomhelper/internal/keyword"
	"github.com/charlesh97/bomhelper/internal/middleware"
	"github.com/charlesh97/bomhelper/internal/session"
	"github.com/charlesh97/bomhelper/internal/sse"
	"github.com/charlesh97/bomhelper/internal/store"
	"github.com/charlesh97/bomhelper/internal/vendor"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting bomhelper service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	if cfg.Vendor.APIKey == "" {
		zapLogger.Warn("Vendor API key is not set, part searches will fail")
	}

	// Optional infrastructure: Redis result cache, Postgres session store
	// and MinIO upload archive all degrade to nil when unconfigured.
	var searchCache *cache.SearchCache
	if cfg.Redis.Host != "" {
		rdb := initRedis(cfg.Redis)
		searchCache = cache.New(rdb, cfg.Redis.CacheTTL, zapLogger)
		zapLogger.Info("Search result cache enabled",
			zap.String("host", cfg.Redis.Host), zap.Duration("ttl", cfg.Redis.CacheTTL))
	}

	var sessionStore *store.SessionStore
	if cfg.Database.Host != "" {
		db, dbErr := initDatabase(cfg.Database)
		if dbErr != nil {
			zapLogger.Fatal("Failed to connect to database", zap.Error(dbErr))
		}
		sessionStore = store.NewSessionStore(db)
		if err := sessionStore.Migrate(); err != nil {
			zapLogger.Fatal("Failed to migrate session store", zap.Error(err))
		}
		zapLogger.Info("Session store enabled", zap.String("host", cfg.Database.Host))
	}

	var archiver *archive.Archiver
	if cfg.MinIO.Endpoint != "" {
		archiver, err = archive.New(cfg.MinIO.Endpoint, cfg.MinIO.AccessKey,
			cfg.MinIO.SecretKey, cfg.MinIO.Bucket, cfg.MinIO.UseSSL, zapLogger)
		if err != nil {
			zapLogger.Fatal("Failed to init upload archive", zap.Error(err))
		}
		zapLogger.Info("Upload archive enabled", zap.String("bucket", cfg.MinIO.Bucket))
	}

	vendorClient := vendor.NewClient(cfg.Vendor.BaseURL, cfg.Vendor.APIKey,
		cfg.Vendor.Timeout, zapLogger)
	synthesizer := keyword.NewSynthesizer(cfg.Keyword.Endpoint, cfg.Keyword.APIKey,
		cfg.Keyword.Model, zapLogger)
	parser := bom.NewParser(zapLogger)
	hub := sse.NewHub(zapLogger)

	coord := session.NewCoordinator(vendorClient, synthesizer, searchCache, hub, zapLogger)
	defer coord.Close()

	handlers := handler.NewHandlers(coord, parser, archiver, sessionStore, hub, zapLogger)

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	registerRoutes(router, handlers, cfg)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // Disable for SSE long-lived connections
	}

	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server stopped")
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, cfg *config.Config) {
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	v1 := r.Group("/api/v1")
	if cfg.JWT.Secret != "" {
		v1.Use(middleware.JWTAuth(cfg.JWT.Secret))
	}
	{
		bomGroup := v1.Group("/bom")
		{
			bomGroup.POST("/upload", h.BOM.Upload)
		}

		parts := v1.Group("/parts")
		{
			parts.GET("", h.BOM.List)
			parts.GET("/:key", h.BOM.Get)
			parts.PATCH("/:key/fields", h.BOM.UpdateField)
			parts.POST("/:key/search", h.Search.Search)
			parts.GET("/:key/results", h.Search.Results)
			parts.POST("/:key/show-more", h.Search.ShowMore)
			parts.POST("/:key/confirm", h.Search.Confirm)
			parts.POST("/:key/toggle-checked", h.Search.ToggleChecked)
		}

		search := v1.Group("/search")
		{
			search.POST("/batch", h.Search.SearchBatch)
		}

		batch := v1.Group("/batch")
		{
			batch.POST("/next", h.Search.BatchNext)
			batch.POST("/prev", h.Search.BatchPrev)
		}

		sessionGroup := v1.Group("/session")
		{
			sessionGroup.PUT("/sort", h.Search.SetSort)
			sessionGroup.PUT("/filters", h.Search.SetFilters)
			sessionGroup.GET("/snapshot", h.Snapshot.Download)
			sessionGroup.POST("/snapshot", h.Snapshot.Restore)
		}

		sessions := v1.Group("/sessions")
		{
			sessions.POST("", h.Snapshot.Save)
			sessions.GET("", h.Snapshot.List)
			sessions.POST("/:id/load", h.Snapshot.Load)
			sessions.DELETE("/:id", h.Snapshot.Delete)
		}

		exportGroup := v1.Group("/export")
		{
			exportGroup.GET("/preview", h.Export.Preview)
			exportGroup.GET("/csv", h.Export.CSV)
			exportGroup.GET("/xlsx", h.Export.Excel)
		}

		sseGroup := v1.Group("/sse")
		{
			sseGroup.GET("/events", h.SSE.Stream)
		}
	}
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
