package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/planner-api/api/swagger"
	"github.com/noah-isme/planner-api/internal/handler"
	internalmiddleware "github.com/noah-isme/planner-api/internal/middleware"
	"github.com/noah-isme/planner-api/internal/repository"
	"github.com/noah-isme/planner-api/internal/service"
	"github.com/noah-isme/planner-api/pkg/cache"
	"github.com/noah-isme/planner-api/pkg/config"
	"github.com/noah-isme/planner-api/pkg/database"
	"github.com/noah-isme/planner-api/pkg/events"
	"github.com/noah-isme/planner-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/planner-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/planner-api/pkg/middleware/requestid"
	"github.com/noah-isme/planner-api/pkg/storage"
	"github.com/noah-isme/planner-api/pkg/timegrid"
)

// @title Planner API
// @version 1.0.0
// @description Scheduled blocks, recurring series and calendar layouts
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck
	if err := database.Migrate(ctx, db); err != nil {
		logr.Fatal("failed to migrate schema", zap.Error(err))
	}

	metricsSvc := service.NewMetricsService()

	var cacheRepo *repository.CacheRepository
	cacheEnabled := true
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, block listings will not be cached", zap.Error(err))
		cacheEnabled = false
	} else {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
		defer cacheRepo.Close() //nolint:errcheck
	}
	var cacheBackend service.CacheRepository
	if cacheRepo != nil {
		cacheBackend = cacheRepo
	}
	cacheSvc := service.NewCacheService(cacheBackend, metricsSvc, cfg.Calendar.CacheTTL, logr, cacheEnabled)

	var publisher events.Publisher = events.Noop{}
	if cfg.Events.NATSURL != "" {
		natsPub, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logr)
		if err != nil {
			logr.Warn("nats unavailable, block events disabled", zap.Error(err))
		} else {
			publisher = natsPub
		}
	}
	defer publisher.Close()

	validate := validator.New()
	blockRepo := repository.NewBlockRepository(db)
	blockSvc := service.NewBlockService(blockRepo, cacheSvc, metricsSvc, publisher, validate, logr)

	loc := cfg.Calendar.Location()

	var materializer *service.MaterializerService
	if cfg.Recurrence.Enabled {
		materializer = service.NewMaterializerService(blockRepo, cacheSvc, metricsSvc, service.MaterializerConfig{
			Schedule:       cfg.Recurrence.Schedule,
			Horizon:        cfg.Recurrence.Horizon,
			MaxOccurrences: cfg.Recurrence.MaxOccurrences,
			Workers:        cfg.Recurrence.Workers,
			Retries:        cfg.Recurrence.Retries,
			Location:       loc,
		}, logr)
		if err := materializer.Start(ctx); err != nil {
			logr.Fatal("failed to start series materializer", zap.Error(err))
		}
		defer materializer.Stop()
		blockSvc.SetSeriesScheduler(materializer)
	}

	grid := timegrid.Grid{PixelsPerHour: cfg.Calendar.PixelsPerHour, MinBlockHeight: cfg.Calendar.MinBlockHeight}
	calendarSvc := service.NewCalendarService(blockSvc, grid, loc, logr)

	exportStore, err := storage.NewLocalStorage(cfg.Export.Dir)
	if err != nil {
		logr.Fatal("failed to prepare export directory", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Export.SigningSecret, cfg.Export.LinkTTL)
	exportSvc := service.NewExportService(blockSvc, exportStore, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		RetainFor: cfg.Export.RetainFor,
		Location:  loc,
	}, logr, nil, nil, nil)

	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@every 1h", func() {
		removed, err := exportSvc.Cleanup(cfg.Export.RetainFor)
		if err != nil {
			logr.Warn("export cleanup failed", zap.Error(err))
			return
		}
		if len(removed) > 0 {
			logr.Info("expired exports removed", zap.Int("count", len(removed)))
		}
	}); err != nil {
		logr.Fatal("failed to schedule export cleanup", zap.Error(err))
	}
	sweeper.Start()
	defer func() { <-sweeper.Stop().Done() }()

	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
	})

	pingers := map[string]handler.Pinger{"postgres": blockRepo}
	if cacheRepo != nil {
		pingers["redis"] = cacheRepo
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(corsmiddleware.Options{AllowedOrigins: cfg.CORS.AllowedOrigins, MaxAge: cfg.CORS.MaxAge}))
	r.Use(internalmiddleware.Metrics(metricsSvc))
	r.Use(internalmiddleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metricsSvc, pingers)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	if cfg.Env != config.EnvProduction {
		api.POST("/auth/token", handler.NewAuthHandler(authSvc).Token)
	}

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(authSvc))

	blockHandler := handler.NewBlockHandler(blockSvc, loc)
	blocks := secured.Group("/blocks")
	blocks.GET("", blockHandler.List)
	blocks.POST("", blockHandler.Create)
	blocks.GET("/:id", blockHandler.Get)
	blocks.PUT("/:id", blockHandler.Update)
	blocks.DELETE("/:id", blockHandler.Delete)
	blocks.PATCH("/:id/move", blockHandler.Move)
	blocks.POST("/:id/duplicate", blockHandler.Duplicate)
	blocks.POST("/:id/complete", blockHandler.Complete)
	blocks.POST("/:id/pause", blockHandler.Pause)
	blocks.POST("/:id/resume", blockHandler.Resume)

	calendarHandler := handler.NewCalendarHandler(calendarSvc)
	secured.GET("/calendar/day", calendarHandler.Day)
	secured.GET("/calendar/month", calendarHandler.Month)

	exportHandler := handler.NewExportHandler(exportSvc, loc)
	secured.POST("/exports", exportHandler.Create)
	secured.GET("/exports/:token", exportHandler.Download)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
