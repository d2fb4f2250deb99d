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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/ise-timetable-api/api/swagger"
	"github.com/noah-isme/ise-timetable-api/internal/editor"
	"github.com/noah-isme/ise-timetable-api/internal/handler"
	internalmiddleware "github.com/noah-isme/ise-timetable-api/internal/middleware"
	"github.com/noah-isme/ise-timetable-api/internal/models"
	"github.com/noah-isme/ise-timetable-api/internal/repository"
	"github.com/noah-isme/ise-timetable-api/internal/service"
	"github.com/noah-isme/ise-timetable-api/pkg/cache"
	"github.com/noah-isme/ise-timetable-api/pkg/config"
	"github.com/noah-isme/ise-timetable-api/pkg/database"
	"github.com/noah-isme/ise-timetable-api/pkg/jobs"
	"github.com/noah-isme/ise-timetable-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/ise-timetable-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/ise-timetable-api/pkg/middleware/requestid"
)

// @title ISE Timetable API
// @version 1.0.0
// @description Weekly timetable generation and conflict-resolution editing for the ISE department
// @BasePath /
// @schemes http
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()
	if err := database.RunMigrations(db.DB, logr); err != nil {
		logr.Fatal("failed to run migrations", zap.Error(err))
	}

	metricsSvc := service.NewMetricsService()
	checks := map[string]handler.Pinger{"postgres": db}

	var cacheRepo service.CacheRepository
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, timetable cache disabled", zap.Error(err))
		} else {
			repo := repository.NewCacheRepository(client, logr)
			defer repo.Close() //nolint:errcheck
			cacheRepo = repo
			checks["redis"] = repo
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	schedulerCfg, err := service.SchedulerConfigFrom(cfg.Scheduler)
	if err != nil {
		logr.Fatal("invalid scheduler configuration", zap.Error(err))
	}

	validate := validator.New()
	masterDataRepo := repository.NewMasterDataRepository(db)
	timetableRepo := repository.NewTimetableRepository(db)
	runRepo := repository.NewGenerationRunRepository(db)
	masterDataRepo.SetQueryObserver(metricsSvc)
	timetableRepo.SetQueryObserver(metricsSvc)
	runRepo.SetQueryObserver(metricsSvc)

	generationSvc := service.NewGenerationService(masterDataRepo, timetableRepo, runRepo, db, cacheSvc, metricsSvc, validate, logr,
		service.GenerationConfig{Scheduler: schedulerCfg, RunTimeout: cfg.Scheduler.RunTimeout})
	timetableSvc := service.NewTimetableService(timetableRepo, masterDataRepo, cacheSvc, validate, logr)
	editorSvc := service.NewEditorService(timetableRepo, cacheSvc, metricsSvc, validate, logr, service.EditorConfig{
		SessionTTL: cfg.Editor.SessionTTL,
		Limits:     editor.Limits{MaxDailyMinutes: schedulerCfg.MaxDailyMinutes, EarlyDayLatestEnd: schedulerCfg.EarlyDayLatestEnd},
	})
	tokenSvc := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Expiry: cfg.JWT.Expiration})

	runQueue := jobs.NewQueue(service.GenerationJobType, generationSvc.HandleJob, jobs.QueueConfig{
		Workers:     cfg.Scheduler.AsyncWorkers,
		MaxRetries:  cfg.Scheduler.RunRetries,
		RetryDelay:  5 * time.Second,
		Logger:      logr,
		OnExhausted: generationSvc.HandleExhausted,
	})
	runQueue.Start(ctx)
	defer runQueue.Stop()
	generationSvc.AttachQueue(runQueue)

	go sweepEditorSessions(ctx, editorSvc, cfg.Editor.SessionTTL)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), tokenSvc, routeHandlers{
		generation: handler.NewGenerationHandler(generationSvc),
		timetables: handler.NewTimetableHandler(timetableSvc),
		editor:     handler.NewEditorHandler(editorSvc),
		metrics:    metricsHandler,
	})

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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}

type routeHandlers struct {
	generation *handler.GenerationHandler
	timetables *handler.TimetableHandler
	editor     *handler.EditorHandler
	metrics    *handler.MetricsHandler
}

func registerRoutes(api *gin.RouterGroup, tokens *service.TokenService, h routeHandlers) {
	writers := internalmiddleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleCoordinator)
	readers := internalmiddleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleCoordinator, models.RoleViewer)

	api.Use(internalmiddleware.WithResponseMeta())
	api.Use(internalmiddleware.JWT(tokens))

	api.GET("/metrics/summary", internalmiddleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin), h.metrics.Snapshot)

	generation := api.Group("/generation")
	generation.POST("/runs", writers, h.generation.StartRun)
	generation.GET("/runs/:id", readers, h.generation.GetRun)

	timetables := api.Group("/timetables")
	timetables.GET("", readers, h.timetables.List)
	timetables.DELETE("", writers, h.timetables.Clear)
	timetables.POST("/validate", writers, h.generation.Validate)
	timetables.GET("/:id", readers, h.timetables.Get)
	timetables.GET("/:id/export", readers, h.timetables.Export)

	edit := timetables.Group("/:id/editor", writers)
	edit.POST("", h.editor.Open)
	edit.GET("", h.editor.State)
	edit.DELETE("", h.editor.Close)
	edit.POST("/propose", h.editor.Propose)
	edit.POST("/confirm", h.editor.Confirm)
	edit.POST("/cancel", h.editor.Cancel)
	edit.POST("/undo", h.editor.Undo)
	edit.POST("/redo", h.editor.Redo)
	edit.POST("/breaks/delete", h.editor.DeleteBreak)
	edit.POST("/breaks/remove-default", h.editor.RemoveDefaultBreak)
	edit.POST("/breaks/restore-default", h.editor.RestoreDefaultBreak)
	edit.POST("/save", h.editor.Save)
	edit.POST("/revert", h.editor.Revert)
}

func sweepEditorSessions(ctx context.Context, editorSvc *service.EditorService, ttl time.Duration) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			editorSvc.Sweep()
		}
	}
}
