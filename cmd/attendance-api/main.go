package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/geo-attendance-api/api/swagger"
	"github.com/noah-isme/geo-attendance-api/internal/handler"
	internalmiddleware "github.com/noah-isme/geo-attendance-api/internal/middleware"
	"github.com/noah-isme/geo-attendance-api/internal/repository"
	"github.com/noah-isme/geo-attendance-api/internal/service"
	"github.com/noah-isme/geo-attendance-api/pkg/cache"
	"github.com/noah-isme/geo-attendance-api/pkg/config"
	"github.com/noah-isme/geo-attendance-api/pkg/jobs"
	"github.com/noah-isme/geo-attendance-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/geo-attendance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/geo-attendance-api/pkg/middleware/requestid"
)

// @title Geo Attendance API
// @version 1.0.0
// @description Classroom attendance gated by distance from the teacher's location
// @BasePath /api/v1
// @schemes http https

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := service.NewMetricsService()

	backend, err := openStore(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to open store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}
	store := service.NewInstrumentedStore(backend.store, metrics)
	defer store.Close() //nolint:errcheck

	photos, err := openPhotos(ctx, cfg, backend, logr)
	if err != nil {
		logr.Fatal("failed to open photo storage", zap.String("backend", cfg.Photos.Backend), zap.Error(err))
	}

	cacheSvc := service.NewCacheService(nil, metrics, cfg.Cache.DefaultTTL, logr, false)
	if cfg.Cache.Enabled {
		client := backend.redis
		if client == nil {
			client, err = cache.NewRedis(ctx, cfg.Redis)
			if err != nil {
				logr.Warn("cache disabled, redis unreachable", zap.String("addr", cache.Addr(cfg.Redis)), zap.Error(err))
			} else {
				defer client.Close() //nolint:errcheck
			}
		}
		if client != nil {
			cacheRepo := repository.NewCacheRepository(client, cfg.Redis.KeyPrefix, logr)
			cacheSvc = service.NewCacheService(cacheRepo, metrics, cfg.Cache.DefaultTTL, logr, true)
		}
	}

	var purger *jobs.Queue
	if cfg.Reset.PurgePhotos && photos.blobs != nil {
		purger = jobs.NewQueue(service.PhotoPurgeJobType, service.PhotoPurgeHandler(photos.blobs, metrics, logr), jobs.QueueConfig{
			Workers:    cfg.Jobs.Workers,
			MaxRetries: cfg.Jobs.MaxRetries,
			RetryDelay: cfg.Jobs.RetryDelay,
			Logger:     logr,
		})
		if err := metrics.TrackJobQueue(service.PhotoPurgeJobType, purger.Stats); err != nil {
			logr.Warn("photo purge metrics unavailable", zap.Error(err))
		}
		purger.Start(ctx)
		defer purger.Stop()
	}

	if photos.local != nil {
		retention := service.NewRetentionService(photos.local, cfg.Photos.Retention, cfg.Photos.SweepInterval, metrics, logr)
		retention.StartCleanup(ctx)
	}

	qrSvc := service.NewQRService(cacheSvc, cfg.QR.Size, cfg.QR.CacheTTL, logr)
	sessionSvc := service.NewSessionService(store, qrSvc, service.SessionConfig{
		LocationTimeout: cfg.Location.Timeout,
		LocationMaxAge:  cfg.Location.MaxAge,
		PublicBaseURL:   cfg.PublicBaseURL,
		APIPrefix:       cfg.APIPrefix,
		EntryPath:       cfg.QR.EntryPath,
	}, metrics, logr)
	admissionSvc := service.NewAdmissionService(store, photos.blobs, service.AdmissionConfig{
		RequireRegistrationNumber: cfg.Admission.RequireRegistrationNumber,
		DistanceThresholdMeters:   cfg.Admission.DistanceThresholdMeters,
		EnablePhotoUpload:         cfg.Admission.EnablePhotoUpload,
		LocationTimeout:           cfg.Location.Timeout,
		LocationMaxAge:            cfg.Location.MaxAge,
		MaxPhotoBytes:             cfg.Photos.MaxFileSizeBytes,
		AllowedPhotoMIMEs:         cfg.Photos.AllowedMIMEs,
		PhotoUploadTimeout:        cfg.Photos.UploadTimeout,
	}, validator.New(), metrics, logr)
	rosterSvc := service.NewRosterService(store, time.Local, metrics, logr)
	var enqueuer interface {
		Enqueue(job jobs.Job) (string, error)
	}
	if purger != nil {
		enqueuer = purger
	}
	resetSvc := service.NewResetService(store, enqueuer, service.ResetConfig{
		TokenSecret: cfg.Reset.TokenSecret,
		TokenTTL:    cfg.Reset.TokenTTL,
		PurgePhotos: cfg.Reset.PurgePhotos,
	}, logr)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))
	r.MaxMultipartMemory = cfg.Photos.MaxFileSizeBytes + 1<<20

	handlers := handler.Handlers{
		Session:    handler.NewSessionHandler(sessionSvc),
		Attendance: handler.NewAttendanceHandler(admissionSvc, rosterSvc, resetSvc, cfg.Photos.MaxFileSizeBytes),
		Metrics:    handler.NewMetricsHandler(metrics, store),
	}
	if photos.local != nil {
		handlers.Photos = handler.NewPhotoHandler(photos.local)
	}
	handler.RegisterRoutes(r, cfg.APIPrefix, handlers)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "store", cfg.Store.Backend, "photos", cfg.Photos.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}
