package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/repository"
	"github.com/noah-isme/geo-attendance-api/pkg/cache"
	"github.com/noah-isme/geo-attendance-api/pkg/config"
	"github.com/noah-isme/geo-attendance-api/pkg/database"
	"github.com/noah-isme/geo-attendance-api/pkg/firebaseapp"
	"github.com/noah-isme/geo-attendance-api/pkg/storage"
)

// storeBackend keeps the clients opened for the chosen store so other
// components can share them.
type storeBackend struct {
	store repository.Store
	redis *redis.Client
	fbApp *firebase.App
}

type photoBackend struct {
	blobs storage.BlobStore
	local *storage.LocalPhotoStore
}

func openStore(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*storeBackend, error) {
	switch cfg.Store.Backend {
	case config.StoreMemory, "":
		logr.Warn("using in-memory store, records are lost on restart")
		return &storeBackend{store: repository.NewMemoryStore()}, nil

	case config.StoreRedis:
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return &storeBackend{store: repository.NewRedisStore(client, cfg.Redis.KeyPrefix, logr), redis: client}, nil

	case config.StorePostgres:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		store := repository.NewPostgresStore(db, logr)
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		if err := store.Listen(ctx, database.DSN(cfg.Database)); err != nil {
			_ = store.Close()
			return nil, err
		}
		return &storeBackend{store: store}, nil

	case config.StoreFirebase:
		app, err := firebaseapp.New(ctx, cfg.Firebase)
		if err != nil {
			return nil, err
		}
		client, err := firebaseapp.Database(ctx, app, cfg.Firebase)
		if err != nil {
			return nil, err
		}
		return &storeBackend{
			store: repository.NewFirebaseStore(client, cfg.Firebase.PollInterval, logr),
			fbApp: app,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func openPhotos(ctx context.Context, cfg *config.Config, backend *storeBackend, logr *zap.Logger) (*photoBackend, error) {
	if !cfg.Admission.EnablePhotoUpload {
		return &photoBackend{}, nil
	}
	switch cfg.Photos.Backend {
	case config.BlobNone, "":
		return &photoBackend{}, nil

	case config.BlobLocal:
		files, err := storage.NewLocalStorage(cfg.Photos.StorageDir)
		if err != nil {
			return nil, err
		}
		signer := storage.NewSignedURLSigner(cfg.Photos.SignedURLSecret, cfg.Photos.SignedURLTTL)
		local := storage.NewLocalPhotoStore(files, signer, cfg.PublicBaseURL+cfg.APIPrefix+"/photos")
		return &photoBackend{blobs: local, local: local}, nil

	case config.BlobCloudinary:
		store, err := storage.NewCloudinaryStore(cfg.Cloudinary.CloudName, cfg.Cloudinary.APIKey, cfg.Cloudinary.APISecret, cfg.Cloudinary.Folder, &http.Client{Timeout: cfg.Photos.UploadTimeout + 5*time.Second})
		if err != nil {
			return nil, err
		}
		return &photoBackend{blobs: store}, nil

	case config.BlobFirebase:
		app := backend.fbApp
		if app == nil {
			var err error
			if app, err = firebaseapp.New(ctx, cfg.Firebase); err != nil {
				return nil, err
			}
		}
		bucket, err := firebaseapp.Bucket(ctx, app, cfg.Firebase)
		if err != nil {
			return nil, err
		}
		logr.Info("photos stored in firebase bucket", zap.String("bucket", cfg.Firebase.StorageBucket))
		return &photoBackend{blobs: storage.NewFirebaseBucketStore(bucket, cfg.Firebase.StorageBucket)}, nil

	default:
		return nil, fmt.Errorf("unknown photo backend %q", cfg.Photos.Backend)
	}
}
