// Package firebaseapp initialises the Firebase Admin SDK shared by the
// realtime database store and the photo bucket.
package firebaseapp

import (
	"context"
	"fmt"

	gcs "cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"

	"github.com/noah-isme/geo-attendance-api/pkg/config"
)

// New builds a Firebase app. Without a credentials file the SDK falls back to
// application default credentials.
func New(ctx context.Context, cfg config.FirebaseConfig) (*firebase.App, error) {
	fbCfg := &firebase.Config{
		ProjectID:     cfg.ProjectID,
		DatabaseURL:   cfg.DatabaseURL,
		StorageBucket: cfg.StorageBucket,
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	return app, nil
}

// Database opens the realtime database client.
func Database(ctx context.Context, app *firebase.App, cfg config.FirebaseConfig) (*db.Client, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("FIREBASE_DATABASE_URL is required for the firebase store")
	}
	client, err := app.DatabaseWithURL(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("init firebase database: %w", err)
	}
	return client, nil
}

// Bucket opens the configured storage bucket.
func Bucket(ctx context.Context, app *firebase.App, cfg config.FirebaseConfig) (*gcs.BucketHandle, error) {
	if cfg.StorageBucket == "" {
		return nil, fmt.Errorf("FIREBASE_STORAGE_BUCKET is required for firebase photos")
	}
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase storage: %w", err)
	}
	bucket, err := client.Bucket(cfg.StorageBucket)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", cfg.StorageBucket, err)
	}
	return bucket, nil
}
