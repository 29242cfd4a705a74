package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreFirebase = "firebase"
)

// Blob backends.
const (
	BlobNone       = "none"
	BlobLocal      = "local"
	BlobCloudinary = "cloudinary"
	BlobFirebase   = "firebase"
)

type Config struct {
	Env           string
	Port          int
	APIPrefix     string
	PublicBaseURL string

	Store      StoreConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Firebase   FirebaseConfig
	Photos     PhotosConfig
	Cloudinary CloudinaryConfig
	Admission  AdmissionConfig
	Location   LocationConfig
	QR         QRConfig
	Reset      ResetConfig
	Jobs       JobsConfig
	Cache      CacheConfig
	CORS       CORSConfig
	Log        LogConfig
}

// StoreConfig selects the realtime store backend.
type StoreConfig struct {
	Backend string
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// FirebaseConfig holds credentials for the realtime database and storage bucket.
type FirebaseConfig struct {
	CredentialsFile string
	ProjectID       string
	DatabaseURL     string
	StorageBucket   string
	PollInterval    time.Duration
}

// PhotosConfig configures the blob store used for optional student photos.
type PhotosConfig struct {
	Backend          string
	StorageDir       string
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
	UploadTimeout    time.Duration
	// Retention is how long local photos are kept; zero keeps them forever.
	Retention     time.Duration
	SweepInterval time.Duration
}

type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// AdmissionConfig parameterizes the admission engine.
type AdmissionConfig struct {
	RequireRegistrationNumber bool
	DistanceThresholdMeters   float64
	EnablePhotoUpload         bool
}

// LocationConfig bounds geolocation acquisition.
type LocationConfig struct {
	Timeout time.Duration
	MaxAge  time.Duration
}

// QRConfig controls the student entry QR code.
type QRConfig struct {
	EntryPath string
	Size      int
	CacheTTL  time.Duration
}

// ResetConfig controls the confirmation step for clearing records.
type ResetConfig struct {
	TokenSecret string
	TokenTTL    time.Duration
	PurgePhotos bool
}

type JobsConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

type CacheConfig struct {
	Enabled    bool
	DefaultTTL time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.PublicBaseURL = strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/")

	cfg.Store = StoreConfig{Backend: strings.ToLower(v.GetString("STORE_BACKEND"))}

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:      v.GetString("REDIS_HOST"),
		Port:      v.GetInt("REDIS_PORT"),
		Password:  v.GetString("REDIS_PASSWORD"),
		DB:        v.GetInt("REDIS_DB"),
		KeyPrefix: v.GetString("REDIS_KEY_PREFIX"),
	}

	cfg.Firebase = FirebaseConfig{
		CredentialsFile: v.GetString("FIREBASE_CREDENTIALS_FILE"),
		ProjectID:       v.GetString("FIREBASE_PROJECT_ID"),
		DatabaseURL:     v.GetString("FIREBASE_DATABASE_URL"),
		StorageBucket:   v.GetString("FIREBASE_STORAGE_BUCKET"),
		PollInterval:    parseDuration(v.GetString("FIREBASE_POLL_INTERVAL"), 2*time.Second),
	}

	maxPhotoSize := v.GetInt64("PHOTOS_MAX_FILE_SIZE")
	if maxPhotoSize <= 0 {
		maxPhotoSize = 5 * 1024 * 1024
	}
	cfg.Photos = PhotosConfig{
		Backend:          strings.ToLower(v.GetString("PHOTOS_BACKEND")),
		StorageDir:       v.GetString("PHOTOS_STORAGE_DIR"),
		SignedURLSecret:  v.GetString("PHOTOS_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("PHOTOS_SIGNED_URL_TTL"), 7*24*time.Hour),
		MaxFileSizeBytes: maxPhotoSize,
		AllowedMIMEs:     splitAndTrim(v.GetString("PHOTOS_ALLOWED_MIME_TYPES")),
		UploadTimeout:    parseDuration(v.GetString("PHOTOS_UPLOAD_TIMEOUT"), 20*time.Second),
		Retention:        parseDuration(v.GetString("PHOTOS_RETENTION"), 0),
		SweepInterval:    parseDuration(v.GetString("PHOTOS_SWEEP_INTERVAL"), time.Hour),
	}

	cfg.Cloudinary = CloudinaryConfig{
		CloudName: v.GetString("CLOUDINARY_CLOUD_NAME"),
		APIKey:    v.GetString("CLOUDINARY_API_KEY"),
		APISecret: v.GetString("CLOUDINARY_API_SECRET"),
		Folder:    v.GetString("CLOUDINARY_FOLDER"),
	}

	threshold := v.GetFloat64("ADMISSION_DISTANCE_THRESHOLD_METERS")
	if threshold <= 0 {
		threshold = 30
	}
	cfg.Admission = AdmissionConfig{
		RequireRegistrationNumber: v.GetBool("ADMISSION_REQUIRE_REGISTRATION_NUMBER"),
		DistanceThresholdMeters:   threshold,
		EnablePhotoUpload:         v.GetBool("ADMISSION_ENABLE_PHOTO_UPLOAD"),
	}

	cfg.Location = LocationConfig{
		Timeout: parseDuration(v.GetString("LOCATION_TIMEOUT"), 15*time.Second),
		MaxAge:  parseDuration(v.GetString("LOCATION_MAX_AGE"), 30*time.Second),
	}

	cfg.QR = QRConfig{
		EntryPath: v.GetString("QR_ENTRY_PATH"),
		Size:      v.GetInt("QR_SIZE"),
		CacheTTL:  parseDuration(v.GetString("QR_CACHE_TTL"), 12*time.Hour),
	}

	cfg.Reset = ResetConfig{
		TokenSecret: v.GetString("RESET_TOKEN_SECRET"),
		TokenTTL:    parseDuration(v.GetString("RESET_TOKEN_TTL"), 2*time.Minute),
		PurgePhotos: v.GetBool("RESET_PURGE_PHOTOS"),
	}

	cfg.Jobs = JobsConfig{
		Workers:    v.GetInt("JOBS_WORKERS"),
		MaxRetries: v.GetInt("JOBS_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("JOBS_RETRY_DELAY"), 2*time.Second),
	}

	cfg.Cache = CacheConfig{
		Enabled:    v.GetBool("CACHE_ENABLED"),
		DefaultTTL: parseDuration(v.GetString("CACHE_DEFAULT_TTL"), 10*time.Minute),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")

	v.SetDefault("STORE_BACKEND", StoreMemory)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "geo_attendance")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "attendance")

	v.SetDefault("FIREBASE_CREDENTIALS_FILE", "")
	v.SetDefault("FIREBASE_PROJECT_ID", "")
	v.SetDefault("FIREBASE_DATABASE_URL", "")
	v.SetDefault("FIREBASE_STORAGE_BUCKET", "")
	v.SetDefault("FIREBASE_POLL_INTERVAL", "2s")

	v.SetDefault("PHOTOS_BACKEND", BlobLocal)
	v.SetDefault("PHOTOS_STORAGE_DIR", "./photos")
	v.SetDefault("PHOTOS_SIGNED_URL_SECRET", "dev_photos_secret")
	v.SetDefault("PHOTOS_SIGNED_URL_TTL", "168h")
	v.SetDefault("PHOTOS_MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("PHOTOS_ALLOWED_MIME_TYPES", "image/jpeg,image/png,image/webp,image/heic")
	v.SetDefault("PHOTOS_UPLOAD_TIMEOUT", "20s")
	v.SetDefault("PHOTOS_RETENTION", "0s")
	v.SetDefault("PHOTOS_SWEEP_INTERVAL", "1h")

	v.SetDefault("CLOUDINARY_FOLDER", "attendance")

	v.SetDefault("ADMISSION_REQUIRE_REGISTRATION_NUMBER", true)
	v.SetDefault("ADMISSION_DISTANCE_THRESHOLD_METERS", 30)
	v.SetDefault("ADMISSION_ENABLE_PHOTO_UPLOAD", true)

	v.SetDefault("LOCATION_TIMEOUT", "15s")
	v.SetDefault("LOCATION_MAX_AGE", "30s")

	v.SetDefault("QR_ENTRY_PATH", "/student")
	v.SetDefault("QR_SIZE", 256)
	v.SetDefault("QR_CACHE_TTL", "12h")

	v.SetDefault("RESET_TOKEN_SECRET", "dev_reset_secret")
	v.SetDefault("RESET_TOKEN_TTL", "2m")
	v.SetDefault("RESET_PURGE_PHOTOS", true)

	v.SetDefault("JOBS_WORKERS", 1)
	v.SetDefault("JOBS_MAX_RETRIES", 3)
	v.SetDefault("JOBS_RETRY_DELAY", "2s")

	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("CACHE_DEFAULT_TTL", "10m")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
