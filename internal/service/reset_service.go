package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/models"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
	"github.com/noah-isme/geo-attendance-api/pkg/jobs"
	"github.com/noah-isme/geo-attendance-api/pkg/storage"
)

const (
	resetPurpose       = "reset_records"
	PhotoPurgeJobType  = "photo_purge"
	defaultResetTokTTL = 2 * time.Minute
)

type resetStore interface {
	RemoveRecords(ctx context.Context) ([]models.AttendanceRecord, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) (string, error)
}

// ResetConfig configures the confirmation token and photo purge.
type ResetConfig struct {
	TokenSecret string
	TokenTTL    time.Duration
	PurgePhotos bool
}

type resetClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// ResetService clears every attendance record after an explicit,
// single-use confirmation.
type ResetService struct {
	store  resetStore
	purger jobEnqueuer
	cfg    ResetConfig
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	used map[string]time.Time
}

// NewResetService constructs a ResetService. purger may be nil.
func NewResetService(store resetStore, purger jobEnqueuer, cfg ResetConfig, logger *zap.Logger) *ResetService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultResetTokTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResetService{
		store:  store,
		purger: purger,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		used:   make(map[string]time.Time),
	}
}

// IssueToken returns a short lived confirmation token for ResetRecords.
func (s *ResetService) IssueToken(ctx context.Context) (*models.ResetToken, error) {
	now := s.now()
	expires := now.Add(s.cfg.TokenTTL)
	claims := resetClaims{
		Purpose: resetPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.TokenSecret))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue confirmation token")
	}
	return &models.ResetToken{Token: signed, ExpiresAt: expires.UTC()}, nil
}

// ResetRecords removes every record. The token is consumed even when the
// store fails afterwards.
func (s *ResetService) ResetRecords(ctx context.Context, token string) (*models.ResetResult, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	if err := s.consume(claims); err != nil {
		return nil, err
	}

	removed, err := s.store.RemoveRecords(ctx)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrStoreUnavailable, "failed to reset attendance records")
	}
	result := &models.ResetResult{Removed: len(removed)}

	var keys []string
	if s.cfg.PurgePhotos && s.purger != nil {
		for _, rec := range removed {
			if rec.PhotoKey != "" {
				keys = append(keys, rec.PhotoKey)
			}
		}
	}

	if len(keys) > 0 {
		jobID, err := s.purger.Enqueue(jobs.Job{Type: PhotoPurgeJobType, Payload: keys})
		if err != nil {
			s.logger.Warn("photo purge not scheduled", zap.Int("photos", len(keys)), zap.Error(err))
		} else {
			result.PurgeJobID = jobID
			result.PhotosQueue = len(keys)
		}
	}

	s.logger.Info("attendance records reset",
		zap.Int("removed", result.Removed),
		zap.Int("photos_queued", result.PhotosQueue),
	)
	return result, nil
}

func (s *ResetService) parse(token string) (*resetClaims, error) {
	if token == "" {
		return nil, appErrors.Clone(appErrors.ErrConfirmationRequired, "confirmation token required to reset records")
	}
	claims := &resetClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.TokenSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrConfirmationRequired.Code, appErrors.ErrConfirmationRequired.Status, "confirmation token invalid or expired")
	}
	if claims.Purpose != resetPurpose || claims.ID == "" {
		return nil, appErrors.Clone(appErrors.ErrConfirmationRequired, "confirmation token has the wrong purpose")
	}
	return claims, nil
}

func (s *ResetService) consume(claims *resetClaims) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, exp := range s.used {
		if now.After(exp) {
			delete(s.used, id)
		}
	}
	if _, seen := s.used[claims.ID]; seen {
		return appErrors.Clone(appErrors.ErrConfirmationRequired, "confirmation token already used")
	}
	s.used[claims.ID] = claims.ExpiresAt.Time
	return nil
}

// PhotoPurgeHandler returns the job handler that deletes purged photos.
// Missing objects count as deleted, so retries are safe.
func PhotoPurgeHandler(blobs storage.BlobStore, metrics *MetricsService, logger *zap.Logger) jobs.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, job jobs.Job) error {
		keys, ok := job.Payload.([]string)
		if !ok {
			return fmt.Errorf("photo purge: unexpected payload %T", job.Payload)
		}
		if blobs == nil {
			return nil
		}
		var (
			failed []string
			errs   []error
		)
		for _, key := range keys {
			if err := blobs.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
				failed = append(failed, key)
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
		metrics.ObservePhotoPurge(len(keys)-len(failed), len(failed))
		logger.Info("photo purge finished",
			zap.String("job_id", job.ID),
			zap.Int("deleted", len(keys)-len(failed)),
			zap.Int("failed", len(failed)),
		)
		return errors.Join(errs...)
	}
}
