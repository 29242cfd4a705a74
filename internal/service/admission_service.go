package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/models"
	"github.com/noah-isme/geo-attendance-api/internal/repository"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
	"github.com/noah-isme/geo-attendance-api/pkg/geo"
	"github.com/noah-isme/geo-attendance-api/pkg/middleware/requestid"
	"github.com/noah-isme/geo-attendance-api/pkg/storage"
)

const (
	outcomeAccepted         = "accepted"
	outcomeValidation       = "validation_error"
	outcomeLocation         = "location_error"
	outcomeNoSession        = "no_active_session"
	outcomeSessionClosed    = "session_closed"
	outcomeTooFar           = "too_far"
	outcomeAlreadySigned    = "already_signed"
	outcomePersistence      = "persistence_error"
	outcomeStoreUnavailable = "store_unavailable"
	outcomeOther            = "error"
)

type admissionStore interface {
	GetSession(ctx context.Context) (*models.Session, error)
	FindByRegistrationNumber(ctx context.Context, registrationNumber string) (*models.AttendanceRecord, error)
	AppendRecord(ctx context.Context, record *models.AttendanceRecord) (string, error)
}

// AdmissionConfig parameterizes the admission engine.
type AdmissionConfig struct {
	RequireRegistrationNumber bool
	DistanceThresholdMeters   float64
	EnablePhotoUpload         bool
	LocationTimeout           time.Duration
	LocationMaxAge            time.Duration
	MaxPhotoBytes             int64
	AllowedPhotoMIMEs         []string
	PhotoUploadTimeout        time.Duration
}

// DefaultAdmissionConfig mirrors the configuration defaults.
func DefaultAdmissionConfig() AdmissionConfig {
	return AdmissionConfig{
		RequireRegistrationNumber: true,
		DistanceThresholdMeters:   30,
		EnablePhotoUpload:         true,
		LocationTimeout:           15 * time.Second,
		LocationMaxAge:            30 * time.Second,
		MaxPhotoBytes:             5 * 1024 * 1024,
		AllowedPhotoMIMEs:         []string{"image/jpeg", "image/png", "image/webp", "image/heic"},
		PhotoUploadTimeout:        20 * time.Second,
	}
}

// AdmissionService decides whether a student submission becomes an
// attendance record. Gates run in a fixed order and the store is only
// written by the final step.
type AdmissionService struct {
	store     admissionStore
	photos    storage.BlobStore
	cfg       AdmissionConfig
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger

	distance func(a, b geo.Point) float64
	now      func() time.Time
}

// NewAdmissionService builds an AdmissionService. photos may be nil when
// uploads are disabled.
func NewAdmissionService(store admissionStore, photos storage.BlobStore, cfg AdmissionConfig, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *AdmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DistanceThresholdMeters <= 0 {
		cfg.DistanceThresholdMeters = 30
	}
	return &AdmissionService{
		store:     store,
		photos:    photos,
		cfg:       cfg,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		distance:  geo.Distance,
		now:       time.Now,
	}
}

// Submit runs one submission through every gate.
func (s *AdmissionService) Submit(ctx context.Context, candidate models.Candidate, locator Locator) (*models.AdmissionResult, error) {
	start := time.Now()
	result, err := s.submit(ctx, candidate, locator)
	outcome := admissionOutcome(err)
	s.metrics.ObserveAdmission(outcome, time.Since(start))

	fields := []zap.Field{
		zap.String("outcome", outcome),
		zap.String("registration_number", strings.TrimSpace(candidate.RegistrationNumber)),
		zap.Duration("duration", time.Since(start)),
	}
	if reqID := requestid.FromContext(ctx); reqID != "" {
		fields = append(fields, zap.String("request_id", reqID))
	}
	if err != nil {
		s.logger.Info("attendance rejected", append(fields, zap.Error(err))...)
		return nil, err
	}
	fields = append(fields,
		zap.String("record_id", result.Record.ID),
		zap.Int("distance_meters", result.Record.DistanceMeters),
		zap.Strings("warnings", result.Warnings),
	)
	s.logger.Info("attendance admitted", fields...)
	return result, nil
}

func (s *AdmissionService) submit(ctx context.Context, candidate models.Candidate, locator Locator) (*models.AdmissionResult, error) {
	candidate.Name = strings.TrimSpace(candidate.Name)
	candidate.RegistrationNumber = strings.TrimSpace(candidate.RegistrationNumber)
	if err := s.validator.Struct(candidate); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "name is required and must be at most 120 characters")
	}
	if s.cfg.RequireRegistrationNumber && candidate.RegistrationNumber == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "registration number is required")
	}

	pos, err := locate(ctx, locator, s.cfg.LocationTimeout, s.cfg.LocationMaxAge, s.now())
	if err != nil {
		return nil, err
	}

	session, err := s.store.GetSession(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNoActiveSession, "")
		}
		return nil, appErrors.WrapAs(err, appErrors.ErrStoreUnavailable, "")
	}
	if !session.Active {
		return nil, appErrors.Clone(appErrors.ErrSessionClosed, "")
	}

	d := s.distance(session.Anchor(), pos.Point())
	s.metrics.ObserveDistance(d)
	rounded := int(math.Round(d))
	if d > s.cfg.DistanceThresholdMeters {
		appErr := appErrors.WithDetails(appErrors.ErrTooFar, map[string]interface{}{
			"distance_meters":  rounded,
			"threshold_meters": s.cfg.DistanceThresholdMeters,
		})
		appErr.Message = fmt.Sprintf("you are %d meters from the classroom, the limit is %g meters", rounded, s.cfg.DistanceThresholdMeters)
		return nil, appErr
	}

	if candidate.RegistrationNumber != "" {
		if _, err := s.store.FindByRegistrationNumber(ctx, candidate.RegistrationNumber); err == nil {
			return nil, appErrors.Clone(appErrors.ErrAlreadySigned, "")
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, appErrors.WrapAs(err, appErrors.ErrStoreUnavailable, "")
		}
	}

	var (
		warnings []string
		photo    storage.Object
	)
	if candidate.Photo != nil && len(candidate.Photo.Data) > 0 && s.cfg.EnablePhotoUpload && s.photos != nil {
		obj, err := s.uploadPhoto(ctx, candidate.RegistrationNumber, candidate.Photo)
		s.metrics.ObservePhotoUpload(err == nil)
		if err != nil {
			s.logger.Warn("photo upload failed, continuing without photo",
				zap.String("registration_number", candidate.RegistrationNumber), zap.Error(err))
			warnings = append(warnings, models.WarningPhotoUploadFailed)
		} else {
			photo = obj
		}
	}

	record := &models.AttendanceRecord{
		SessionID:          session.ID,
		Name:               candidate.Name,
		RegistrationNumber: candidate.RegistrationNumber,
		SubmittedLatitude:  pos.Latitude,
		SubmittedLongitude: pos.Longitude,
		DistanceMeters:     rounded,
		PhotoURL:           photo.URL,
		PhotoKey:           photo.Handle,
		Timestamp:          s.now().UTC(),
	}
	id, err := s.store.AppendRecord(ctx, record)
	if err != nil {
		s.discardPhoto(photo)
		if errors.Is(err, repository.ErrDuplicateRegistration) {
			return nil, appErrors.Clone(appErrors.ErrAlreadySigned, "")
		}
		return nil, appErrors.WrapAs(err, appErrors.ErrPersistence, "")
	}
	record.ID = id

	return &models.AdmissionResult{Record: record, Warnings: warnings}, nil
}

func (s *AdmissionService) uploadPhoto(ctx context.Context, registrationNumber string, photo *models.PhotoUpload) (storage.Object, error) {
	if s.cfg.MaxPhotoBytes > 0 && int64(len(photo.Data)) > s.cfg.MaxPhotoBytes {
		return storage.Object{}, fmt.Errorf("photo is %d bytes, limit is %d", len(photo.Data), s.cfg.MaxPhotoBytes)
	}
	detected := mimetype.Detect(photo.Data)
	if !photoTypeAllowed(detected, s.cfg.AllowedPhotoMIMEs) {
		return storage.Object{}, fmt.Errorf("photo type %s not allowed", detected.String())
	}

	if s.cfg.PhotoUploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PhotoUploadTimeout)
		defer cancel()
	}
	key := storage.PhotoKey(registrationNumber, photo.Filename, s.now())
	return s.photos.Upload(ctx, key, photo.Data, detected.String())
}

// discardPhoto removes a photo whose record was never written.
func (s *AdmissionService) discardPhoto(photo storage.Object) {
	if photo.Handle == "" || s.photos == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.photos.Delete(ctx, photo.Handle); err != nil {
		s.logger.Warn("failed to discard orphaned photo", zap.String("handle", photo.Handle), zap.Error(err))
	}
}

func photoTypeAllowed(detected *mimetype.MIME, allowed []string) bool {
	if len(allowed) == 0 {
		return strings.HasPrefix(detected.String(), "image/")
	}
	for _, mime := range allowed {
		if detected.Is(mime) {
			return true
		}
	}
	return false
}

func admissionOutcome(err error) string {
	if err == nil {
		return outcomeAccepted
	}
	appErr := appErrors.FromError(err)
	switch appErr.Code {
	case appErrors.ErrValidation.Code:
		return outcomeValidation
	case appErrors.ErrLocation.Code:
		return outcomeLocation
	case appErrors.ErrNoActiveSession.Code:
		return outcomeNoSession
	case appErrors.ErrSessionClosed.Code:
		return outcomeSessionClosed
	case appErrors.ErrTooFar.Code:
		return outcomeTooFar
	case appErrors.ErrAlreadySigned.Code:
		return outcomeAlreadySigned
	case appErrors.ErrPersistence.Code:
		return outcomePersistence
	case appErrors.ErrStoreUnavailable.Code:
		return outcomeStoreUnavailable
	default:
		return outcomeOther
	}
}
