package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/models"
	"github.com/noah-isme/geo-attendance-api/internal/repository"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
)

type sessionStore interface {
	GetSession(ctx context.Context) (*models.Session, error)
	PutSession(ctx context.Context, session *models.Session) error
	SetSessionActive(ctx context.Context, active bool) (*models.Session, error)
	WatchSession(ctx context.Context) (<-chan models.SessionChange, error)
}

// SessionConfig holds the knobs SessionService needs.
type SessionConfig struct {
	LocationTimeout time.Duration
	LocationMaxAge  time.Duration
	PublicBaseURL   string
	APIPrefix       string
	EntryPath       string
}

// SessionService is the teacher-side authority over the singleton session.
type SessionService struct {
	store   sessionStore
	qr      *QRService
	cfg     SessionConfig
	metrics *MetricsService
	logger  *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewSessionService constructs a SessionService.
func NewSessionService(store sessionStore, qr *QRService, cfg SessionConfig, metrics *MetricsService, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EntryPath == "" {
		cfg.EntryPath = "/student"
	}
	return &SessionService{
		store:   store,
		qr:      qr,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Open captures the teacher's location and replaces the session with a
// fresh active one anchored there.
func (s *SessionService) Open(ctx context.Context, locator Locator) (*models.SessionView, error) {
	pos, err := locate(ctx, locator, s.cfg.LocationTimeout, s.cfg.LocationMaxAge, s.now())
	if err != nil {
		s.logger.Info("session open failed", zap.Error(err))
		return nil, err
	}

	session := &models.Session{
		ID:              s.newID(),
		AnchorLatitude:  pos.Latitude,
		AnchorLongitude: pos.Longitude,
		Active:          true,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.PutSession(ctx, session); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrStoreUnavailable, "failed to open session")
	}
	// codes of earlier sessions can no longer be served
	s.qr.Purge(ctx)

	s.logger.Info("session opened",
		zap.String("session_id", session.ID),
		zap.Float64("latitude", session.AnchorLatitude),
		zap.Float64("longitude", session.AnchorLongitude),
		zap.Float64("accuracy", pos.Accuracy),
	)
	return s.view(session), nil
}

// Close deactivates the current session. Closing a closed session is a no-op.
func (s *SessionService) Close(ctx context.Context) (*models.Session, error) {
	session, err := s.store.SetSessionActive(ctx, false)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNoActiveSession, "")
		}
		return nil, appErrors.WrapAs(err, appErrors.ErrStoreUnavailable, "failed to close session")
	}
	s.qr.Purge(ctx)
	s.logger.Info("session closed", zap.String("session_id", session.ID))
	return session, nil
}

// Current returns the session view, or nil when no session was ever opened.
func (s *SessionService) Current(ctx context.Context) (*models.SessionView, error) {
	session, err := s.store.GetSession(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, appErrors.WrapAs(err, appErrors.ErrStoreUnavailable, "")
	}
	return s.view(session), nil
}

// Follow streams session changes, starting with the current state. The
// channel closes when ctx ends or the store stops delivering.
func (s *SessionService) Follow(ctx context.Context) (<-chan models.SessionChange, error) {
	ctx, cancel := context.WithCancel(ctx)
	changes, err := s.store.WatchSession(ctx)
	if err != nil {
		cancel()
		return nil, appErrors.WrapAs(err, appErrors.ErrStoreUnavailable, "")
	}

	initial, err := s.store.GetSession(ctx)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		cancel()
		return nil, appErrors.WrapAs(err, appErrors.ErrStoreUnavailable, "")
	}

	out := make(chan models.SessionChange, 1)
	s.metrics.TrackSubscriber("session", 1)
	go func() {
		defer cancel()
		defer close(out)
		defer s.metrics.TrackSubscriber("session", -1)

		out <- models.SessionChange{Session: initial}
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// QRCode renders the entry QR for the open session.
func (s *SessionService) QRCode(ctx context.Context) ([]byte, error) {
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
	png, err := s.qr.PNG(ctx, session.ID, s.EntryURL(session))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render qr code")
	}
	return png, nil
}

// EntryURL is the student page address encoded in the QR code.
func (s *SessionService) EntryURL(session *models.Session) string {
	q := url.Values{}
	q.Set("session", session.ID)
	return s.cfg.PublicBaseURL + s.cfg.EntryPath + "?" + q.Encode()
}

func (s *SessionService) view(session *models.Session) *models.SessionView {
	view := &models.SessionView{Session: session}
	if session.Active {
		view.EntryURL = s.EntryURL(session)
		view.QRURL = s.cfg.PublicBaseURL + strings.TrimRight(s.cfg.APIPrefix, "/") + "/session/qr.png"
	}
	return view
}
