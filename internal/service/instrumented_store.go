package service

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/geo-attendance-api/internal/models"
	"github.com/noah-isme/geo-attendance-api/internal/repository"
)

// InstrumentedStore times every store call into MetricsService.
type InstrumentedStore struct {
	repository.Store
	metrics *MetricsService
}

// NewInstrumentedStore wraps store. A nil metrics service disables timing.
func NewInstrumentedStore(store repository.Store, metrics *MetricsService) *InstrumentedStore {
	return &InstrumentedStore{Store: store, metrics: metrics}
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		err = nil
	}
	s.metrics.ObserveStoreOperation(op, time.Since(start), err)
}

func (s *InstrumentedStore) GetSession(ctx context.Context) (*models.Session, error) {
	start := time.Now()
	session, err := s.Store.GetSession(ctx)
	s.observe("get_session", start, err)
	return session, err
}

func (s *InstrumentedStore) PutSession(ctx context.Context, session *models.Session) error {
	start := time.Now()
	err := s.Store.PutSession(ctx, session)
	s.observe("put_session", start, err)
	return err
}

func (s *InstrumentedStore) SetSessionActive(ctx context.Context, active bool) (*models.Session, error) {
	start := time.Now()
	session, err := s.Store.SetSessionActive(ctx, active)
	s.observe("set_session_active", start, err)
	return session, err
}

func (s *InstrumentedStore) AppendRecord(ctx context.Context, record *models.AttendanceRecord) (string, error) {
	start := time.Now()
	id, err := s.Store.AppendRecord(ctx, record)
	s.observe("append_record", start, err)
	return id, err
}

func (s *InstrumentedStore) FindByRegistrationNumber(ctx context.Context, registrationNumber string) (*models.AttendanceRecord, error) {
	start := time.Now()
	rec, err := s.Store.FindByRegistrationNumber(ctx, registrationNumber)
	s.observe("find_by_registration", start, err)
	return rec, err
}

func (s *InstrumentedStore) ListRecords(ctx context.Context) ([]models.AttendanceRecord, error) {
	start := time.Now()
	records, err := s.Store.ListRecords(ctx)
	s.observe("list_records", start, err)
	return records, err
}

func (s *InstrumentedStore) RemoveRecords(ctx context.Context) ([]models.AttendanceRecord, error) {
	start := time.Now()
	removed, err := s.Store.RemoveRecords(ctx)
	s.observe("remove_records", start, err)
	return removed, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.Store.Ping(ctx)
	s.observe("ping", start, err)
	return err
}
