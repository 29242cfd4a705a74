package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/noah-isme/geo-attendance-api/internal/models"
)

// MemoryStore keeps the session and records in process. It is the default
// backend for development and the reference for the other backends.
type MemoryStore struct {
	mu      sync.RWMutex
	session *models.Session
	records map[string]models.AttendanceRecord
	order   []string
	byReg   map[string]string
	closed  bool

	sessionEvents *broadcaster[models.SessionChange]
	recordEvents  *broadcaster[models.RecordChange]
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:       make(map[string]models.AttendanceRecord),
		byReg:         make(map[string]string),
		sessionEvents: newBroadcaster[models.SessionChange](),
		recordEvents:  newBroadcaster[models.RecordChange](),
	}
}

// GetSession returns a copy of the current session.
func (s *MemoryStore) GetSession(ctx context.Context) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if s.session == nil {
		return nil, ErrNotFound
	}
	cp := *s.session
	return &cp, nil
}

// PutSession replaces the session.
func (s *MemoryStore) PutSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	cp := *session
	s.session = &cp
	s.sessionEvents.publish(models.SessionChange{Session: copySession(&cp)})
	return nil
}

// SetSessionActive flips the active flag on an existing session.
func (s *MemoryStore) SetSessionActive(ctx context.Context, active bool) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if s.session == nil {
		return nil, ErrNotFound
	}
	s.session.Active = active
	s.sessionEvents.publish(models.SessionChange{Session: copySession(s.session)})
	return copySession(s.session), nil
}

// WatchSession streams session changes until ctx ends.
func (s *MemoryStore) WatchSession(ctx context.Context) (<-chan models.SessionChange, error) {
	return s.sessionEvents.subscribe(ctx)
}

// AppendRecord stores the record under a generated id. The registration
// number check and the write happen under one lock.
func (s *MemoryStore) AppendRecord(ctx context.Context, record *models.AttendanceRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrStoreClosed
	}
	if reg := record.RegistrationNumber; reg != "" {
		if _, exists := s.byReg[reg]; exists {
			return "", ErrDuplicateRegistration
		}
	}
	cp := *record
	cp.ID = uuid.NewString()
	s.records[cp.ID] = cp
	s.order = append(s.order, cp.ID)
	if cp.RegistrationNumber != "" {
		s.byReg[cp.RegistrationNumber] = cp.ID
	}
	published := cp
	s.recordEvents.publish(models.RecordChange{Kind: models.RecordAdded, Record: &published})
	return cp.ID, nil
}

// FindByRegistrationNumber returns the record for the registration number.
func (s *MemoryStore) FindByRegistrationNumber(ctx context.Context, registrationNumber string) (*models.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	id, ok := s.byReg[registrationNumber]
	if !ok {
		return nil, ErrNotFound
	}
	rec := s.records[id]
	return &rec, nil
}

// ListRecords returns records in timestamp order, oldest first.
func (s *MemoryStore) ListRecords(ctx context.Context) ([]models.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]models.AttendanceRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// RemoveRecords clears every record and returns what was removed.
func (s *MemoryStore) RemoveRecords(ctx context.Context) ([]models.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	removed := make([]models.AttendanceRecord, 0, len(s.order))
	for _, id := range s.order {
		removed = append(removed, s.records[id])
	}
	s.records = make(map[string]models.AttendanceRecord)
	s.byReg = make(map[string]string)
	s.order = nil
	s.recordEvents.publish(models.RecordChange{Kind: models.RecordsCleared})
	return removed, nil
}

// WatchRecords streams record changes until ctx ends.
func (s *MemoryStore) WatchRecords(ctx context.Context) (<-chan models.RecordChange, error) {
	return s.recordEvents.subscribe(ctx)
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close ends all watchers.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.sessionEvents.close()
	s.recordEvents.close()
	return nil
}

func copySession(in *models.Session) *models.Session {
	if in == nil {
		return nil
	}
	cp := *in
	return &cp
}
