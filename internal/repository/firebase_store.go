package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/models"
)

const (
	firebaseSessionPath = "attendance/session"
	firebaseRecordsPath = "attendance/students"
)

var errSessionMissing = errors.New("session missing")

// FirebaseStore keeps data in the Firebase Realtime Database using the
// attendance/session and attendance/students layout of the browser client.
// The Admin SDK has no streaming listeners, so watchers are fed by polling.
// Registration numbers are checked before writing but not enforced by the
// database; the rules should declare ".indexOn": "regNumber" on students.
type FirebaseStore struct {
	client       *db.Client
	logger       *zap.Logger
	pollInterval time.Duration

	sessionEvents *broadcaster[models.SessionChange]
	recordEvents  *broadcaster[models.RecordChange]

	pollOnce sync.Once
	cancel   context.CancelFunc
}

type firebaseSession struct {
	ID         string  `json:"id,omitempty"`
	TeacherLat float64 `json:"teacherLat"`
	TeacherLng float64 `json:"teacherLng"`
	Timestamp  int64   `json:"timestamp"`
	Active     bool    `json:"active"`
}

type firebaseRecord struct {
	Name       string  `json:"name"`
	RegNumber  string  `json:"regNumber"`
	StudentLat float64 `json:"studentLat"`
	StudentLng float64 `json:"studentLng"`
	Distance   float64 `json:"distance"`
	Timestamp  int64   `json:"timestamp"`
	PhotoURL   string  `json:"photoURL,omitempty"`
	PhotoKey   string  `json:"photoKey,omitempty"`
	SessionID  string  `json:"sessionId,omitempty"`
}

// NewFirebaseStore constructs a store over a realtime database client.
func NewFirebaseStore(client *db.Client, pollInterval time.Duration, logger *zap.Logger) *FirebaseStore {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirebaseStore{
		client:        client,
		logger:        logger,
		pollInterval:  pollInterval,
		sessionEvents: newBroadcaster[models.SessionChange](),
		recordEvents:  newBroadcaster[models.RecordChange](),
	}
}

// GetSession reads attendance/session.
func (s *FirebaseStore) GetSession(ctx context.Context) (*models.Session, error) {
	var fs *firebaseSession
	if err := s.client.NewRef(firebaseSessionPath).Get(ctx, &fs); err != nil {
		return nil, fmt.Errorf("firebase get session: %w", err)
	}
	if fs == nil {
		return nil, ErrNotFound
	}
	return fs.model(), nil
}

// PutSession sets attendance/session, replacing all fields.
func (s *FirebaseStore) PutSession(ctx context.Context, session *models.Session) error {
	if err := s.client.NewRef(firebaseSessionPath).Set(ctx, toFirebaseSession(session)); err != nil {
		return fmt.Errorf("firebase put session: %w", err)
	}
	return nil
}

// SetSessionActive patches the active flag inside a transaction so an absent
// session is never recreated.
func (s *FirebaseStore) SetSessionActive(ctx context.Context, active bool) (*models.Session, error) {
	var result *firebaseSession
	err := s.client.NewRef(firebaseSessionPath).Transaction(ctx, func(node db.TransactionNode) (interface{}, error) {
		var current *firebaseSession
		if err := node.Unmarshal(&current); err != nil {
			return nil, err
		}
		if current == nil {
			return nil, errSessionMissing
		}
		current.Active = active
		result = current
		return current, nil
	})
	if errors.Is(err, errSessionMissing) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firebase set session active: %w", err)
	}
	return result.model(), nil
}

// WatchSession delivers session changes observed by the poller.
func (s *FirebaseStore) WatchSession(ctx context.Context) (<-chan models.SessionChange, error) {
	s.startPolling()
	return s.sessionEvents.subscribe(ctx)
}

// AppendRecord pushes a new child under attendance/students.
func (s *FirebaseStore) AppendRecord(ctx context.Context, record *models.AttendanceRecord) (string, error) {
	ref, err := s.client.NewRef(firebaseRecordsPath).Push(ctx, toFirebaseRecord(record))
	if err != nil {
		return "", fmt.Errorf("firebase push record: %w", err)
	}
	return ref.Key, nil
}

// FindByRegistrationNumber queries students ordered by regNumber.
func (s *FirebaseStore) FindByRegistrationNumber(ctx context.Context, registrationNumber string) (*models.AttendanceRecord, error) {
	var found map[string]firebaseRecord
	q := s.client.NewRef(firebaseRecordsPath).OrderByChild("regNumber").EqualTo(registrationNumber).LimitToFirst(1)
	if err := q.Get(ctx, &found); err != nil {
		return nil, fmt.Errorf("firebase find registration: %w", err)
	}
	for key, rec := range found {
		out := rec.model(key)
		return &out, nil
	}
	return nil, ErrNotFound
}

// ListRecords reads every student record, oldest first.
func (s *FirebaseStore) ListRecords(ctx context.Context) ([]models.AttendanceRecord, error) {
	var all map[string]firebaseRecord
	if err := s.client.NewRef(firebaseRecordsPath).Get(ctx, &all); err != nil {
		return nil, fmt.Errorf("firebase list records: %w", err)
	}
	return recordsFromMap(all), nil
}

// RemoveRecords deletes attendance/students in a transaction and returns the
// records it held at commit time. Watchers are told right away instead of
// waiting for the next poll.
func (s *FirebaseStore) RemoveRecords(ctx context.Context) ([]models.AttendanceRecord, error) {
	var removed map[string]firebaseRecord
	err := s.client.NewRef(firebaseRecordsPath).Transaction(ctx, func(node db.TransactionNode) (interface{}, error) {
		removed = nil
		if err := node.Unmarshal(&removed); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("firebase remove records: %w", err)
	}
	s.recordEvents.publish(models.RecordChange{Kind: models.RecordsCleared})
	return recordsFromMap(removed), nil
}

// WatchRecords delivers record changes observed by the poller.
func (s *FirebaseStore) WatchRecords(ctx context.Context) (<-chan models.RecordChange, error) {
	s.startPolling()
	return s.recordEvents.subscribe(ctx)
}

// Ping reads the session node.
func (s *FirebaseStore) Ping(ctx context.Context) error {
	var raw interface{}
	return s.client.NewRef(firebaseSessionPath).Get(ctx, &raw)
}

// Close stops the poller.
func (s *FirebaseStore) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.sessionEvents.close()
	s.recordEvents.close()
	return nil
}

func (s *FirebaseStore) startPolling() {
	s.pollOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		p := &firebasePoller{store: s, known: make(map[string]struct{})}
		// baseline before returning so the first subscriber only sees later changes
		p.poll(ctx, true)
		go p.run(ctx)
	})
}

type firebasePoller struct {
	store   *FirebaseStore
	session *models.Session
	known   map[string]struct{}
}

func (p *firebasePoller) run(ctx context.Context) {
	ticker := time.NewTicker(p.store.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, false)
		}
	}
}

func (p *firebasePoller) poll(ctx context.Context, baseline bool) {
	pollCtx, cancel := context.WithTimeout(ctx, p.store.pollInterval*4)
	defer cancel()

	session, err := p.store.GetSession(pollCtx)
	switch {
	case errors.Is(err, ErrNotFound):
		session = nil
	case err != nil:
		p.store.logger.Warn("firebase session poll failed", zap.Error(err))
		return
	}
	if !baseline && !sameSession(p.session, session) {
		p.store.sessionEvents.publish(models.SessionChange{Session: session})
	}
	p.session = session

	records, err := p.store.ListRecords(pollCtx)
	if err != nil {
		p.store.logger.Warn("firebase records poll failed", zap.Error(err))
		return
	}
	p.diffRecords(records, baseline)
}

// diffRecords publishes the changes between the last poll and records. When a
// known record disappeared the feed is rebuilt: a clear, then every current
// record as added.
func (p *firebasePoller) diffRecords(records []models.AttendanceRecord, baseline bool) {
	seen := make(map[string]struct{}, len(records))
	for i := range records {
		seen[records[i].ID] = struct{}{}
	}
	defer func() { p.known = seen }()
	if baseline {
		return
	}

	cleared := false
	for id := range p.known {
		if _, ok := seen[id]; !ok {
			cleared = true
			break
		}
	}
	if cleared {
		p.store.recordEvents.publish(models.RecordChange{Kind: models.RecordsCleared})
	}
	for i := range records {
		rec := records[i]
		if _, ok := p.known[rec.ID]; ok && !cleared {
			continue
		}
		p.store.recordEvents.publish(models.RecordChange{Kind: models.RecordAdded, Record: &rec})
	}
}

func sameSession(a, b *models.Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.Active == b.Active && a.AnchorLatitude == b.AnchorLatitude && a.AnchorLongitude == b.AnchorLongitude
}

func toFirebaseSession(s *models.Session) firebaseSession {
	return firebaseSession{
		ID:         s.ID,
		TeacherLat: s.AnchorLatitude,
		TeacherLng: s.AnchorLongitude,
		Timestamp:  s.CreatedAt.UnixMilli(),
		Active:     s.Active,
	}
}

func (f *firebaseSession) model() *models.Session {
	return &models.Session{
		ID:              f.ID,
		AnchorLatitude:  f.TeacherLat,
		AnchorLongitude: f.TeacherLng,
		Active:          f.Active,
		CreatedAt:       time.UnixMilli(f.Timestamp).UTC(),
	}
}

func toFirebaseRecord(r *models.AttendanceRecord) firebaseRecord {
	return firebaseRecord{
		Name:       r.Name,
		RegNumber:  r.RegistrationNumber,
		StudentLat: r.SubmittedLatitude,
		StudentLng: r.SubmittedLongitude,
		Distance:   float64(r.DistanceMeters),
		Timestamp:  r.Timestamp.UnixMilli(),
		PhotoURL:   r.PhotoURL,
		PhotoKey:   r.PhotoKey,
		SessionID:  r.SessionID,
	}
}

func (f firebaseRecord) model(key string) models.AttendanceRecord {
	return models.AttendanceRecord{
		ID:                 key,
		SessionID:          f.SessionID,
		Name:               f.Name,
		RegistrationNumber: f.RegNumber,
		SubmittedLatitude:  f.StudentLat,
		SubmittedLongitude: f.StudentLng,
		DistanceMeters:     int(math.Round(f.Distance)),
		PhotoURL:           f.PhotoURL,
		PhotoKey:           f.PhotoKey,
		Timestamp:          time.UnixMilli(f.Timestamp).UTC(),
	}
}

func recordsFromMap(all map[string]firebaseRecord) []models.AttendanceRecord {
	out := make([]models.AttendanceRecord, 0, len(all))
	for key, rec := range all {
		out = append(out, rec.model(key))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
