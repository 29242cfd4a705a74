package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/models"
)

const (
	pgSessionChannel = "attendance_session"
	pgRecordsChannel = "attendance_records"

	pgUniqueViolation = "23505"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS attendance_sessions (
    singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
    id TEXT NOT NULL,
    anchor_latitude DOUBLE PRECISION NOT NULL,
    anchor_longitude DOUBLE PRECISION NOT NULL,
    active BOOLEAN NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS attendance_records (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    registration_number TEXT NOT NULL DEFAULT '',
    submitted_latitude DOUBLE PRECISION NOT NULL,
    submitted_longitude DOUBLE PRECISION NOT NULL,
    distance_meters INTEGER NOT NULL,
    photo_url TEXT NOT NULL DEFAULT '',
    photo_key TEXT NOT NULL DEFAULT '',
    submitted_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS attendance_records_registration_uidx
    ON attendance_records (registration_number) WHERE registration_number <> '';
CREATE INDEX IF NOT EXISTS attendance_records_submitted_at_idx ON attendance_records (submitted_at);
`

const (
	sessionColumns = "id, anchor_latitude, anchor_longitude, active, created_at"
	recordColumns  = "id, session_id, name, registration_number, submitted_latitude, submitted_longitude, distance_meters, photo_url, photo_key, submitted_at"
)

// PostgresStore persists the session singleton and records in PostgreSQL and
// relays changes through LISTEN/NOTIFY.
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger

	listener      *pq.Listener
	sessionEvents *broadcaster[models.SessionChange]
	recordEvents  *broadcaster[models.RecordChange]
}

// NewPostgresStore constructs a postgres backed store.
func NewPostgresStore(db *sqlx.DB, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{
		db:            db,
		logger:        logger,
		sessionEvents: newBroadcaster[models.SessionChange](),
		recordEvents:  newBroadcaster[models.RecordChange](),
	}
}

// Migrate creates the tables when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate attendance schema: %w", err)
	}
	return nil
}

// Listen opens a dedicated LISTEN connection and feeds watchers until ctx ends.
func (s *PostgresStore) Listen(ctx context.Context, dsn string) error {
	listener := pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			s.logger.Warn("postgres listener disconnected", zap.Error(err))
		case pq.ListenerEventReconnected:
			s.logger.Info("postgres listener reconnected")
		}
	})
	for _, channel := range []string{pgSessionChannel, pgRecordsChannel} {
		if err := listener.Listen(channel); err != nil {
			_ = listener.Close()
			return fmt.Errorf("listen %s: %w", channel, err)
		}
	}
	s.listener = listener

	go func() {
		ticker := time.NewTicker(90 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				if n == nil {
					s.logger.Warn("postgres listener reconnected, changes may have been missed")
					continue
				}
				s.dispatch(n.Channel, n.Extra)
			case <-ticker.C:
				if err := listener.Ping(); err != nil {
					s.logger.Warn("postgres listener ping failed", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

func (s *PostgresStore) dispatch(channel, payload string) {
	switch channel {
	case pgSessionChannel:
		var change models.SessionChange
		if err := json.Unmarshal([]byte(payload), &change); err != nil {
			s.logger.Warn("dropping undecodable session notification", zap.Error(err))
			return
		}
		s.sessionEvents.publish(change)
	case pgRecordsChannel:
		var change models.RecordChange
		if err := json.Unmarshal([]byte(payload), &change); err != nil {
			s.logger.Warn("dropping undecodable record notification", zap.Error(err))
			return
		}
		s.recordEvents.publish(change)
	}
}

// GetSession loads the singleton row.
func (s *PostgresStore) GetSession(ctx context.Context) (*models.Session, error) {
	var session models.Session
	query := "SELECT " + sessionColumns + " FROM attendance_sessions WHERE singleton"
	if err := s.db.GetContext(ctx, &session, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// PutSession upserts the singleton row.
func (s *PostgresStore) PutSession(ctx context.Context, session *models.Session) error {
	return s.inTx(ctx, "put session", func(tx *sqlx.Tx) error {
		query := `INSERT INTO attendance_sessions (singleton, ` + sessionColumns + `)
VALUES (TRUE, $1, $2, $3, $4, $5)
ON CONFLICT (singleton) DO UPDATE SET id = EXCLUDED.id, anchor_latitude = EXCLUDED.anchor_latitude,
anchor_longitude = EXCLUDED.anchor_longitude, active = EXCLUDED.active, created_at = EXCLUDED.created_at`
		if _, err := tx.ExecContext(ctx, query, session.ID, session.AnchorLatitude, session.AnchorLongitude, session.Active, session.CreatedAt); err != nil {
			return err
		}
		return notify(ctx, tx, pgSessionChannel, models.SessionChange{Session: session})
	})
}

// SetSessionActive updates only the active column.
func (s *PostgresStore) SetSessionActive(ctx context.Context, active bool) (*models.Session, error) {
	var session models.Session
	err := s.inTx(ctx, "set session active", func(tx *sqlx.Tx) error {
		query := "UPDATE attendance_sessions SET active = $1 WHERE singleton RETURNING " + sessionColumns
		if err := tx.GetContext(ctx, &session, query, active); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		return notify(ctx, tx, pgSessionChannel, models.SessionChange{Session: &session})
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// WatchSession subscribes to session notifications.
func (s *PostgresStore) WatchSession(ctx context.Context) (<-chan models.SessionChange, error) {
	return s.sessionEvents.subscribe(ctx)
}

// AppendRecord inserts the record. The partial unique index rejects a second
// record for the same registration number.
func (s *PostgresStore) AppendRecord(ctx context.Context, record *models.AttendanceRecord) (string, error) {
	rec := *record
	rec.ID = uuid.NewString()
	err := s.inTx(ctx, "append record", func(tx *sqlx.Tx) error {
		query := `INSERT INTO attendance_records (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
		if _, err := tx.ExecContext(ctx, query, rec.ID, rec.SessionID, rec.Name, rec.RegistrationNumber,
			rec.SubmittedLatitude, rec.SubmittedLongitude, rec.DistanceMeters, rec.PhotoURL, rec.PhotoKey, rec.Timestamp); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
				return ErrDuplicateRegistration
			}
			return err
		}
		return notify(ctx, tx, pgRecordsChannel, models.RecordChange{Kind: models.RecordAdded, Record: &rec})
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// FindByRegistrationNumber looks up a record by registration number.
func (s *PostgresStore) FindByRegistrationNumber(ctx context.Context, registrationNumber string) (*models.AttendanceRecord, error) {
	var rec models.AttendanceRecord
	query := "SELECT " + recordColumns + " FROM attendance_records WHERE registration_number = $1 LIMIT 1"
	if err := s.db.GetContext(ctx, &rec, query, registrationNumber); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find record by registration number: %w", err)
	}
	return &rec, nil
}

// ListRecords returns all records, oldest first.
func (s *PostgresStore) ListRecords(ctx context.Context) ([]models.AttendanceRecord, error) {
	var records []models.AttendanceRecord
	query := "SELECT " + recordColumns + " FROM attendance_records ORDER BY submitted_at ASC, id ASC"
	if err := s.db.SelectContext(ctx, &records, query); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// RemoveRecords deletes every record and returns the deleted rows.
func (s *PostgresStore) RemoveRecords(ctx context.Context) ([]models.AttendanceRecord, error) {
	var removed []models.AttendanceRecord
	err := s.inTx(ctx, "remove records", func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &removed, "DELETE FROM attendance_records RETURNING "+recordColumns); err != nil {
			return err
		}
		return notify(ctx, tx, pgRecordsChannel, models.RecordChange{Kind: models.RecordsCleared})
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// WatchRecords subscribes to record notifications.
func (s *PostgresStore) WatchRecords(ctx context.Context) (<-chan models.RecordChange, error) {
	return s.recordEvents.subscribe(ctx)
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the listener and closes the pool.
func (s *PostgresStore) Close() error {
	s.sessionEvents.close()
	s.recordEvents.close()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return s.db.Close()
}

func (s *PostgresStore) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateRegistration) {
			return err
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func notify(ctx context.Context, tx *sqlx.Tx, channel string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, string(raw)); err != nil {
		return fmt.Errorf("notify %s: %w", channel, err)
	}
	return nil
}
