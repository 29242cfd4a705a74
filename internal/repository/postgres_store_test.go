package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/geo-attendance-api/internal/models"
)

func newPostgresMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresStore(sqlx.NewDb(db, "sqlmock"), nil), mock, func() { db.Close() }
}

var sessionRowColumns = []string{"id", "anchor_latitude", "anchor_longitude", "active", "created_at"}

func TestPostgresStoreGetSession(t *testing.T) {
	store, mock, cleanup := newPostgresMock(t)
	defer cleanup()

	created := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, anchor_latitude, anchor_longitude, active, created_at FROM attendance_sessions WHERE singleton")).
		WillReturnRows(sqlmock.NewRows(sessionRowColumns).AddRow("s1", -6.2, 106.8, true, created))

	session, err := store.GetSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s1", session.ID)
	assert.Equal(t, -6.2, session.AnchorLatitude)
	assert.True(t, session.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetSessionAbsent(t *testing.T) {
	store, mock, cleanup := newPostgresMock(t)
	defer cleanup()

	mock.ExpectQuery("FROM attendance_sessions").WillReturnRows(sqlmock.NewRows(sessionRowColumns))

	_, err := store.GetSession(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorePutSessionNotifies(t *testing.T) {
	store, mock, cleanup := newPostgresMock(t)
	defer cleanup()

	session := &models.Session{ID: "s1", AnchorLatitude: 1, AnchorLongitude: 2, Active: true, CreatedAt: time.Now()}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO attendance_sessions").
		WithArgs("s1", 1.0, 2.0, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_notify($1, $2)")).
		WithArgs("attendance_session", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, store.PutSession(context.Background(), session))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSetSessionActiveAbsent(t *testing.T) {
	store, mock, cleanup := newPostgresMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE attendance_sessions SET active = $1 WHERE singleton RETURNING")).
		WithArgs(false).
		WillReturnRows(sqlmock.NewRows(sessionRowColumns))
	mock.ExpectRollback()

	_, err := store.SetSessionActive(context.Background(), false)
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSetSessionActive(t *testing.T) {
	store, mock, cleanup := newPostgresMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE attendance_sessions SET active").
		WithArgs(false).
		WillReturnRows(sqlmock.NewRows(sessionRowColumns).AddRow("s1", 1.0, 2.0, false, time.Now()))
	mock.ExpectExec("pg_notify").WithArgs("attendance_session", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	session, err := store.SetSessionActive(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, session.Active)
	assert.Equal(t, 1.0, session.AnchorLatitude)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreAppendRecordDuplicate(t *testing.T) {
	store, mock, cleanup := newPostgresMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO attendance_records").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "attendance_records_registration_uidx"})
	mock.ExpectRollback()

	_, err := store.AppendRecord(context.Background(), &models.AttendanceRecord{Name: "Ana", RegistrationNumber: "A100"})
	require.ErrorIs(t, err, ErrDuplicateRegistration)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreAppendRecord(t *testing.T) {
	store, mock, cleanup := newPostgresMock(t)
	defer cleanup()

	ts := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO attendance_records").
		WithArgs(sqlmock.AnyArg(), "s1", "Ana", "A100", 1.0, 2.0, 12, "", "", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("pg_notify").WithArgs("attendance_records", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	id, err := store.AppendRecord(context.Background(), &models.AttendanceRecord{
		SessionID: "s1", Name: "Ana", RegistrationNumber: "A100",
		SubmittedLatitude: 1, SubmittedLongitude: 2, DistanceMeters: 12, Timestamp: ts,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreAppendRecordFailure(t *testing.T) {
	store, mock, cleanup := newPostgresMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO attendance_records").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.AppendRecord(context.Background(), &models.AttendanceRecord{Name: "Ana"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDuplicateRegistration))
	assert.Contains(t, err.Error(), "append record")
}

func TestPostgresStoreListAndRemove(t *testing.T) {
	store, mock, cleanup := newPostgresMock(t)
	defer cleanup()

	cols := []string{"id", "session_id", "name", "registration_number", "submitted_latitude", "submitted_longitude", "distance_meters", "photo_url", "photo_key", "submitted_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM attendance_records ORDER BY submitted_at ASC, id ASC")).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("r1", "s1", "Ana", "A100", 1.0, 2.0, 3, "", "", time.Now()).
			AddRow("r2", "s1", "Budi", "", 1.0, 2.0, 4, "https://cdn/p.jpg", "students/p.jpg", time.Now()))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM attendance_records RETURNING id")).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("r1", "s1", "Ana", "A100", 1.0, 2.0, 3, "", "", time.Now()).
			AddRow("r2", "s1", "Budi", "", 1.0, 2.0, 4, "https://cdn/p.jpg", "students/p.jpg", time.Now()))
	mock.ExpectExec("pg_notify").WithArgs("attendance_records", `{"kind":"cleared"}`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	records, err := store.ListRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "students/p.jpg", records[1].PhotoKey)

	removed, err := store.RemoveRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, removed, 2)
	assert.Equal(t, "students/p.jpg", removed[1].PhotoKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreDispatchFeedsWatchers(t *testing.T) {
	store, _, cleanup := newPostgresMock(t)
	defer cleanup()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := store.WatchRecords(ctx)
	require.NoError(t, err)

	store.dispatch(pgRecordsChannel, `{"kind":"added","record":{"id":"r1","name":"Ana","timestamp":"2024-03-01T08:00:00Z"}}`)
	store.dispatch(pgRecordsChannel, `not json`)
	store.dispatch(pgRecordsChannel, `{"kind":"cleared"}`)

	added := receive(t, changes)
	assert.Equal(t, models.RecordAdded, added.Kind)
	assert.Equal(t, "r1", added.Record.ID)
	assert.Equal(t, models.RecordsCleared, receive(t, changes).Kind)
}
