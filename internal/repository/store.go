package repository

import (
	"context"
	"errors"

	"github.com/noah-isme/geo-attendance-api/internal/models"
)

var (
	// ErrNotFound is returned when the requested session or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateRegistration is returned by backends that enforce one record per registration number.
	ErrDuplicateRegistration = errors.New("registration number already recorded")
	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("store closed")
)

// Store is the realtime store contract shared by every backend.
type Store interface {
	GetSession(ctx context.Context) (*models.Session, error)
	PutSession(ctx context.Context, session *models.Session) error
	SetSessionActive(ctx context.Context, active bool) (*models.Session, error)
	WatchSession(ctx context.Context) (<-chan models.SessionChange, error)

	AppendRecord(ctx context.Context, record *models.AttendanceRecord) (string, error)
	FindByRegistrationNumber(ctx context.Context, registrationNumber string) (*models.AttendanceRecord, error)
	ListRecords(ctx context.Context) ([]models.AttendanceRecord, error)
	RemoveRecords(ctx context.Context) ([]models.AttendanceRecord, error)
	WatchRecords(ctx context.Context) (<-chan models.RecordChange, error)

	Ping(ctx context.Context) error
	Close() error
}
