package models

import (
	"time"

	"github.com/noah-isme/geo-attendance-api/pkg/geo"
)

// WarningPhotoUploadFailed marks an accepted submission whose photo could not be stored.
const WarningPhotoUploadFailed = "PHOTO_UPLOAD_FAILED"

// AttendanceRecord is one admitted submission. Records are immutable once
// written and only ever removed by a bulk reset.
type AttendanceRecord struct {
	ID                 string    `db:"id" json:"id"`
	SessionID          string    `db:"session_id" json:"session_id"`
	Name               string    `db:"name" json:"name"`
	RegistrationNumber string    `db:"registration_number" json:"registration_number,omitempty"`
	SubmittedLatitude  float64   `db:"submitted_latitude" json:"submitted_latitude"`
	SubmittedLongitude float64   `db:"submitted_longitude" json:"submitted_longitude"`
	DistanceMeters     int       `db:"distance_meters" json:"distance_meters"`
	PhotoURL           string    `db:"photo_url" json:"photo_url,omitempty"`
	PhotoKey           string    `db:"photo_key" json:"-"`
	Timestamp          time.Time `db:"submitted_at" json:"timestamp"`
}

// PhotoUpload is an optional image attached to a submission.
type PhotoUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Candidate is the student input for one submission.
type Candidate struct {
	Name               string       `json:"name" validate:"required,max=120"`
	RegistrationNumber string       `json:"registration_number" validate:"max=64"`
	Photo              *PhotoUpload `json:"-"`
}

// Position is a device geolocation fix.
type Position struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// Point converts the fix into a geo point.
func (p Position) Point() geo.Point {
	return geo.Point{Latitude: p.Latitude, Longitude: p.Longitude}
}

// AdmissionResult is returned for an accepted submission.
type AdmissionResult struct {
	Record   *AttendanceRecord `json:"record"`
	Warnings []string          `json:"warnings,omitempty"`
}
