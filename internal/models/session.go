package models

import (
	"time"

	"github.com/noah-isme/geo-attendance-api/pkg/geo"
)

// Session is the singleton attendance window opened by the teacher. Opening
// replaces it wholesale; closing only flips Active.
type Session struct {
	ID              string    `db:"id" json:"id"`
	AnchorLatitude  float64   `db:"anchor_latitude" json:"anchor_latitude"`
	AnchorLongitude float64   `db:"anchor_longitude" json:"anchor_longitude"`
	Active          bool      `db:"active" json:"active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Anchor returns the teacher's recorded coordinates.
func (s *Session) Anchor() geo.Point {
	return geo.Point{Latitude: s.AnchorLatitude, Longitude: s.AnchorLongitude}
}

// SessionChange carries the session value after a change. A nil Session
// means the singleton is absent.
type SessionChange struct {
	Session *Session `json:"session"`
}

// SessionView is returned to the teacher after opening a session.
type SessionView struct {
	Session  *Session `json:"session"`
	EntryURL string   `json:"entry_url,omitempty"`
	QRURL    string   `json:"qr_url,omitempty"`
}

// ResetToken confirms a destructive reset of all attendance records.
type ResetToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ResetResult summarises a completed reset.
type ResetResult struct {
	Removed     int    `json:"removed"`
	PurgeJobID  string `json:"purge_job_id,omitempty"`
	PhotosQueue int    `json:"photos_queued"`
}
