package dto

import "time"

// LocationPayload is the browser geolocation result sent with a request.
// Either coordinates or LocationError (Geolocation API code or name) is set.
type LocationPayload struct {
	Latitude             *float64 `json:"latitude" form:"latitude"`
	Longitude            *float64 `json:"longitude" form:"longitude"`
	Accuracy             float64  `json:"accuracy" form:"accuracy"`
	CapturedAt           int64    `json:"captured_at" form:"captured_at"`
	SentAt               int64    `json:"sent_at" form:"sent_at"`
	LocationError        string   `json:"location_error" form:"location_error"`
	LocationErrorMessage string   `json:"location_error_message" form:"location_error_message"`
}

// CapturedTime converts the epoch millisecond capture time.
func (p LocationPayload) CapturedTime() time.Time {
	if p.CapturedAt <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.CapturedAt).UTC()
}

// SentTime converts the epoch millisecond device time at which the request
// was sent.
func (p LocationPayload) SentTime() time.Time {
	if p.SentAt <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.SentAt).UTC()
}

// OpenSessionRequest carries the teacher's location.
type OpenSessionRequest struct {
	LocationPayload
}

// SubmitAttendanceRequest is the student submission. Multipart requests may
// also carry a "photo" file part.
type SubmitAttendanceRequest struct {
	Name               string `json:"name" form:"name"`
	RegistrationNumber string `json:"registration_number" form:"registration_number"`
	LocationPayload
}

// SessionStatus is the public session state.
type SessionStatus struct {
	Active    bool       `json:"active"`
	SessionID string     `json:"session_id,omitempty"`
	OpenedAt  *time.Time `json:"opened_at,omitempty"`
	EntryURL  string     `json:"entry_url,omitempty"`
	QRURL     string     `json:"qr_url,omitempty"`
}
