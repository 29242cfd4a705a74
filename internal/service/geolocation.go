package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/geo-attendance-api/internal/models"
	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
)

// LocationErrorKind classifies why a fix could not be obtained.
type LocationErrorKind string

const (
	LocationPermissionDenied LocationErrorKind = "permission_denied"
	LocationUnavailable      LocationErrorKind = "unavailable"
	LocationTimeout          LocationErrorKind = "timeout"
	LocationUnknown          LocationErrorKind = "unknown"
)

var locationMessages = map[LocationErrorKind]string{
	LocationPermissionDenied: "location permission denied, allow location access and try again",
	LocationUnavailable:      "location information is unavailable",
	LocationTimeout:          "the request to get your location timed out",
	LocationUnknown:          "an unknown error occurred while getting your location",
}

// LocationError is returned by locators.
type LocationError struct {
	Kind LocationErrorKind
	Err  error
}

func (e *LocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("location %s: %v", e.Kind, e.Err)
	}
	return "location " + string(e.Kind)
}

func (e *LocationError) Unwrap() error { return e.Err }

// Locator produces a device position.
type Locator interface {
	Locate(ctx context.Context) (models.Position, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context) (models.Position, error)

// Locate implements Locator.
func (f LocatorFunc) Locate(ctx context.Context) (models.Position, error) { return f(ctx) }

// ReportedPosition is a fix (or failure) reported by the browser alongside a
// request. ErrorCode carries the Geolocation API error, numeric or symbolic.
//
// CapturedAt is read from the device clock. When the device also reports SentAt
// (its clock when the request left) and ReceivedAt is set, the capture time is
// rebased onto the server clock so device clock skew does not age the fix.
type ReportedPosition struct {
	Latitude     *float64
	Longitude    *float64
	Accuracy     float64
	CapturedAt   time.Time
	SentAt       time.Time
	ReceivedAt   time.Time
	ErrorCode    string
	ErrorMessage string
}

// Locate implements Locator.
func (r ReportedPosition) Locate(ctx context.Context) (models.Position, error) {
	if code := strings.TrimSpace(r.ErrorCode); code != "" {
		var err error
		if r.ErrorMessage != "" {
			err = errors.New(r.ErrorMessage)
		}
		return models.Position{}, &LocationError{Kind: kindFromCode(code), Err: err}
	}
	if r.Latitude == nil || r.Longitude == nil {
		return models.Position{}, &LocationError{Kind: LocationUnavailable, Err: errors.New("no coordinates reported")}
	}
	return models.Position{
		Latitude:   *r.Latitude,
		Longitude:  *r.Longitude,
		Accuracy:   r.Accuracy,
		CapturedAt: r.serverCaptureTime(),
	}, nil
}

func (r ReportedPosition) serverCaptureTime() time.Time {
	if r.CapturedAt.IsZero() || r.SentAt.IsZero() || r.ReceivedAt.IsZero() {
		return r.CapturedAt
	}
	return r.ReceivedAt.Add(r.CapturedAt.Sub(r.SentAt))
}

func kindFromCode(code string) LocationErrorKind {
	switch strings.ToUpper(code) {
	case "1", "PERMISSION_DENIED", "PERMISSION-DENIED":
		return LocationPermissionDenied
	case "2", "POSITION_UNAVAILABLE", "UNAVAILABLE":
		return LocationUnavailable
	case "3", "TIMEOUT":
		return LocationTimeout
	default:
		return LocationUnknown
	}
}

// locate obtains a fresh, in-range fix within timeout.
func locate(ctx context.Context, locator Locator, timeout, maxAge time.Duration, now time.Time) (models.Position, error) {
	if locator == nil {
		return models.Position{}, locationError(LocationUnavailable, errors.New("no locator"))
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type fix struct {
		pos models.Position
		err error
	}
	done := make(chan fix, 1)
	go func() {
		pos, err := locator.Locate(ctx)
		done <- fix{pos: pos, err: err}
	}()

	var got fix
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.Position{}, locationError(LocationTimeout, ctx.Err())
		}
		return models.Position{}, locationError(LocationUnknown, ctx.Err())
	case got = <-done:
	}

	if got.err != nil {
		var le *LocationError
		switch {
		case errors.As(got.err, &le):
			return models.Position{}, locationError(le.Kind, got.err)
		case errors.Is(got.err, context.DeadlineExceeded):
			return models.Position{}, locationError(LocationTimeout, got.err)
		default:
			return models.Position{}, locationError(LocationUnknown, got.err)
		}
	}

	pos := got.pos
	if !pos.Point().Valid() {
		return models.Position{}, locationError(LocationUnavailable, fmt.Errorf("coordinates out of range: %f,%f", pos.Latitude, pos.Longitude))
	}
	if pos.CapturedAt.IsZero() {
		pos.CapturedAt = now
	}
	if maxAge > 0 && now.Sub(pos.CapturedAt) > maxAge {
		return models.Position{}, locationError(LocationTimeout, fmt.Errorf("stale fix captured at %s", pos.CapturedAt.Format(time.RFC3339)))
	}
	return pos, nil
}

func locationError(kind LocationErrorKind, err error) *appErrors.Error {
	appErr := appErrors.WithDetails(appErrors.ErrLocation, map[string]interface{}{"reason": string(kind)})
	appErr.Message = locationMessages[kind]
	appErr.Err = err
	return appErr
}
