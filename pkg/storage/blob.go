package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

// ErrBlobNotFound is returned when a stored object does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// Object describes an uploaded photo.
type Object struct {
	// Handle identifies the object for later deletion.
	Handle string
	// URL is the retrievable address recorded on the attendance record.
	URL string
}

// BlobStore is the contract photo backends implement.
type BlobStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (Object, error)
	Delete(ctx context.Context, handle string) error
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// PhotoKey builds the object key for a student photo:
// students/<registration>_<unix millis>_<filename>.
func PhotoKey(registrationNumber, filename string, at time.Time) string {
	reg := sanitize(registrationNumber)
	if reg == "" {
		reg = "anon"
	}
	name := sanitize(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	if name == "" || name == "." {
		name = "photo"
	}
	return fmt.Sprintf("students/%s_%d_%s", reg, at.UnixMilli(), name)
}

func sanitize(raw string) string {
	cleaned := unsafeChars.ReplaceAllString(strings.TrimSpace(raw), "_")
	cleaned = strings.Trim(cleaned, "._")
	if len(cleaned) > 80 {
		cleaned = cleaned[len(cleaned)-80:]
	}
	return cleaned
}
