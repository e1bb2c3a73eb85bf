// Package objectstore persists uploaded photos and hands out retrieval URLs.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

const (
	StudentPhotoPrefix   = "student_photos/"
	ClassroomPhotoPrefix = "classroom_photos/"

	keyTimeLayout = "20060102150405"
)

var (
	// ErrUploadFailed wraps every backend failure during Put.
	ErrUploadFailed = errors.New("objectstore: upload failed")
	// ErrNotFound is returned by URLFor when the key does not exist.
	ErrNotFound = errors.New("objectstore: object not found")
)

// Store is the contract every storage backend satisfies. Keys are
// POSIX-style paths such as "classroom_photos/<session>_<ts>.jpg".
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	URLFor(ctx context.Context, key string, expiry time.Duration) (string, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) (bool, error)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// SanitizeFilename mirrors the usual "secure filename" rules: ASCII only,
// separators become underscores, no leading dots or path components.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, "._")
	return name
}

// StudentPhotoKey builds the key for a student's reference photo.
func StudentPhotoKey(studentID string, at time.Time) string {
	return StudentPhotoPrefix + photoName(studentID, at)
}

// ClassroomPhotoKey builds the key for a session's classroom photo.
func ClassroomPhotoKey(sessionID string, at time.Time) string {
	return ClassroomPhotoPrefix + photoName(sessionID, at)
}

func photoName(id string, at time.Time) string {
	name := SanitizeFilename(fmt.Sprintf("%s_%s.jpg", id, at.UTC().Format(keyTimeLayout)))
	if name == "" {
		name = "photo.jpg"
	}
	return name
}

// ContentType guesses a MIME type from a filename extension, defaulting to JPEG.
func ContentType(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	default:
		return "image/jpeg"
	}
}
