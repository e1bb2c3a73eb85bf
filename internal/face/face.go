// Package face defines the face encoding, detection and matching contracts
// used by the attendance workflow, together with local implementations.
package face

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// EncodingSize is the length of every encoding produced in this domain.
const EncodingSize = 128

var (
	// ErrDecode is returned when image bytes cannot be decoded.
	ErrDecode = errors.New("face: image decode failed")
	// ErrNoFace is returned by an Encoder when the image holds no face.
	ErrNoFace = errors.New("face: no face found")
)

// Encoding is a fixed-length feature vector representing one face.
type Encoding []float64

// Serialize renders the encoding as a JSON array of doubles.
func (e Encoding) Serialize() (string, error) {
	b, err := json.Marshal([]float64(e))
	if err != nil {
		return "", fmt.Errorf("face: serialize encoding: %w", err)
	}
	return string(b), nil
}

// ParseEncoding reads an encoding stored by Serialize.
func ParseEncoding(text string) (Encoding, error) {
	var values []float64
	if err := json.Unmarshal([]byte(text), &values); err != nil {
		return nil, fmt.Errorf("face: invalid encoding: %w", err)
	}
	return values, nil
}

// Value stores the encoding as TEXT; an empty encoding is NULL.
func (e Encoding) Value() (driver.Value, error) {
	if len(e) == 0 {
		return nil, nil
	}
	text, err := e.Serialize()
	if err != nil {
		return nil, err
	}
	return text, nil
}

// Scan implements sql.Scanner.
func (e *Encoding) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*e = nil
		return nil
	case string:
		return e.parseInto(v)
	case []byte:
		return e.parseInto(string(v))
	default:
		return fmt.Errorf("face: cannot scan %T into Encoding", src)
	}
}

func (e *Encoding) parseInto(text string) error {
	if text == "" {
		*e = nil
		return nil
	}
	parsed, err := ParseEncoding(text)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// BoundingBox is a face region in pixel coordinates.
type BoundingBox struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Valid reports whether the box has positive height and width.
func (b BoundingBox) Valid() bool {
	return b.Top < b.Bottom && b.Left < b.Right
}

// DetectedFace pairs a region with the encoding of the face inside it.
type DetectedFace struct {
	Box      BoundingBox `json:"box"`
	Encoding Encoding    `json:"encoding"`
}

// Encoder turns a single-face image into an Encoding.
type Encoder interface {
	Encode(ctx context.Context, image []byte) (Encoding, error)
}

// Detector finds every face in an image. No faces is an empty slice, not an error.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]DetectedFace, error)
}

// Matcher decides whether a reference face appears among candidates.
// Confidence is in (0, 1] when present and exactly 0 otherwise.
type Matcher interface {
	Match(reference Encoding, candidates []Encoding, tolerance float64) (present bool, confidence float64)
}

// Encodings extracts the encodings of detected faces.
func Encodings(faces []DetectedFace) []Encoding {
	out := make([]Encoding, 0, len(faces))
	for _, f := range faces {
		out = append(out, f.Encoding)
	}
	return out
}
