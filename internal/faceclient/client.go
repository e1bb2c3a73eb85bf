// Package faceclient talks to an external face recognition service and
// exposes it as a face.Encoder and face.Detector.
package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"rollcall/internal/face"
)

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client with a generous timeout; face processing can be slow.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

type wireFace struct {
	Box struct {
		Top    int `json:"top"`
		Right  int `json:"right"`
		Bottom int `json:"bottom"`
		Left   int `json:"left"`
	} `json:"box"`
	Encoding []float64 `json:"encoding"`
}

// Encode uploads a single-person photo and returns its encoding. A 422
// response means the service found no face.
func (c *Client) Encode(ctx context.Context, image []byte) (face.Encoding, error) {
	var out struct {
		Encoding []float64 `json:"encoding"`
	}
	if err := c.postImage(ctx, "/encode", image, &out); err != nil {
		return nil, err
	}
	if len(out.Encoding) == 0 {
		return nil, face.ErrNoFace
	}
	return out.Encoding, nil
}

// Detect uploads a classroom photo and returns every face found.
func (c *Client) Detect(ctx context.Context, image []byte) ([]face.DetectedFace, error) {
	var out struct {
		Faces []wireFace `json:"faces"`
	}
	if err := c.postImage(ctx, "/detect", image, &out); err != nil {
		return nil, err
	}

	faces := make([]face.DetectedFace, 0, len(out.Faces))
	for _, f := range out.Faces {
		box := face.BoundingBox{Top: f.Box.Top, Right: f.Box.Right, Bottom: f.Box.Bottom, Left: f.Box.Left}
		if !box.Valid() || len(f.Encoding) == 0 {
			continue
		}
		faces = append(faces, face.DetectedFace{Box: box, Encoding: f.Encoding})
	}
	return faces, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) postImage(ctx context.Context, path string, image []byte, out any) error {
	if len(image) == 0 {
		return fmt.Errorf("%w: empty image", face.ErrDecode)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", "image.jpg")
	if err != nil {
		return err
	}
	if _, err := part.Write(image); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return face.ErrNoFace
	case resp.StatusCode == http.StatusBadRequest:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %s", face.ErrDecode, strings.TrimSpace(string(body)))
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
